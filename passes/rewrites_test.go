package passes

import (
	"testing"

	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/nodes"
)

func TestRewriteComparisons(t *testing.T) {
	t.Parallel()
	a := nodes.NewTableAlias()
	x, y := nullCol(a, "x"), nullCol(a, "y")

	tests := []struct {
		name string
		in   nodes.Node
		want string
	}{
		{"equal to null", nodes.Eq(x, lit(nil)), "(t0.x IS NULL)"},
		{"null not equal", nodes.NotEq(lit(nil), x), "(t0.x IS NOT NULL)"},
		{"both nullable equal", nodes.Eq(x, y), "(t0.x <=> t0.y)"},
		{"nullable not equal value", nodes.NotEq(x, lit(1)), "((t0.x <> 1) OR (t0.x IS NULL))"},
		{"value not equal nullable", nodes.NotEq(lit(1), x), "((1 <> t0.x) OR (t0.x IS NULL))"},
		{
			"both nullable not equal",
			nodes.NotEq(x, y),
			"(((t0.x <> t0.y) OR ((t0.x IS NULL) AND (t0.y IS NOT NULL))) OR ((t0.x IS NOT NULL) AND (t0.y IS NULL)))",
		},
		{"nullable equal nil parameter", nodes.Eq(x, nodes.NewParameter("d", nil)), "(t0.x <=> @d)"},
		{"nullable not equal nil parameter", nodes.NotEq(x, nodes.NewParameter("d", nil)),
			"(((t0.x <> @d) OR ((t0.x IS NULL) AND (@d IS NOT NULL))) OR ((t0.x IS NOT NULL) AND (@d IS NULL)))"},
		{"nullable equal parameter", nodes.Eq(x, nodes.NewParameter("d", 3)), "(t0.x = @d)"},
		{"not equal written as not", nodes.Not(nodes.Eq(x, lit(1))), "((t0.x <> 1) OR (t0.x IS NULL))"},
		{"not equal to null written as not", nodes.Not(nodes.Eq(x, lit(nil))), "(t0.x IS NOT NULL)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			testutil.AssertFormat(t, RewriteComparisons(tt.in), tt.want)
		})
	}
}

func TestRewriteComparisonsUnchanged(t *testing.T) {
	t.Parallel()
	a := nodes.NewTableAlias()
	for _, in := range []nodes.Node{
		nodes.Eq(col(a, "x"), lit(1)),
		nodes.Eq(nullCol(a, "x"), lit(1)),
		nodes.NotEq(col(a, "x"), col(a, "y")),
		nodes.Gt(nullCol(a, "x"), nullCol(a, "y")),
		nodes.Not(nodes.Eq(col(a, "x"), lit(1))),
	} {
		testutil.AssertSame(t, RewriteComparisons(in), in)
	}
}

func countUsers() (*nodes.Projection, *nodes.Select) {
	_, users := table("users")
	count := nodes.NewAggregate(nodes.AggCount, nil, false)
	inner := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("value", count)}, users, nil)
	scalar := &nodes.Scalar{Select: inner, T: count.T}
	outer := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("value", scalar)}, nil, nil)
	return nodes.NewProjection(outer, nodes.NewColumn(outer.Alias, "value", count.T), nodes.ProjectSingle), inner
}

func TestRewriteSingletonProjections(t *testing.T) {
	t.Parallel()
	p, inner := countUsers()
	out := RewriteSingletonProjections(p)
	testutil.AssertFormat(t, out, "PROJECT[single]((SELECT COUNT(*) AS value FROM users AS t0) AS t1 => t1.value)")
	testutil.AssertEqual(t, out.(*nodes.Projection).Select, inner)
}

func TestRewriteSingletonProjectionsNeedsSingleton(t *testing.T) {
	t.Parallel()
	p, _ := countUsers()
	many := nodes.NewProjection(p.Select, p.Projector, nodes.ProjectMany)
	testutil.AssertSame(t, RewriteSingletonProjections(many), many)
}

func TestParameterize(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	where := nodes.And(nodes.And(nodes.Gt(col(ua, "x"), lit(5)), nodes.Eq(col(ua, "name"), lit("bob"))), nodes.Lt(col(ua, "y"), lit(5)))
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{
		decl("x", col(ua, "x")),
		decl("c", lit("k")),
	}, users, where).WithTake(lit(10))
	row := nodes.NewRecord("Row",
		nodes.Field{Name: "x", Expr: col(s.Alias, "x")},
		nodes.Field{Name: "n", Expr: lit(3)},
	)
	p := nodes.NewProjection(s, row, nodes.ProjectMany)

	testutil.AssertFormat(t, Parameterize(p), "PROJECT[many]((SELECT t0.x AS x, @p2 AS c FROM users AS t0 WHERE (((t0.x > @p0) AND (t0.name = @p1)) AND (t0.y < @p0)) TAKE 10) AS t1 => Row{x: t1.x, n: 3})")
}

func TestParameterizeKeepsLiterals(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	where := nodes.And(nodes.Eq(col(ua, "active"), lit(true)), nodes.NewBinary(nodes.OpGt, col(ua, "x"), nodes.NewParameter("p0", 1)))
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, users, where).
		WithOrderBy([]nodes.Ordering{asc(col(ua, "x"))}).
		WithSkip(lit(20))
	testutil.AssertSame(t, Parameterize(s), s)
}

func TestParameterizeAvoidsTakenNames(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	where := nodes.And(nodes.Gt(col(ua, "x"), nodes.NewParameter("p0", 1)), nodes.Lt(col(ua, "y"), lit(5)))
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, users, where)

	testutil.AssertFormat(t, Parameterize(s), "(SELECT t0.x AS x FROM users AS t0 WHERE ((t0.x > @p0) AND (t0.y < @p1))) AS t1")
}

func groupByDept() (*nodes.TableAlias, *nodes.Select) {
	ua, users := table("users")
	return ua, nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("k", col(ua, "dept_id"))}, users, nil).
		WithGroupBy([]nodes.Node{col(ua, "dept_id")})
}

func TestRewriteAggregates(t *testing.T) {
	t.Parallel()
	_, g := groupByDept()
	agg := &nodes.AggregateSubquery{GroupAlias: g.Alias, Aggregate: nodes.NewAggregate(nodes.AggCount, nil, false)}
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{
		decl("k", col(g.Alias, "k")),
		decl("n", agg),
	}, g, nil)

	testutil.AssertFormat(t, RewriteAggregates(s), "(SELECT t0.k AS k, t0.agg AS n FROM (SELECT t1.dept_id AS k, COUNT(*) AS agg FROM users AS t1 GROUP BY t1.dept_id) AS t0) AS t2")
}

func TestRewriteAggregatesThroughLayers(t *testing.T) {
	t.Parallel()
	_, g := groupByDept()
	mid := passThrough(g, "k")
	agg := &nodes.AggregateSubquery{GroupAlias: g.Alias, Aggregate: nodes.NewAggregate(nodes.AggCount, nil, false)}
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{
		decl("k", col(mid.Alias, "k")),
		decl("n", agg),
	}, mid, nil)

	testutil.AssertFormat(t, RewriteAggregates(s), "(SELECT t0.k AS k, t0.agg AS n FROM (SELECT t1.k AS k, t1.agg AS agg FROM (SELECT t2.dept_id AS k, COUNT(*) AS agg FROM users AS t2 GROUP BY t2.dept_id) AS t1) AS t0) AS t3")
}

func TestRewriteAggregatesDropsSourceOrdering(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	inner := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, users, nil).
		WithOrderBy([]nodes.Ordering{asc(col(ua, "x"))})
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("value", nodes.NewAggregate(nodes.AggCount, nil, false))}, inner, nil)

	testutil.AssertFormat(t, RewriteAggregates(s), "(SELECT COUNT(*) AS value FROM (SELECT t0.x AS x FROM users AS t0) AS t1) AS t2")

	paged := s.WithFrom(inner.WithTake(lit(3)))
	testutil.AssertSame(t, RewriteAggregates(paged), paged)
}

func TestRewriteCrossApplies(t *testing.T) {
	t.Parallel()
	correlated := func(kind nodes.JoinKind) nodes.Node {
		ua, users := table("users")
		da, depts := table("depts")
		right := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("name", col(da, "name"))}, depts, nodes.Eq(col(da, "id"), col(ua, "dept_id")))
		return nodes.NewJoin(kind, users, right, nil)
	}
	tests := []struct {
		name string
		in   func() nodes.Node
		want string
	}{
		{
			name: "applied table",
			in: func() nodes.Node {
				_, users := table("users")
				_, depts := table("depts")
				return nodes.NewJoin(nodes.CrossApply, users, depts, nil)
			},
			want: "(users AS t0 CROSS JOIN depts AS t1)",
		},
		{
			name: "cross apply with a correlated filter",
			in:   func() nodes.Node { return correlated(nodes.CrossApply) },
			want: "(users AS t0 INNER JOIN (SELECT t1.name AS name, t1.id AS id FROM depts AS t1) AS t2 ON (t2.id = t0.dept_id))",
		},
		{
			name: "outer apply with a correlated filter",
			in:   func() nodes.Node { return correlated(nodes.OuterApply) },
			want: "(users AS t0 LEFT OUTER JOIN (SELECT t1.name AS name, t1.id AS id FROM depts AS t1) AS t2 ON (t2.id = t0.dept_id))",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			testutil.AssertFormat(t, RewriteCrossApplies(tt.in()), tt.want)
		})
	}
}

func TestRewriteCrossAppliesKeepsDependentApply(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	da, depts := table("depts")
	right := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{
		decl("name", col(da, "name")),
		decl("uid", col(ua, "id")),
	}, depts, nil)
	j := nodes.NewJoin(nodes.CrossApply, users, right, nil)
	testutil.AssertSame(t, RewriteCrossApplies(j), j)
}

func TestRewriteCrossJoins(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	da, depts := table("depts")
	where := nodes.And(nodes.Eq(col(ua, "dept_id"), col(da, "id")), nodes.Gt(col(ua, "x"), lit(1)))
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, nodes.NewJoin(nodes.CrossJoin, users, depts, nil), where)

	testutil.AssertFormat(t, RewriteCrossJoins(s), "(SELECT t0.x AS x FROM (users AS t0 INNER JOIN depts AS t1 ON (t0.dept_id = t1.id)) WHERE (t0.x > 1)) AS t2")
}

func TestRewriteCrossJoinsUnrelatedFilter(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	_, depts := table("depts")
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, nodes.NewJoin(nodes.CrossJoin, users, depts, nil), nodes.Gt(col(ua, "x"), lit(1)))
	testutil.AssertSame(t, RewriteCrossJoins(s), s)
}

func TestIsolateCrossJoins(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	da, depts := table("depts")
	oa, orders := table("orders")
	cross := nodes.NewJoin(nodes.CrossJoin, users, depts, nil)
	join := nodes.NewJoin(nodes.InnerJoin, cross, orders, nodes.Eq(col(oa, "user_id"), col(ua, "id")))
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{
		decl("x", col(ua, "x")),
		decl("dept", col(da, "name")),
		decl("total", col(oa, "total")),
	}, join, nil)

	out := IsolateCrossJoins(s).(*nodes.Select)
	outerJoin, ok := out.From.(*nodes.Join)
	if !ok || outerJoin.JoinKind != nodes.InnerJoin {
		t.Fatalf("expected an inner join, got %s", nodes.Format(out.From))
	}
	sub, ok := outerJoin.Left.(*nodes.Select)
	if !ok {
		t.Fatalf("expected the cross join in its own select, got %s", nodes.Format(outerJoin.Left))
	}
	if j, ok := sub.From.(*nodes.Join); !ok || j.JoinKind != nodes.CrossJoin {
		t.Fatalf("expected a cross join inside, got %s", nodes.Format(sub.From))
	}
	refs := nodes.ReferencedAliases(outerJoin.Condition)
	testutil.AssertEqual(t, refs[ua], false)
	testutil.AssertEqual(t, refs[sub.Alias], true)
	testutil.AssertEqual(t, out.Columns[0].Expr.(*nodes.Column).Alias, sub.Alias)
	testutil.AssertEqual(t, out.Columns[1].Expr.(*nodes.Column).Alias, sub.Alias)
	testutil.AssertEqual(t, out.Columns[2].Expr.(*nodes.Column).Alias, oa)
}

func TestIsolateCrossJoinsUniformJoins(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	_, depts := table("depts")
	_, orders := table("orders")
	join := nodes.NewJoin(nodes.CrossJoin, nodes.NewJoin(nodes.CrossJoin, users, depts, nil), orders, nil)
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, join, nil)
	testutil.AssertSame(t, IsolateCrossJoins(s), s)
}

// usersWithOrders is users projected with their orders as a nested
// collection filtered by pred.
func usersWithOrders(pred func(user *nodes.Column, oa *nodes.TableAlias) nodes.Node) (*nodes.Projection, *nodes.Column) {
	ua, users := table("users")
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("Id", col(ua, "id"))}, users, nil)
	userID := col(s.Alias, "Id")
	oa, orders := table("orders")
	o := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("total", col(oa, "total"))}, orders, pred(userID, oa))
	nested := nodes.NewProjection(o, col(o.Alias, "total"), nodes.ProjectMany)
	row := nodes.NewRecord("User",
		nodes.Field{Name: "Id", Expr: col(s.Alias, "Id")},
		nodes.Field{Name: "Orders", Expr: nested},
	)
	return nodes.NewProjection(s, row, nodes.ProjectMany), userID
}

func TestRewriteClientJoins(t *testing.T) {
	t.Parallel()
	p, userID := usersWithOrders(func(user *nodes.Column, oa *nodes.TableAlias) nodes.Node {
		return nodes.And(nodes.Eq(col(oa, "user_id"), user), nodes.Gt(col(oa, "total"), lit(0)))
	})

	out := RewriteClientJoins(p).(*nodes.Projection)
	orders, _ := out.Projector.(*nodes.Record).Lookup("Orders")
	cj, ok := orders.(*nodes.ClientJoin)
	if !ok {
		t.Fatalf("expected a client join, got %s", nodes.Format(orders))
	}
	testutil.AssertEqual(t, len(cj.OuterKey), 1)
	testutil.AssertSame(t, cj.OuterKey[0], userID)
	testutil.AssertFormat(t, cj.InnerKey[0], "t0.key")

	inner := cj.Projection.Select
	testutil.AssertEqual(t, nodes.ReferencedAliases(inner)[p.Select.Alias], false)
	terms := nodes.Split(inner.Where, nodes.OpAnd)
	testutil.AssertEqual(t, len(terms), 2)
	testutil.AssertFormat(t, terms[0], "(t0.total > 0)")
	if _, ok := terms[1].(*nodes.Exists); !ok {
		t.Fatalf("expected the correlation in an EXISTS, got %s", nodes.Format(terms[1]))
	}
	key, ok := inner.ColumnNamed("key")
	if !ok {
		t.Fatal("expected the inner key to be selected")
	}
	testutil.AssertFormat(t, key.Expr, "t0.user_id")
}

func TestRewriteClientJoinsWithoutKey(t *testing.T) {
	t.Parallel()
	p, _ := usersWithOrders(func(user *nodes.Column, oa *nodes.TableAlias) nodes.Node {
		return nodes.Gt(col(oa, "total"), user)
	})
	testutil.AssertSame(t, RewriteClientJoins(p), p)
}
