package nodes_test

import (
	"testing"

	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/nodes"
)

func usersSelect() (*nodes.TableAlias, *nodes.Select) {
	ua := nodes.NewTableAlias()
	cols := []nodes.ColumnDeclaration{
		{Name: "x", Expr: nodes.NewColumn(ua, "x", nodes.IntType), T: nodes.IntType},
		{Name: "y", Expr: nodes.NewColumn(ua, "y", nodes.IntType), T: nodes.IntType},
	}
	return ua, nodes.NewSelect(nodes.NewTableAlias(), cols, nodes.NewTable(ua, "users"), nil)
}

func TestProjectColumns(t *testing.T) {
	t.Parallel()
	a, n := nodes.NewTableAlias(), nodes.NewTableAlias()
	row := nodes.NewRecord("Row",
		nodes.Field{Name: "Name", Expr: nodes.NewColumn(a, "name", nodes.StringType)},
		nodes.Field{Name: "Up", Expr: nodes.NewBinary(nodes.OpAdd, nodes.NewColumn(a, "x", nodes.IntType), nodes.NewConstant(1))},
		nodes.Field{Name: "Again", Expr: nodes.NewColumn(a, "name", nodes.StringType)},
	)

	pc := nodes.ProjectColumns(row, nil, n, a)
	testutil.AssertFormat(t, pc.Projector, "Row{Name: t0.name, Up: t0.Up, Again: t0.name}")
	testutil.AssertEqual(t, len(pc.Columns), 2)
	testutil.AssertEqual(t, pc.Columns[0].Name, "name")
	testutil.AssertEqual(t, pc.Columns[1].Name, "Up")
	testutil.AssertFormat(t, pc.Columns[1].Expr, "(t0.x + 1)")
}

func TestProjectColumnsKeepsCorrelations(t *testing.T) {
	t.Parallel()
	a, outer, n := nodes.NewTableAlias(), nodes.NewTableAlias(), nodes.NewTableAlias()
	pred := nodes.Gt(nodes.NewColumn(a, "x", nodes.IntType), nodes.NewColumn(outer, "y", nodes.IntType))

	pc := nodes.ProjectColumns(pred, nil, n, a)
	testutil.AssertFormat(t, pc.Projector, "(t0.x > t1.y)")
	testutil.AssertEqual(t, len(pc.Columns), 1)
	testutil.AssertEqual(t, pc.Columns[0].Name, "x")
	if !nodes.ReferencedAliases(pc.Projector)[outer] {
		t.Error("expected the correlated reference to stay in place")
	}
}

func TestProjectColumnsReusesExisting(t *testing.T) {
	t.Parallel()
	a, n := nodes.NewTableAlias(), nodes.NewTableAlias()
	existing := []nodes.ColumnDeclaration{{Name: "k", Expr: nodes.NewColumn(a, "x", nodes.IntType), T: nodes.IntType}}

	pc := nodes.ProjectColumns(nodes.NewColumn(a, "x", nodes.IntType), existing, n, a)
	testutil.AssertFormat(t, pc.Projector, "t0.k")
	testutil.AssertEqual(t, len(pc.Columns), 1)
}

func TestAvailableColumnName(t *testing.T) {
	t.Parallel()
	cols := []nodes.ColumnDeclaration{{Name: "x"}, {Name: "x1"}, {Name: "y"}}
	testutil.AssertEqual(t, nodes.AvailableColumnName(cols, "x"), "x2")
	testutil.AssertEqual(t, nodes.AvailableColumnName(cols, "z"), "z")
	testutil.AssertEqual(t, nodes.AvailableColumnName(cols, ""), "c")
}

func TestAddRedundantSelect(t *testing.T) {
	t.Parallel()
	_, s := usersSelect()
	inner := nodes.NewTableAlias()
	out := s.AddRedundantSelect(inner)
	testutil.AssertEqual(t, out.Alias, s.Alias)
	testutil.AssertEqual(t, out.From.(*nodes.Select).Alias, inner)
	testutil.AssertFormat(t, out, "(SELECT t0.x AS x, t0.y AS y FROM (SELECT t1.x AS x, t1.y AS y FROM users AS t1) AS t0) AS t2")
}

func TestSelectEditing(t *testing.T) {
	t.Parallel()
	ua, s := usersSelect()
	z := nodes.NewColumn(ua, "z", nodes.IntType)
	added := s.AddColumn(nodes.ColumnDeclaration{Name: "z", Expr: z, T: nodes.IntType})
	testutil.AssertEqual(t, len(added.Columns), 3)
	testutil.AssertEqual(t, len(s.Columns), 2)

	removed := added.RemoveColumn("x")
	_, ok := removed.ColumnNamed("x")
	testutil.AssertEqual(t, ok, false)
	d, ok := removed.ColumnNamed("z")
	testutil.AssertEqual(t, ok, true)
	testutil.AssertSame(t, d.Expr, z)

	testutil.AssertEqual(t, s.Paged(), false)
	testutil.AssertEqual(t, s.WithTake(nodes.NewConstant(1)).Paged(), true)
}

func TestUpdateSelectIdentity(t *testing.T) {
	t.Parallel()
	_, s := usersSelect()
	same := nodes.UpdateSelect(s, s.Columns, s.From, s.Where, s.OrderBy, s.GroupBy, s.Skip, s.Take, s.Distinct)
	testutil.AssertSame(t, same, s)

	changed := nodes.UpdateSelect(s, s.Columns, s.From, s.Where, s.OrderBy, s.GroupBy, s.Skip, s.Take, true)
	testutil.AssertEqual(t, changed == s, false)
	testutil.AssertEqual(t, changed.Alias, s.Alias)
}

func TestEqualAcrossAliases(t *testing.T) {
	t.Parallel()
	_, a := usersSelect()
	_, b := usersSelect()
	testutil.AssertEqual(t, nodes.Equal(a, b), true)

	ua, c := usersSelect()
	c = c.WithWhere(nodes.Gt(nodes.NewColumn(ua, "x", nodes.IntType), nodes.NewConstant(1)))
	testutil.AssertEqual(t, nodes.Equal(a, c), false)

	x1 := nodes.NewColumn(nodes.NewTableAlias(), "x", nodes.IntType)
	x2 := nodes.NewColumn(nodes.NewTableAlias(), "x", nodes.IntType)
	testutil.AssertEqual(t, nodes.Equal(x1, x2), false)
	testutil.AssertEqual(t, nodes.EqualWithAliases(x1, x2, map[*nodes.TableAlias]*nodes.TableAlias{x1.Alias: x2.Alias}), true)
}

func TestCloneRenamesScopes(t *testing.T) {
	t.Parallel()
	ua, s := usersSelect()
	s = s.WithWhere(nodes.Gt(nodes.NewColumn(ua, "x", nodes.IntType), nodes.NewConstant(1)))

	c := nodes.Clone(s).(*nodes.Select)
	testutil.AssertEqual(t, nodes.Equal(s, c), true)
	testutil.AssertEqual(t, c.Alias == s.Alias, false)
	testutil.AssertEqual(t, nodes.ReferencedAliases(c)[ua], false)
	testutil.AssertEqual(t, nodes.Format(c), nodes.Format(s))
}

func TestMapAliases(t *testing.T) {
	t.Parallel()
	a, b := nodes.NewTableAlias(), nodes.NewTableAlias()
	pred := nodes.Eq(nodes.NewColumn(a, "x", nodes.IntType), nodes.NewColumn(b, "y", nodes.IntType))
	mapped := nodes.MapAliases(pred, b, a)
	refs := nodes.ReferencedAliases(mapped)
	testutil.AssertEqual(t, refs[a], false)
	testutil.AssertEqual(t, refs[b], true)
}

func TestSplitCombine(t *testing.T) {
	t.Parallel()
	a := nodes.NewTableAlias()
	p := func(name string) nodes.Node { return nodes.NewColumn(a, name, nodes.BoolType) }
	tree := nodes.And(nodes.And(p("a"), p("b")), p("c"))

	parts := nodes.Split(tree, nodes.OpAnd)
	testutil.AssertEqual(t, len(parts), 3)
	testutil.AssertFormat(t, nodes.Combine(parts, nodes.OpAnd), "((t0.a AND t0.b) AND t0.c)")
	testutil.AssertEqual(t, nodes.Combine(nil, nodes.OpAnd), nodes.Node(nil))

	b := p("b")
	testutil.AssertSame(t, nodes.AndAlso(nodes.NewConstant(true), b), b)
	testutil.AssertSame(t, nodes.AndAlso(b, nil), b)
}

func TestHasAggregates(t *testing.T) {
	t.Parallel()
	_, s := usersSelect()
	testutil.AssertEqual(t, nodes.HasAggregates(s), false)

	count := nodes.NewAggregate(nodes.AggCount, nil, false)
	counted := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{{Name: "n", Expr: count, T: count.T}}, s, nil)
	testutil.AssertEqual(t, nodes.HasAggregates(counted), true)

	scalar := &nodes.Scalar{Select: counted, T: count.T}
	outer := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{{Name: "n", Expr: scalar, T: count.T}}, nil, nil)
	testutil.AssertEqual(t, nodes.HasAggregates(outer), false)
}
