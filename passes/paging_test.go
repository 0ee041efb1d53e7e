package passes

import (
	"testing"

	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerr"
)

func TestRewriteOrderBy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		build func(ua *nodes.TableAlias, users *nodes.Table) *nodes.Select
		want  string
	}{
		{
			name: "lifts inner ordering through a selected column",
			build: func(ua *nodes.TableAlias, users *nodes.Table) *nodes.Select {
				inner := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, users, nil).
					WithOrderBy([]nodes.Ordering{asc(col(ua, "x"))})
				return passThrough(inner, "x")
			},
			want: "PROJECT[many]((SELECT t0.x AS x FROM (SELECT t1.x AS x FROM users AS t1) AS t0 ORDER BY t0.x ASC) AS t2 => t2.x)",
		},
		{
			name: "declares a column for an unselected ordering",
			build: func(ua *nodes.TableAlias, users *nodes.Table) *nodes.Select {
				inner := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, users, nil).
					WithOrderBy([]nodes.Ordering{asc(col(ua, "y"))})
				return passThrough(inner, "x")
			},
			want: "PROJECT[many]((SELECT t0.x AS x FROM (SELECT t1.x AS x, t1.y AS y FROM users AS t1) AS t0 ORDER BY t0.y ASC) AS t2 => t2.x)",
		},
		{
			name: "outer ordering takes precedence",
			build: func(ua *nodes.TableAlias, users *nodes.Table) *nodes.Select {
				inner := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, users, nil).
					WithOrderBy([]nodes.Ordering{asc(col(ua, "y"))})
				return passThrough(inner, "x").WithOrderBy([]nodes.Ordering{asc(col(inner.Alias, "x"))})
			},
			want: "PROJECT[many]((SELECT t0.x AS x FROM (SELECT t1.x AS x, t1.y AS y FROM users AS t1) AS t0 ORDER BY t0.x ASC, t0.y ASC) AS t2 => t2.x)",
		},
		{
			name: "paged select keeps its ordering",
			build: func(ua *nodes.TableAlias, users *nodes.Table) *nodes.Select {
				inner := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, users, nil).
					WithOrderBy([]nodes.Ordering{asc(col(ua, "x"))}).
					WithTake(lit(5))
				return passThrough(inner, "x")
			},
			want: "PROJECT[many]((SELECT t0.x AS x FROM (SELECT t1.x AS x FROM users AS t1 ORDER BY t1.x ASC TAKE 5) AS t0 ORDER BY t0.x ASC) AS t2 => t2.x)",
		},
		{
			name: "distinct drops inner ordering",
			build: func(ua *nodes.TableAlias, users *nodes.Table) *nodes.Select {
				inner := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, users, nil).
					WithOrderBy([]nodes.Ordering{asc(col(ua, "x"))})
				return passThrough(inner, "x").WithDistinct(true)
			},
			want: "PROJECT[many]((SELECT DISTINCT t0.x AS x FROM (SELECT t1.x AS x FROM users AS t1) AS t0) AS t2 => t2.x)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ua, users := table("users")
			s := tt.build(ua, users)
			p := nodes.NewProjection(s, col(s.Alias, "x"), nodes.ProjectMany)
			testutil.AssertFormat(t, RewriteOrderBy(p), tt.want)
		})
	}
}

func TestRewriteOrderByUnchanged(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, users, nil).
		WithOrderBy([]nodes.Ordering{desc(col(ua, "x"))})
	p := nodes.NewProjection(s, col(s.Alias, "x"), nodes.ProjectMany)
	testutil.AssertSame(t, RewriteOrderBy(p), p)
}

// pagedUsers is SELECT x FROM users WHERE y > 18 ORDER BY x with the
// given paging.
func pagedUsers(skip, take nodes.Node) *nodes.Select {
	ua, users := table("users")
	return nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, users, nodes.Gt(col(ua, "y"), lit(18))).
		WithOrderBy([]nodes.Ordering{asc(col(ua, "x"))}).
		WithSkip(skip).
		WithTake(take)
}

func TestRewriteSkipToRowNumber(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sel  *nodes.Select
		want string
	}{
		{
			name: "skip and take",
			sel:  pagedUsers(lit(10), lit(5)),
			want: "(SELECT t0.x AS x FROM (SELECT t1.x AS x, ROW_NUMBER(ORDER BY t1.x ASC) AS rownumber FROM users AS t1 WHERE (t1.y > 18)) AS t0 WHERE (t0.rownumber BETWEEN 11 AND 15) ORDER BY t0.rownumber ASC) AS t2",
		},
		{
			name: "skip only",
			sel:  pagedUsers(lit(10), nil),
			want: "(SELECT t0.x AS x FROM (SELECT t1.x AS x, ROW_NUMBER(ORDER BY t1.x ASC) AS rownumber FROM users AS t1 WHERE (t1.y > 18)) AS t0 WHERE (t0.rownumber > 10) ORDER BY t0.rownumber ASC) AS t2",
		},
		{
			name: "parameter skip",
			sel:  pagedUsers(nodes.NewParameter("skip", 10), lit(5)),
			want: "(SELECT t0.x AS x FROM (SELECT t1.x AS x, ROW_NUMBER(ORDER BY t1.x ASC) AS rownumber FROM users AS t1 WHERE (t1.y > 18)) AS t0 WHERE (t0.rownumber BETWEEN (@skip + 1) AND (@skip + 5)) ORDER BY t0.rownumber ASC) AS t2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := RewriteSkipToRowNumber(tt.sel)
			testutil.AssertFormat(t, out, tt.want)
			testutil.AssertEqual(t, out.(*nodes.Select).Alias, tt.sel.Alias)
		})
	}
}

func TestRewriteSkipToRowNumberDistinct(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	sel := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("x", col(ua, "x"))}, users, nil).
		WithDistinct(true).
		WithOrderBy([]nodes.Ordering{asc(col(ua, "x"))}).
		WithSkip(lit(10))

	testutil.AssertFormat(t, RewriteSkipToRowNumber(sel), "(SELECT t0.x AS x FROM (SELECT t1.x AS x, ROW_NUMBER(ORDER BY t1.x ASC) AS rownumber FROM (SELECT DISTINCT t2.x AS x FROM users AS t2) AS t1) AS t0 WHERE (t0.rownumber > 10) ORDER BY t0.rownumber ASC) AS t3")
}

func TestRewriteSkipToRowNumberTakeOnly(t *testing.T) {
	t.Parallel()
	sel := pagedUsers(nil, lit(5))
	testutil.AssertSame(t, RewriteSkipToRowNumber(sel), sel)
}

func TestRewriteThreeTopPager(t *testing.T) {
	t.Parallel()
	sel := pagedUsers(lit(10), lit(5))
	out, ok := RewriteThreeTopPager(sel).(*nodes.Select)
	if !ok {
		t.Fatal("expected a select")
	}
	testutil.AssertEqual(t, out.Alias, sel.Alias)
	testutil.AssertEqual(t, out.Skip, nodes.Node(nil))
	testutil.AssertEqual(t, out.Take, nodes.Node(nil))
	testutil.AssertEqual(t, len(out.OrderBy), 1)
	testutil.AssertEqual(t, out.OrderBy[0].Direction, nodes.Asc)

	middle, ok := out.From.(*nodes.Select)
	if !ok {
		t.Fatal("expected the outer select to read a select")
	}
	testutil.AssertEqual(t, middle.OrderBy[0].Direction, nodes.Desc)
	remaining, ok := middle.Take.(*nodes.Scalar)
	if !ok {
		t.Fatalf("expected a row count subquery, got %s", nodes.Format(middle.Take))
	}
	if _, ok := remaining.Select.Columns[0].Expr.(*nodes.Conditional); !ok {
		t.Fatalf("expected a clamped row count, got %s", nodes.Format(remaining.Select.Columns[0].Expr))
	}
	selects := 0
	nodes.Walk(middle.Take, func(x nodes.Node) bool {
		if _, ok := x.(*nodes.Select); ok {
			selects++
		}
		return true
	})
	testutil.AssertEqual(t, selects, 2)

	inner, ok := middle.From.(*nodes.Select)
	if !ok {
		t.Fatal("expected the middle select to read a select")
	}
	testutil.AssertEqual(t, inner.Skip, nodes.Node(nil))
	testutil.AssertFormat(t, inner.Take, "15")
	testutil.AssertFormat(t, inner.Where, "(t0.y > 18)")
}

func TestRewriteThreeTopPagerSkipOnly(t *testing.T) {
	t.Parallel()
	out := RewriteThreeTopPager(pagedUsers(lit(10), nil)).(*nodes.Select)
	inner := out.From.(*nodes.Select).From.(*nodes.Select)
	testutil.AssertEqual(t, inner.Take, nodes.Node(nil))
}

func TestRewriteThreeTopPagerNeedsOrdering(t *testing.T) {
	t.Parallel()
	sel := pagedUsers(nil, lit(5))
	testutil.AssertSame(t, RewriteThreeTopPager(sel), sel)
}

func TestCheckPaging(t *testing.T) {
	t.Parallel()
	testutil.AssertNoError(t, CheckPaging(pagedUsers(lit(10), lit(5))))

	unordered := pagedUsers(lit(10), nil).WithOrderBy(nil)
	err := CheckPaging(nodes.NewProjection(unordered, col(unordered.Alias, "x"), nodes.ProjectMany))
	testutil.AssertErrorAs[*qerr.MalformedQueryError](t, err)
	testutil.AssertEqual(t, qerr.CodeOf(err), qerr.CodeMalformed)
}
