package softdelete

import (
	"strings"
	"testing"

	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins"
)

func selectFrom(from nodes.Node, where nodes.Node) *nodes.Select {
	return nodes.NewSelect(nodes.NewTableAlias(), nil, from, where)
}

// --- Default behaviour ---

func TestDefaultColumnDeletedAt(t *testing.T) {
	t.Parallel()
	s := selectFrom(nodes.NewTable(nodes.NewTableAlias(), "users"), nil)
	result, err := New().TransformSelect(s)
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, result, "(SELECT  FROM users AS t0 WHERE (t0.deleted_at IS NULL)) AS t1")
}

func TestKeepsExistingFilter(t *testing.T) {
	t.Parallel()
	ua := nodes.NewTableAlias()
	s := selectFrom(nodes.NewTable(ua, "users"), nodes.Gt(nodes.NewColumn(ua, "age", nodes.IntType), nodes.NewConstant(18)))
	result, err := New(WithColumn("removed_at")).TransformSelect(s)
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, result.Where, "((t0.age > 18) AND (t0.removed_at IS NULL))")
}

// --- Table restrictions ---

func TestWithTables(t *testing.T) {
	t.Parallel()
	ua, oa := nodes.NewTableAlias(), nodes.NewTableAlias()
	from := nodes.NewJoin(nodes.InnerJoin, nodes.NewTable(ua, "users"), nodes.NewTable(oa, "orders"),
		nodes.Eq(nodes.NewColumn(ua, "id", nodes.IntType), nodes.NewColumn(oa, "user_id", nodes.IntType)))
	result, err := New(WithTables("orders")).TransformSelect(selectFrom(from, nil))
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, result.Where, "(t0.deleted_at IS NULL)")
	testutil.AssertEqual(t, result.Where.(*nodes.Unary).Operand.(*nodes.Column).Alias, oa)
}

func TestPerTableColumns(t *testing.T) {
	t.Parallel()
	ua, pa := nodes.NewTableAlias(), nodes.NewTableAlias()
	from := nodes.NewJoin(nodes.CrossJoin, nodes.NewTable(ua, "users"), nodes.NewTable(pa, "posts"), nil)
	sd := New(WithTableColumn("users", "deleted_at"), WithTableColumn("posts", "removed_at"))
	result, err := sd.TransformSelect(selectFrom(from, nil))
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, result, "(SELECT  FROM (users AS t0 CROSS JOIN posts AS t1) WHERE ((t0.deleted_at IS NULL) AND (t1.removed_at IS NULL))) AS t2")
}

func TestUnmatchedTableIsUnchanged(t *testing.T) {
	t.Parallel()
	s := selectFrom(nodes.NewTable(nodes.NewTableAlias(), "depts"), nil)
	result, err := New(WithTables("users")).TransformSelect(s)
	testutil.AssertNoError(t, err)
	testutil.AssertSame(t, result, s)
}

// --- Outer joins ---

func TestOptionalSideFiltersInJoinCondition(t *testing.T) {
	t.Parallel()
	ua, da := nodes.NewTableAlias(), nodes.NewTableAlias()
	from := nodes.NewJoin(nodes.SingletonLeftOuterJoin, nodes.NewTable(ua, "users"), nodes.NewTable(da, "depts"),
		nodes.Eq(nodes.NewColumn(ua, "dept_id", nodes.IntType), nodes.NewColumn(da, "id", nodes.IntType)))
	result, err := New().TransformSelect(selectFrom(from, nil))
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, result, "(SELECT  FROM (users AS t0 LEFT OUTER JOIN depts AS t1 ON ((t0.dept_id = t1.id) AND (t1.deleted_at IS NULL))) WHERE (t0.deleted_at IS NULL)) AS t2")
}

// --- Mapping driven ---

func TestWithModel(t *testing.T) {
	t.Parallel()
	m, err := mapping.LoadFile("../../mapping/testdata/shop.yaml")
	testutil.AssertNoError(t, err)
	sd := New(WithModel(m))

	users := selectFrom(nodes.NewTable(nodes.NewTableAlias(), "users"), nil)
	result, err := sd.TransformSelect(users)
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, result.Where, "(t0.deleted_at IS NULL)")
	testutil.AssertEqual(t, result.Where.(*nodes.Unary).Operand.Type(), nodes.DateTimeType.Null())

	depts := selectFrom(nodes.NewTable(nodes.NewTableAlias(), "depts"), nil)
	result, err = sd.TransformSelect(depts)
	testutil.AssertNoError(t, err)
	testutil.AssertSame(t, result, depts)
}

func TestApplyThroughPlugins(t *testing.T) {
	t.Parallel()
	ua := nodes.NewTableAlias()
	inner := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{
		{Name: "id", Expr: nodes.NewColumn(ua, "id", nodes.IntType), T: nodes.IntType},
	}, nodes.NewTable(ua, "users"), nil)
	outer := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{
		{Name: "id", Expr: nodes.NewColumn(inner.Alias, "id", nodes.IntType), T: nodes.IntType},
	}, inner, nil)

	out, err := plugins.Apply(outer, New())
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, out, "(SELECT t0.id AS id FROM (SELECT t1.id AS id FROM users AS t1 WHERE (t1.deleted_at IS NULL)) AS t0) AS t2")
}

func TestCacheKey(t *testing.T) {
	t.Parallel()
	a := New(WithTableColumn("users", "deleted_at")).CacheKey()
	b := New(WithTableColumn("users", "removed_at")).CacheKey()
	if a == b {
		t.Error("expected different keys for different columns")
	}
	if !strings.Contains(b, "users=removed_at") {
		t.Errorf("unexpected key %q", b)
	}
}
