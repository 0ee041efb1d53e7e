package opa

import (
	"errors"
	"testing"

	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins"
)

func tenantPolicy(ref plugins.TableRef) ([]nodes.Node, error) {
	switch ref.Name {
	case "secrets":
		return nil, errors.New("access denied")
	case "users":
		return []nodes.Node{nodes.Eq(nodes.NewColumn(ref.Alias, "tenant_id", nodes.Int64Type), nodes.NewConstant(42))}, nil
	}
	return nil, nil
}

func usersSelect() (*nodes.Select, *nodes.TableAlias) {
	ua := nodes.NewTableAlias()
	cols := []nodes.ColumnDeclaration{
		{Name: "id", Expr: nodes.NewColumn(ua, "id", nodes.Int64Type), T: nodes.Int64Type},
		{Name: "name", Expr: nodes.NewColumn(ua, "name", nodes.StringType), T: nodes.StringType},
	}
	return nodes.NewSelect(nodes.NewTableAlias(), cols, nodes.NewTable(ua, "users"), nil), ua
}

func TestPolicyFuncAddsWhere(t *testing.T) {
	t.Parallel()
	s, _ := usersSelect()
	result, err := New(tenantPolicy).TransformSelect(s)
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, result.Where, "(t0.tenant_id = 42)")
}

func TestPolicyFuncKeepsExistingWhere(t *testing.T) {
	t.Parallel()
	s, ua := usersSelect()
	s = s.WithWhere(nodes.Gt(nodes.NewColumn(ua, "age", nodes.IntType), nodes.NewConstant(18)))
	result, err := New(tenantPolicy).TransformSelect(s)
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, result.Where, "((t0.age > 18) AND (t0.tenant_id = 42))")
}

func TestPolicyFuncDenies(t *testing.T) {
	t.Parallel()
	s := nodes.NewSelect(nodes.NewTableAlias(), nil, nodes.NewTable(nodes.NewTableAlias(), "secrets"), nil)
	_, err := New(tenantPolicy).TransformSelect(s)
	testutil.AssertError(t, err)
}

func TestPolicyFuncUnmatchedTableIsUnchanged(t *testing.T) {
	t.Parallel()
	s := nodes.NewSelect(nodes.NewTableAlias(), nil, nodes.NewTable(nodes.NewTableAlias(), "depts"), nil)
	result, err := New(tenantPolicy).TransformSelect(s)
	testutil.AssertNoError(t, err)
	testutil.AssertSame(t, result, s)
}

func TestPolicyOnOuterJoinGoesToJoinCondition(t *testing.T) {
	t.Parallel()
	da, ua := nodes.NewTableAlias(), nodes.NewTableAlias()
	from := nodes.NewJoin(nodes.LeftOuterJoin, nodes.NewTable(da, "depts"), nodes.NewTable(ua, "users"),
		nodes.Eq(nodes.NewColumn(da, "id", nodes.Int64Type), nodes.NewColumn(ua, "dept_id", nodes.Int64Type)))
	s := nodes.NewSelect(nodes.NewTableAlias(), nil, from, nil)

	result, err := New(tenantPolicy).TransformSelect(s)
	testutil.AssertNoError(t, err)
	if result.Where != nil {
		t.Errorf("expected no WHERE, got %s", nodes.Format(result.Where))
	}
	testutil.AssertFormat(t, result.From.(*nodes.Join).Condition, "((t0.id = t1.dept_id) AND (t1.tenant_id = 42))")
}

func TestServerConditionsAndMasks(t *testing.T) {
	t.Parallel()
	f := &fakeOPA{
		compile: `{"result": {"queries": [[{"index": 0, "terms": [
			{"type": "ref", "value": [{"type": "var", "value": "eq"}]},
			{"type": "ref", "value": [{"type": "var", "value": "data"}, {"type": "string", "value": "users"}, {"type": "var", "value": "$0"}, {"type": "string", "value": "dept_id"}]},
			{"type": "number", "value": 3}
		]}]]}}`,
		masks: `{"result": {"users": {"name": {"replace": {"value": "***"}}}}}`,
	}
	srv := f.server(t)

	m, err := mapping.LoadFile("../../mapping/testdata/shop.yaml")
	testutil.AssertNoError(t, err)
	o := NewFromServer(srv.URL, "authz.allow", map[string]any{"tenant": 1}, WithModel(m))

	s, _ := usersSelect()
	result, err := o.TransformSelect(s)
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, result.Where, "(t0.dept_id = 3)")
	// dept_id is int64? in the mapping.
	testutil.AssertEqual(t, result.Where.(*nodes.Binary).Left.(*nodes.Column).T, nodes.Int64Type.Null())

	testutil.AssertFormat(t, result.Columns[1].Expr, "'***'")
	testutil.AssertEqual(t, result.Columns[1].Name, "name")
	if _, ok := result.Columns[0].Expr.(*nodes.Column); !ok {
		t.Errorf("id should not be masked, got %s", nodes.Format(result.Columns[0].Expr))
	}
	if _, ok := s.Columns[1].Expr.(*nodes.Column); !ok {
		t.Error("the input select must not be modified")
	}
}

func TestCacheKey(t *testing.T) {
	t.Parallel()
	a := NewFromServer("http://opa:8181", "authz.allow", map[string]any{"tenant": 1})
	b := NewFromServer("http://opa:8181", "authz.allow", map[string]any{"tenant": 2})
	if a.CacheKey() == b.CacheKey() {
		t.Error("different inputs must give different cache keys")
	}
	testutil.AssertEqual(t, New(tenantPolicy, WithCacheKey("tenant")).CacheKey(), "func:tenant")
	if plugins.Key(a) == plugins.Key(b) {
		t.Error("plugins.Key must include the cache key")
	}
}
