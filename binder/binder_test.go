package binder

import (
	"testing"

	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerr"
	"github.com/bawdo/relq/query"
)

func shop(t *testing.T) *mapping.Model {
	t.Helper()
	m, err := mapping.LoadFile("../mapping/testdata/shop.yaml")
	testutil.AssertNoError(t, err)
	return m
}

// bindAll runs the binder and the relationship binder like the compiler
// does.
func bindAll(t *testing.T, m *mapping.Model, q query.Query) nodes.Node {
	t.Helper()
	p, err := Bind(q, m)
	testutil.AssertNoError(t, err)
	out, err := BindRelationships(p, m)
	testutil.AssertNoError(t, err)
	return out
}

func hasJoin(n nodes.Node, kind nodes.JoinKind) bool {
	return nodes.Contains(n, func(x nodes.Node) bool {
		j, ok := x.(*nodes.Join)
		return ok && j.JoinKind == kind
	})
}

func TestBindWhere(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.From("Dept").Where(nodes.Eq(query.F("Name"), query.V("x"))), m)
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, p, "PROJECT[many]((SELECT t0.Id AS Id, t0.Name AS Name FROM (SELECT t1.id AS Id, t1.name AS Name FROM depts AS t1) AS t0 WHERE (t0.Name = 'x')) AS t2 => Dept{Id: t2.Id, Name: t2.Name})")
}

func TestBindWhereTrueAddsNoLayer(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.From("Dept").Where(query.V(true)).Where(nodes.Eq(query.F("Name"), query.V("x"))), m)
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, p, "PROJECT[many]((SELECT t0.Id AS Id, t0.Name AS Name FROM (SELECT t1.id AS Id, t1.name AS Name FROM depts AS t1) AS t0 WHERE (t0.Name = 'x')) AS t2 => Dept{Id: t2.Id, Name: t2.Name})")
}

func TestBindSelectScalar(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.From("Dept").Select(query.F("Name")), m)
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, p, "PROJECT[many]((SELECT t0.Name AS Name FROM (SELECT t1.id AS Id, t1.name AS Name FROM depts AS t1) AS t0) AS t2 => t2.Name)")
}

func TestBindRangeQualifiedMember(t *testing.T) {
	t.Parallel()
	m := shop(t)
	_, err := Bind(query.From("Dept", "d").Where(nodes.Eq(query.F("d.Name"), query.V("x"))), m)
	testutil.AssertNoError(t, err)
}

func TestBindErrors(t *testing.T) {
	t.Parallel()
	m := shop(t)
	tests := []struct {
		name string
		q    query.Query
		code qerr.Code
	}{
		{"unknown entity", query.From("Nope"), qerr.CodeBinding},
		{"unknown member", query.From("User").Where(nodes.Gt(query.F("Nope"), query.V(1))), qerr.CodeBinding},
		{"unknown relation path", query.From("User").Select(query.F("Nope.Name")), qerr.CodeBinding},
		{"aggregate outside group", query.From("User").Select(query.Agg("count")), qerr.CodeBinding},
		{"ambiguous join member", query.From("User", "u").Join("Dept", "d").On(query.F("DeptId"), query.F("d.Id")).Select(query.F("Name")), qerr.CodeBinding},
		{"then_by first", query.From("User").ThenBy(query.F("Name")), qerr.CodeMalformed},
		{"operator after count", query.From("User").Count().Take(1), qerr.CodeMalformed},
		{"skip without orderable fields", query.From("User").Select(query.Fields(query.F("Orders"))).Skip(1), qerr.CodeMalformed},
		{"unknown include", query.From("User").Include("Nope"), qerr.CodeBinding},
		{"sum without argument field", query.From("User").Select(query.Agg("sum", query.F("Orders"))), qerr.CodeBinding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Bind(tt.q, m)
			testutil.AssertError(t, err)
			testutil.AssertEqual(t, qerr.CodeOf(err), tt.code)
		})
	}
}

func TestSkipInjectsKeyOrdering(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.From("User").Skip(10), m)
	testutil.AssertNoError(t, err)
	if p.Select.Skip == nil {
		t.Fatal("skip was not applied")
	}
	ordered, ok := p.Select.From.(*nodes.Select)
	if !ok || len(ordered.OrderBy) != 1 {
		t.Fatalf("expected an ordering layer under the skip, got %s", nodes.Format(p.Select.From))
	}
	col := ordered.OrderBy[0].Expr.(*nodes.Column)
	testutil.AssertEqual(t, col.Name, "Id")
}

func TestSkipKeepsExplicitOrdering(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.From("User").OrderBy(query.F("Name")).ThenByDesc(query.F("Age")).Skip(10).Take(5), m)
	testutil.AssertNoError(t, err)
	skip := p.Select.From.(*nodes.Select)
	ordered := skip.From.(*nodes.Select)
	testutil.AssertEqual(t, len(ordered.OrderBy), 2)
	testutil.AssertEqual(t, ordered.OrderBy[0].Expr.(*nodes.Column).Name, "Name")
	testutil.AssertEqual(t, ordered.OrderBy[1].Direction, nodes.Desc)
}

func TestScalarNavigationBecomesJoin(t *testing.T) {
	t.Parallel()
	m := shop(t)
	n := bindAll(t, m, query.From("User").Where(nodes.Eq(query.F("Dept.Name"), query.V("Sales"))))
	if !hasJoin(n, nodes.SingletonLeftOuterJoin) {
		t.Errorf("expected a singleton left join, got %s", nodes.Format(n))
	}
	if nodes.Contains(n, isNavigation) {
		t.Error("navigation left in the tree")
	}
}

func TestNavigationInProjector(t *testing.T) {
	t.Parallel()
	m := shop(t)
	n := bindAll(t, m, query.From("User").Select(query.Fields(query.F("Name"), "Dept", query.F("Dept.Name"))))
	p := n.(*nodes.Projection)
	if !hasJoin(p.Select, nodes.SingletonLeftOuterJoin) {
		t.Errorf("expected the projection select to join Dept, got %s", nodes.Format(p.Select))
	}
	rec := p.Projector.(*nodes.Record)
	dept, _ := rec.Lookup("Dept")
	if _, ok := dept.(*nodes.Column); !ok {
		t.Errorf("expected Dept to read a column, got %s", nodes.Format(dept))
	}
}

func TestCollectionNavigationInProjector(t *testing.T) {
	t.Parallel()
	m := shop(t)
	n := bindAll(t, m, query.From("User").Select(query.Fields(query.F("Name"), query.F("Orders"))))
	rec := n.(*nodes.Projection).Projector.(*nodes.Record)
	orders, _ := rec.Lookup("Orders")
	nested, ok := orders.(*nodes.Projection)
	if !ok {
		t.Fatalf("expected a nested projection, got %s", nodes.Format(orders))
	}
	testutil.AssertEqual(t, nested.Aggregator, nodes.ProjectMany)
	if nested.Select.Where == nil {
		t.Error("nested projection must correlate with the outer row")
	}
}

func TestCollectionNavigationInFilterFails(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.From("User").Where(nodes.Eq(query.F("Orders"), query.V(1))), m)
	testutil.AssertNoError(t, err)
	_, err = BindRelationships(p, m)
	testutil.AssertErrorAs[*qerr.BindingError](t, err)
}

func TestCollectionAggregate(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.From("User").Select(query.Fields(
		query.F("Name"),
		"Orders", query.Agg("count", query.F("Orders")),
		"Spent", query.Agg("sum", query.F("Orders.Total")),
	)), m)
	testutil.AssertNoError(t, err)
	scalars := 0
	for _, d := range p.Select.Columns {
		if _, ok := d.Expr.(*nodes.Scalar); ok {
			scalars++
		}
	}
	testutil.AssertEqual(t, scalars, 2)
}

func TestExistsOverCollection(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.From("User").Where(query.Call("exists", query.F("Orders"))), m)
	testutil.AssertNoError(t, err)
	if _, ok := p.Select.Where.(*nodes.Exists); !ok {
		t.Errorf("expected EXISTS, got %s", nodes.Format(p.Select.Where))
	}
}

func TestGroupByAggregates(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.From("User").
		GroupBy(query.F("DeptId")).
		Select(query.Fields("Dept", query.F("Key"), "Count", query.Agg("count"), "Oldest", query.Agg("max", query.F("Age")))), m)
	testutil.AssertNoError(t, err)
	group := p.Select.From.(*nodes.Select)
	testutil.AssertEqual(t, len(group.GroupBy), 1)
	aggs := 0
	for _, d := range p.Select.Columns {
		if sub, ok := d.Expr.(*nodes.AggregateSubquery); ok {
			aggs++
			if sub.GroupAlias != group.Alias {
				t.Error("aggregate must refer to the grouping select")
			}
		}
	}
	testutil.AssertEqual(t, aggs, 2)
}

func TestGroupByThroughRelation(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.From("User").GroupBy(query.F("Dept.Name")).Select(query.F("Key")), m)
	testutil.AssertNoError(t, err)
	group := p.Select.From.(*nodes.Select)
	if !hasJoin(group.From, nodes.SingletonLeftOuterJoin) {
		t.Errorf("expected Dept to be joined below the grouping, got %s", nodes.Format(group.From))
	}
	if nodes.Contains(p, isNavigation) {
		t.Error("navigation left in the tree")
	}
}

func TestGroupItemsAreNested(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.From("User").GroupBy(query.F("DeptId")), m)
	testutil.AssertNoError(t, err)
	rec := p.Projector.(*nodes.Record)
	items, _ := rec.Lookup("Items")
	if _, ok := items.(*nodes.Projection); !ok {
		t.Errorf("expected Items to be a nested projection, got %s", nodes.Format(items))
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()
	m := shop(t)
	n := bindAll(t, m, query.From("User", "u").
		Join("Dept", "d").On(query.F("DeptId"), query.F("d.Id")).
		Select(query.Fields("User", query.F("u.Name"), "Dept", query.F("d.Name"))))
	if !hasJoin(n, nodes.InnerJoin) {
		t.Errorf("expected an inner join, got %s", nodes.Format(n))
	}
}

func TestSelectManyIsCrossApply(t *testing.T) {
	t.Parallel()
	m := shop(t)
	n := bindAll(t, m, query.From("User").SelectMany("Orders", "o").Select(query.F("o.Total")))
	if !hasJoin(n, nodes.CrossApply) {
		t.Errorf("expected a cross apply, got %s", nodes.Format(n))
	}
}

func TestTerminalOperators(t *testing.T) {
	t.Parallel()
	m := shop(t)
	tests := []struct {
		q    query.Query
		want nodes.Aggregator
	}{
		{query.From("User").First(), nodes.ProjectFirst},
		{query.From("User").FirstOrDefault(), nodes.ProjectFirstOrDefault},
		{query.From("User").Single(), nodes.ProjectSingle},
		{query.From("User").SingleOrDefault(), nodes.ProjectSingleOrDefault},
		{query.From("User").Count(), nodes.ProjectSingle},
	}
	for _, tt := range tests {
		p, err := Bind(tt.q, m)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, p.Aggregator, tt.want)
	}
}

func TestValue(t *testing.T) {
	t.Parallel()
	m := shop(t)
	p, err := Bind(query.Value(query.From("User").Count()), m)
	testutil.AssertNoError(t, err)
	if p.Select.From != nil {
		t.Error("value select must not have a source")
	}
	if _, ok := p.Select.Columns[0].Expr.(*nodes.Scalar); !ok {
		t.Errorf("expected a scalar subquery column, got %s", nodes.Format(p.Select.Columns[0].Expr))
	}
	testutil.AssertEqual(t, p.Aggregator, nodes.ProjectSingle)
}

func TestIncludes(t *testing.T) {
	t.Parallel()
	m := shop(t)
	q := query.From("User").Include("Orders").Include("User.Dept").Include("Orders")
	got, err := Includes(q, m)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(got), 2)
	testutil.AssertEqual(t, got[0], "User.Orders")
	testutil.AssertEqual(t, got[1], "User.Dept")
}

func TestIncludeAddsRelations(t *testing.T) {
	t.Parallel()
	m := shop(t)
	q := query.From("User").Include("Orders").Include("Dept")
	p, err := Bind(q, m)
	testutil.AssertNoError(t, err)
	includes, err := Includes(q, m)
	testutil.AssertNoError(t, err)
	n, err := Include(p, m, includes)
	testutil.AssertNoError(t, err)
	rec := n.(*nodes.Projection).Projector.(*nodes.Record)
	orders, ok := rec.Lookup("Orders")
	if !ok {
		t.Fatal("Orders was not included")
	}
	if _, ok := orders.(*nodes.Projection); !ok {
		t.Errorf("expected Orders to be a nested projection, got %s", nodes.Format(orders))
	}
	dept, ok := rec.Lookup("Dept")
	if !ok {
		t.Fatal("Dept was not included")
	}
	if _, ok := dept.(*nodes.Record); !ok {
		t.Errorf("expected Dept to be a joined record, got %s", nodes.Format(dept))
	}
}
