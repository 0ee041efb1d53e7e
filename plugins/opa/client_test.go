package opa

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/nodes"
)

func ref(parts ...compileTerm) compileTerm { return compileTerm{Type: "ref", Value: parts} }
func v(name string) compileTerm            { return compileTerm{Type: "var", Value: name} }
func str(s string) compileTerm             { return compileTerm{Type: "string", Value: s} }
func num(n int) compileTerm                { return compileTerm{Type: "number", Value: n} }

func column(table, col string) compileTerm {
	return ref(v("data"), str(table), v("$0"), str(col))
}

func expr(op string, a, b compileTerm) compileExpression {
	return compileExpression{Terms: []compileTerm{ref(v(op)), a, b}}
}

func target() Target { return Target{Alias: nodes.NewTableAlias()} }

// --- Response parsing ---

func TestCompileResponseParsesTerms(t *testing.T) {
	t.Parallel()
	body := `{
		"result": {
			"queries": [[{
				"index": 0,
				"terms": [
					{"type": "ref", "value": [{"type": "var", "value": "eq"}]},
					{"type": "ref", "value": [
						{"type": "var", "value": "data"},
						{"type": "string", "value": "users"},
						{"type": "var", "value": "$0"},
						{"type": "string", "value": "tenant_id"}
					]},
					{"type": "number", "value": 42}
				]
			}]]
		}
	}`
	resp, err := parseCompileResponse([]byte(body))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(resp.Result.Queries), 1)
	e := resp.Result.Queries[0][0]
	testutil.AssertEqual(t, len(e.Terms), 3)
	testutil.AssertEqual(t, e.Terms[2].Value, any(42))

	n, err := translateExpression(e, target())
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, n, "(t0.tenant_id = 42)")
}

func TestCompileTermValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		json string
		want any
	}{
		{`{"type": "string", "value": "x"}`, "x"},
		{`{"type": "number", "value": 1.5}`, 1.5},
		{`{"type": "number", "value": 7}`, 7},
		{`{"type": "boolean", "value": true}`, true},
		{`{"type": "null", "value": null}`, nil},
	}
	for _, tt := range tests {
		var term compileTerm
		testutil.AssertNoError(t, json.Unmarshal([]byte(tt.json), &term))
		testutil.AssertEqual(t, term.Value, tt.want)
	}

	var term compileTerm
	testutil.AssertError(t, json.Unmarshal([]byte(`{"type": "set", "value": []}`), &term))
}

// --- Expression translation ---

func TestTranslateOperators(t *testing.T) {
	t.Parallel()
	tests := []struct {
		op   string
		val  compileTerm
		want string
	}{
		{"eq", num(1), "(t0.c = 1)"},
		{"equal", str("a"), "(t0.c = 'a')"},
		{"neq", num(1), "(t0.c <> 1)"},
		{"lt", num(1), "(t0.c < 1)"},
		{"lte", num(1), "(t0.c <= 1)"},
		{"gt", num(1), "(t0.c > 1)"},
		{"gte", num(1), "(t0.c >= 1)"},
		{"startswith", str("a_"), `(t0.c LIKE 'a\_%')`},
		{"endswith", str("a"), "(t0.c LIKE '%a')"},
		{"contains", str("50%"), `(t0.c LIKE '%50\%%')`},
		{"eq", compileTerm{Type: "null"}, "(t0.c IS NULL)"},
		{"neq", compileTerm{Type: "null"}, "(t0.c IS NOT NULL)"},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			n, err := translateExpression(expr(tt.op, column("t", "c"), tt.val), target())
			testutil.AssertNoError(t, err)
			testutil.AssertFormat(t, n, tt.want)
		})
	}
}

func TestTranslateOperandOrder(t *testing.T) {
	t.Parallel()
	n, err := translateExpression(expr("eq", num(5), column("users", "id")), target())
	testutil.AssertNoError(t, err)
	testutil.AssertFormat(t, n, "(t0.id = 5)")
}

func TestTranslateTypesFromTarget(t *testing.T) {
	t.Parallel()
	tg := Target{Alias: nodes.NewTableAlias(), Types: map[string]nodes.Type{"id": nodes.Int64Type}}
	n, err := translateExpression(expr("eq", column("users", "id"), num(5)), tg)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n.(*nodes.Binary).Left.(*nodes.Column).T, nodes.Int64Type)

	n, err = translateExpression(expr("eq", column("users", "name"), str("x")), tg)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n.(*nodes.Binary).Left.(*nodes.Column).T, nodes.StringType)
}

func TestTranslateErrors(t *testing.T) {
	t.Parallel()
	tests := []compileExpression{
		{Terms: []compileTerm{ref(v("eq")), num(1)}},
		expr("eq", num(1), num(2)),
		expr("like", column("t", "c"), str("x")),
		expr("startswith", column("t", "c"), num(1)),
		expr("eq", column("t", "c"), column("u", "d")),
		{Terms: []compileTerm{str("eq"), column("t", "c"), num(1)}},
	}
	for _, e := range tests {
		_, err := translateExpression(e, target())
		testutil.AssertError(t, err)
	}
}

// --- Query sets ---

func TestTranslateQueries(t *testing.T) {
	t.Parallel()

	_, err := translateQueries(nil, target())
	testutil.AssertError(t, err)

	conds, err := translateQueries([][]compileExpression{{}}, target())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(conds), 0)

	single := [][]compileExpression{{
		expr("eq", column("t", "a"), num(1)),
		expr("gt", column("t", "b"), num(2)),
	}}
	conds, err = translateQueries(single, target())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(conds), 2)

	tg := target()
	multi := [][]compileExpression{
		{expr("eq", column("t", "a"), num(1)), expr("eq", column("t", "b"), num(2))},
		{expr("eq", column("t", "c"), num(3))},
	}
	conds, err = translateQueries(multi, tg)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(conds), 1)
	testutil.AssertFormat(t, conds[0], "(((t0.a = 1) AND (t0.b = 2)) OR (t0.c = 3))")

	conds, err = translateQueries([][]compileExpression{{expr("eq", column("t", "a"), num(1))}, {}}, tg)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(conds), 0)
}

// --- Server ---

type fakeOPA struct {
	compile string
	masks   string
	// requests records the decoded body of each compile request.
	requests []compileRequest
	paths    []string
}

func (f *fakeOPA) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.paths = append(f.paths, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		switch {
		case r.URL.Path == "/v1/compile":
			var req compileRequest
			_ = json.Unmarshal(body, &req)
			f.requests = append(f.requests, req)
			_, _ = io.WriteString(w, f.compile)
		case strings.HasPrefix(r.URL.Path, "/v1/data/"):
			masks := f.masks
			if masks == "" {
				masks = `{"result": {}}`
			}
			_, _ = io.WriteString(w, masks)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

const tenantResidual = `{"result": {"queries": [[{"index": 0, "terms": [
	{"type": "ref", "value": [{"type": "var", "value": "eq"}]},
	{"type": "ref", "value": [{"type": "var", "value": "data"}, {"type": "string", "value": "users"}, {"type": "var", "value": "$0"}, {"type": "string", "value": "tenant_id"}]},
	{"type": "ref", "value": [{"type": "var", "value": "input"}, {"type": "string", "value": "subject"}, {"type": "string", "value": "tenant"}]}
]}]]}}`

func TestClientCompile(t *testing.T) {
	t.Parallel()
	f := &fakeOPA{compile: `{"result": {"queries": [[{"index": 0, "terms": [
		{"type": "ref", "value": [{"type": "var", "value": "eq"}]},
		{"type": "ref", "value": [{"type": "var", "value": "data"}, {"type": "string", "value": "users"}, {"type": "var", "value": "$0"}, {"type": "string", "value": "tenant_id"}]},
		{"type": "number", "value": 42}
	]}]]}}`}
	srv := f.server(t)

	c := NewClient(srv.URL+"/", "authz.allow", map[string]any{"subject": "ann"})
	testutil.AssertEqual(t, c.PolicyPath(), "data.authz.allow")
	testutil.AssertEqual(t, c.BaseURL(), srv.URL)

	conds, err := c.Compile("users", target())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(conds), 1)
	testutil.AssertFormat(t, conds[0], "(t0.tenant_id = 42)")

	testutil.AssertEqual(t, len(f.requests), 1)
	req := f.requests[0]
	testutil.AssertEqual(t, req.Query, "data.authz.allow == true")
	testutil.AssertEqual(t, strings.Join(req.Unknowns, ","), "data.users")
}

func TestClientHTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "policy missing", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL, "authz.allow", nil).Compile("users", target())
	testutil.AssertError(t, err)
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("expected the status in %v", err)
	}
}

func TestFetchMasks(t *testing.T) {
	t.Parallel()
	f := &fakeOPA{masks: `{"result": {
		"users": {
			"name": {"replace": {"value": "***"}},
			"age": {"replace": {"value": {}}},
			"id": {}
		}
	}}`}
	srv := f.server(t)

	c := NewClient(srv.URL, "data.policies.users.allow", nil)
	masks, err := c.FetchMasks()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(masks["users"]), 1)
	testutil.AssertEqual(t, masks["users"]["name"].Replace.Value, "***")
	testutil.AssertEqual(t, f.paths[0], "/v1/data/policies/users/masks")
}

func TestExplain(t *testing.T) {
	t.Parallel()
	f := &fakeOPA{compile: `{"result": {"queries": [
		[{"index": 0, "terms": [{"type": "ref", "value": [{"type": "var", "value": "gt"}]}, {"type": "ref", "value": [{"type": "var", "value": "data"}, {"type": "string", "value": "orders"}, {"type": "var", "value": "$0"}, {"type": "string", "value": "total"}]}, {"type": "number", "value": 10}]}],
		[{"index": 0, "terms": [{"type": "ref", "value": [{"type": "var", "value": "eq"}]}, {"type": "ref", "value": [{"type": "var", "value": "data"}, {"type": "string", "value": "orders"}, {"type": "var", "value": "$0"}, {"type": "string", "value": "user_id"}]}, {"type": "number", "value": 1}]}]
	]}}`}
	srv := f.server(t)

	res, err := NewClient(srv.URL, "authz.allow", nil).Explain("orders", target())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.QueryCount, 2)
	testutil.AssertEqual(t, res.ExpressionCount, 2)
	testutil.AssertEqual(t, len(res.Translations), 2)
	testutil.AssertEqual(t, res.Translations[0].Operator, "gt")
	testutil.AssertEqual(t, res.Translations[0].Column, "total")
	testutil.AssertEqual(t, res.Translations[0].Condition, "(t0.total > 10)")
	testutil.AssertEqual(t, len(res.Conditions), 1)
	if !strings.Contains(res.RequestJSON, `"data.orders"`) || !strings.Contains(res.RawJSON, "user_id") {
		t.Errorf("expected request and response JSON, got %s / %s", res.RequestJSON, res.RawJSON)
	}

	f.compile = `{"result": {}}`
	res, err = NewClient(srv.URL, "authz.allow", nil).Explain("orders", target())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.AccessDenied, true)

	f.compile = `{"result": {"queries": [[]]}}`
	res, err = NewClient(srv.URL, "authz.allow", nil).Explain("orders", target())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.UnconditionalAllow, true)
}

func TestDiscoverInputs(t *testing.T) {
	t.Parallel()
	f := &fakeOPA{compile: tenantResidual}
	srv := f.server(t)

	paths, err := NewClient(srv.URL, "authz.allow", nil).DiscoverInputs("data.users")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, strings.Join(paths, ","), "subject.tenant")
	testutil.AssertEqual(t, strings.Join(f.requests[0].Unknowns, ","), "input,data.users")
}
