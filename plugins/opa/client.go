package opa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bawdo/relq/internal/quoting"
	"github.com/bawdo/relq/nodes"
)

// Client communicates with an OPA server's Compile and Data APIs.
type Client struct {
	baseURL    string
	policyPath string
	input      map[string]any
	httpClient *http.Client
}

// NewClient creates a Client for baseURL evaluating policyPath with
// input. The policy path gets a "data." prefix if it has none.
//
// The baseURL is used as-is; use HTTPS outside of local development.
func NewClient(baseURL, policyPath string, input map[string]any) *Client {
	if !strings.HasPrefix(policyPath, "data.") {
		policyPath = "data." + policyPath
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		policyPath: policyPath,
		input:      input,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string { return c.baseURL }

// PolicyPath returns the normalized rule path.
func (c *Client) PolicyPath() string { return c.policyPath }

// Input returns the input document.
func (c *Client) Input() map[string]any { return c.input }

func (c *Client) postJSON(path string, reqBody []byte) ([]byte, error) {
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// --- Compile API response types ---

type compileResponse struct {
	Result compileResult `json:"result"`
}

type compileResult struct {
	Queries [][]compileExpression `json:"queries"`
}

type compileExpression struct {
	Index int           `json:"index"`
	Terms []compileTerm `json:"terms"`
}

type compileTerm struct {
	Type  string
	Value any // string, int, float64, bool or []compileTerm for a ref
}

// MaskAction describes how to mask a single column.
type MaskAction struct {
	Replace *ReplaceAction `json:"replace"`
}

// ReplaceAction replaces the column value with a literal string.
type ReplaceAction struct {
	Value string `json:"value"`
}

// UnmarshalJSON decodes Value according to Type.
func (ct *compileTerm) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ct.Type = raw.Type

	switch raw.Type {
	case "string", "var":
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			return fmt.Errorf("opa: %s value: %w", raw.Type, err)
		}
		ct.Value = s
	case "number":
		var f float64
		if err := json.Unmarshal(raw.Value, &f); err != nil {
			return fmt.Errorf("opa: number value: %w", err)
		}
		if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53 {
			ct.Value = int(f)
		} else {
			ct.Value = f
		}
	case "boolean":
		var b bool
		if err := json.Unmarshal(raw.Value, &b); err != nil {
			return fmt.Errorf("opa: boolean value: %w", err)
		}
		ct.Value = b
	case "null":
		ct.Value = nil
	case "ref":
		var terms []compileTerm
		if err := json.Unmarshal(raw.Value, &terms); err != nil {
			return fmt.Errorf("opa: ref value: %w", err)
		}
		ct.Value = terms
	default:
		return fmt.Errorf("opa: unknown term type %q", raw.Type)
	}
	return nil
}

func parseCompileResponse(data []byte) (*compileResponse, error) {
	var resp compileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("opa: parsing compile response: %w", err)
	}
	return &resp, nil
}

// --- Expression translation ---

// Target is the table a residual query is translated against.
type Target struct {
	Alias *nodes.TableAlias
	// Types gives column types by column name. Columns not listed are
	// typed after the value they are compared with.
	Types map[string]nodes.Type
}

func (t Target) column(name string, value any) *nodes.Column {
	if typ, ok := t.Types[name]; ok {
		return nodes.NewColumn(t.Alias, name, typ)
	}
	return nodes.NewColumn(t.Alias, name, nodes.TypeOf(value))
}

// extractOperator returns the operator named by the first term of an
// expression, a ref holding a single var.
func extractOperator(term compileTerm) (string, error) {
	if term.Type != "ref" {
		return "", fmt.Errorf("opa: operator term must be ref, got %s", term.Type)
	}
	parts, ok := term.Value.([]compileTerm)
	if !ok || len(parts) == 0 {
		return "", errors.New("opa: operator ref has no parts")
	}
	if parts[0].Type != "var" {
		return "", fmt.Errorf("opa: operator ref[0] must be var, got %s", parts[0].Type)
	}
	name, ok := parts[0].Value.(string)
	if !ok {
		return "", errors.New("opa: operator var value is not a string")
	}
	return name, nil
}

// extractColumnName returns the last string element of a data ref.
func extractColumnName(term compileTerm) (string, error) {
	if term.Type != "ref" {
		return "", fmt.Errorf("opa: column term must be ref, got %s", term.Type)
	}
	parts, ok := term.Value.([]compileTerm)
	if !ok || len(parts) == 0 {
		return "", errors.New("opa: column ref has no parts")
	}
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Type == "string" {
			s, ok := parts[i].Value.(string)
			if !ok {
				return "", errors.New("opa: column ref string value is not a string")
			}
			return s, nil
		}
	}
	return "", errors.New("opa: column ref has no string element")
}

func isDataRef(term compileTerm) bool {
	if term.Type != "ref" {
		return false
	}
	parts, ok := term.Value.([]compileTerm)
	if !ok || len(parts) == 0 || parts[0].Type != "var" {
		return false
	}
	name, ok := parts[0].Value.(string)
	return ok && name == "data"
}

// operands splits the terms of a comparison into the column name and
// the compared value. OPA does not fix the operand order.
func operands(expr compileExpression) (string, any, error) {
	if len(expr.Terms) < 3 {
		return "", nil, fmt.Errorf("opa: expression has %d terms, need at least 3", len(expr.Terms))
	}
	var colTerm, valTerm compileTerm
	switch {
	case isDataRef(expr.Terms[1]):
		colTerm, valTerm = expr.Terms[1], expr.Terms[2]
	case isDataRef(expr.Terms[2]):
		colTerm, valTerm = expr.Terms[2], expr.Terms[1]
	default:
		return "", nil, errors.New("opa: expression has no data ref term")
	}
	if valTerm.Type == "ref" {
		return "", nil, errors.New("opa: comparing two refs is not supported")
	}
	name, err := extractColumnName(colTerm)
	if err != nil {
		return "", nil, err
	}
	return name, valTerm.Value, nil
}

// translateExpression converts one residual expression into a condition
// on target.
func translateExpression(expr compileExpression, target Target) (nodes.Node, error) {
	if len(expr.Terms) == 0 {
		return nil, errors.New("opa: empty expression")
	}
	op, err := extractOperator(expr.Terms[0])
	if err != nil {
		return nil, err
	}
	name, val, err := operands(expr)
	if err != nil {
		return nil, err
	}
	col := target.column(name, val)

	switch op {
	case "eq", "equal":
		if val == nil {
			return nodes.IsNull(col), nil
		}
		return nodes.Eq(col, nodes.NewConstant(val)), nil
	case "neq":
		if val == nil {
			return nodes.IsNotNull(col), nil
		}
		return nodes.NotEq(col, nodes.NewConstant(val)), nil
	case "lt":
		return nodes.Lt(col, nodes.NewConstant(val)), nil
	case "lte":
		return nodes.LtEq(col, nodes.NewConstant(val)), nil
	case "gt":
		return nodes.Gt(col, nodes.NewConstant(val)), nil
	case "gte":
		return nodes.GtEq(col, nodes.NewConstant(val)), nil
	case "startswith", "endswith", "contains":
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("opa: %s requires a string value, got %T", op, val)
		}
		pattern := quoting.EscapeLikePattern(s)
		switch op {
		case "startswith":
			pattern += "%"
		case "endswith":
			pattern = "%" + pattern
		default:
			pattern = "%" + pattern + "%"
		}
		return nodes.NewBinary(nodes.OpLike, col, nodes.NewConstant(pattern)), nil
	}
	return nil, fmt.Errorf("opa: unsupported operator %q", op)
}

// translateQueries converts the residual query set into conditions:
//   - no queries denies access
//   - a single empty query allows unconditionally
//   - a single query yields one condition per expression
//   - several queries are ANDed internally and ORed together
func translateQueries(queries [][]compileExpression, target Target) ([]nodes.Node, error) {
	if len(queries) == 0 {
		return nil, errors.New("opa: access denied")
	}
	if len(queries) == 1 && len(queries[0]) == 0 {
		return nil, nil
	}

	if len(queries) == 1 {
		conditions := make([]nodes.Node, 0, len(queries[0]))
		for _, expr := range queries[0] {
			n, err := translateExpression(expr, target)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, n)
		}
		return conditions, nil
	}

	groups := make([]nodes.Node, len(queries))
	for i, q := range queries {
		// An empty branch of a disjunction allows everything.
		if len(q) == 0 {
			return nil, nil
		}
		conds := make([]nodes.Node, len(q))
		for j, expr := range q {
			n, err := translateExpression(expr, target)
			if err != nil {
				return nil, err
			}
			conds[j] = n
		}
		groups[i] = nodes.Combine(conds, nodes.OpAnd)
	}
	return []nodes.Node{nodes.Combine(groups, nodes.OpOr)}, nil
}

// --- Compile API request ---

type compileRequest struct {
	Query    string   `json:"query"`
	Input    any      `json:"input,omitempty"`
	Unknowns []string `json:"unknowns"`
}

// compile returns the request sent, the raw response and its parse.
func (c *Client) compile(tableName string) (req, body []byte, parsed *compileResponse, err error) {
	req, err = json.Marshal(compileRequest{
		Query:    c.policyPath + " == true",
		Input:    c.input,
		Unknowns: []string{"data." + tableName},
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opa: marshaling compile request: %w", err)
	}
	body, err = c.postJSON("/v1/compile", req)
	if err != nil {
		return req, nil, nil, fmt.Errorf("opa: compile request failed: %w", err)
	}
	parsed, err = parseCompileResponse(body)
	return req, body, parsed, err
}

// Compile partially evaluates the policy with data.<tableName> unknown
// and returns the residual as conditions on target.
func (c *Client) Compile(tableName string, target Target) ([]nodes.Node, error) {
	_, _, parsed, err := c.compile(tableName)
	if err != nil {
		return nil, err
	}
	return translateQueries(parsed.Result.Queries, target)
}

// --- Data API: masks ---

// masksDataPath returns the Data API path of the masks rule next to the
// policy rule: data.a.b.allow gives a/b/masks.
func (c *Client) masksDataPath() string {
	path := strings.TrimPrefix(c.policyPath, "data.")
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		path = path[:idx]
	}
	return strings.ReplaceAll(path, ".", "/") + "/masks"
}

// FetchMasks evaluates the masks rule. The result maps table to column
// to action; nil means nothing is masked.
func (c *Client) FetchMasks() (map[string]map[string]MaskAction, error) {
	data, err := json.Marshal(struct {
		Input any `json:"input,omitempty"`
	}{Input: c.input})
	if err != nil {
		return nil, fmt.Errorf("opa: marshaling data request: %w", err)
	}
	body, err := c.postJSON("/v1/data/"+c.masksDataPath(), data)
	if err != nil {
		return nil, fmt.Errorf("opa: masks request failed: %w", err)
	}
	return parseMasksResponse(body)
}

// parseMasksResponse reads
//
//	{"result": {"table": {"column": {"replace": {"value": "***"}}}}}
//
// Only string replacement values mask a column.
func parseMasksResponse(data []byte) (map[string]map[string]MaskAction, error) {
	var resp struct {
		Result map[string]map[string]map[string]any `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("opa: parsing masks response: %w", err)
	}

	var masks map[string]map[string]MaskAction
	for table, columns := range resp.Result {
		for column, action := range columns {
			replace, ok := action["replace"].(map[string]any)
			if !ok {
				continue
			}
			value, ok := replace["value"].(string)
			if !ok {
				continue
			}
			if masks == nil {
				masks = make(map[string]map[string]MaskAction)
			}
			if masks[table] == nil {
				masks[table] = make(map[string]MaskAction)
			}
			masks[table][column] = MaskAction{Replace: &ReplaceAction{Value: value}}
		}
	}
	return masks, nil
}

// --- Explain ---

// ExplainTranslation records how a single residual expression was
// translated.
type ExplainTranslation struct {
	Operator  string
	Column    string
	Value     any
	Condition string
	Err       error
}

// ExplainResult is the diagnostic output of Explain.
type ExplainResult struct {
	RequestJSON        string
	RawJSON            string
	QueryCount         int
	ExpressionCount    int
	Translations       []ExplainTranslation
	Conditions         []nodes.Node
	Masks              map[string]map[string]MaskAction
	UnconditionalAllow bool
	AccessDenied       bool
}

// Explain calls the Compile API for tableName and reports how the
// response translates into conditions.
func (c *Client) Explain(tableName string, target Target) (*ExplainResult, error) {
	req, raw, parsed, err := c.compile(tableName)
	if err != nil {
		return nil, err
	}
	masks, _ := c.FetchMasks() // best effort

	result := &ExplainResult{
		RequestJSON: string(req),
		RawJSON:     string(raw),
		QueryCount:  len(parsed.Result.Queries),
		Masks:       masks,
	}
	for _, q := range parsed.Result.Queries {
		result.ExpressionCount += len(q)
	}

	switch {
	case len(parsed.Result.Queries) == 0:
		result.AccessDenied = true
		return result, nil
	case len(parsed.Result.Queries) == 1 && len(parsed.Result.Queries[0]) == 0:
		result.UnconditionalAllow = true
		return result, nil
	}

	for _, q := range parsed.Result.Queries {
		for _, expr := range q {
			var tr ExplainTranslation
			if len(expr.Terms) > 0 {
				tr.Operator, _ = extractOperator(expr.Terms[0])
			}
			tr.Column, tr.Value, _ = operands(expr)
			n, err := translateExpression(expr, target)
			if err != nil {
				tr.Err = err
			} else {
				tr.Condition = nodes.Format(n)
			}
			result.Translations = append(result.Translations, tr)
		}
	}

	conditions, err := translateQueries(parsed.Result.Queries, target)
	if err != nil {
		return nil, err
	}
	result.Conditions = conditions
	return result, nil
}

// --- Input discovery ---

// inputRefPath returns the dotted path of a ref rooted at var "input",
// such as "subject.role".
func inputRefPath(term compileTerm) (string, bool) {
	if term.Type != "ref" {
		return "", false
	}
	parts, ok := term.Value.([]compileTerm)
	if !ok || len(parts) < 2 || parts[0].Type != "var" {
		return "", false
	}
	if name, ok := parts[0].Value.(string); !ok || name != "input" {
		return "", false
	}
	segments := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		s, ok := p.Value.(string)
		if p.Type != "string" || !ok {
			return "", false
		}
		segments = append(segments, s)
	}
	return strings.Join(segments, "."), true
}

func extractInputPaths(resp *compileResponse) []string {
	seen := map[string]bool{}
	for _, q := range resp.Result.Queries {
		for _, expr := range q {
			for _, term := range expr.Terms {
				if path, ok := inputRefPath(term); ok {
					seen[path] = true
				}
			}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// DiscoverInputs partially evaluates the policy with the whole input
// unknown and returns the input paths it references. dataUnknowns, such
// as "data.users", make rules over those documents contribute too.
func (c *Client) DiscoverInputs(dataUnknowns ...string) ([]string, error) {
	data, err := json.Marshal(compileRequest{
		Query:    c.policyPath + " == true",
		Input:    map[string]any{},
		Unknowns: append([]string{"input"}, dataUnknowns...),
	})
	if err != nil {
		return nil, fmt.Errorf("opa: marshaling compile request: %w", err)
	}
	body, err := c.postJSON("/v1/compile", data)
	if err != nil {
		return nil, fmt.Errorf("opa: compile request failed: %w", err)
	}
	parsed, err := parseCompileResponse(body)
	if err != nil {
		return nil, err
	}
	return extractInputPaths(parsed), nil
}
