// Package opa provides a Transformer that enforces Open Policy Agent
// policies on queries by injecting policy-derived conditions.
//
// The policy is evaluated once per table a select reads (its FROM table
// and joined tables). Conditions for a table on the optional side of an
// outer join go into that join's condition; all others are ANDed into
// the WHERE clause. An error from the policy rejects the query.
//
// # Policy functions
//
//	policy := func(ref plugins.TableRef) ([]nodes.Node, error) {
//	    if ref.Name == "secrets" {
//	        return nil, errors.New("access denied")
//	    }
//	    if ref.Name == "users" {
//	        tenant := nodes.NewColumn(ref.Alias, "tenant_id", nodes.Int64Type)
//	        return []nodes.Node{nodes.Eq(tenant, nodes.NewConstant(42))}, nil
//	    }
//	    return nil, nil
//	}
//	plan, err := translate.Compile(q, model, d, translate.WithTransformers(opa.New(policy)))
//
// # OPA server
//
// NewFromServer partially evaluates a Rego rule through the Compile API,
// with data.<table> unknown, and translates the residual queries into
// conditions. Column masks are read from the sibling "masks" rule
// through the Data API and replace masked columns with literals.
//
//	o := opa.NewFromServer("http://localhost:8181", "data.authz.allow",
//	    map[string]any{"subject": map[string]any{"tenant": 42}},
//	    opa.WithModel(model))
//
// Translated plans are cached like any other; the cache key covers the
// server, the rule and the input document.
package opa

import (
	"encoding/json"
	"fmt"

	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins"
)

// PolicyFunc evaluates a policy for a table read by a select and
// returns conditions on ref.Alias to inject. A non-nil error rejects the
// query.
type PolicyFunc func(ref plugins.TableRef) ([]nodes.Node, error)

// Option configures an OPA transformer.
type Option func(*OPA)

// WithModel types the columns of server conditions after the mapped
// fields of the table they belong to.
func WithModel(m *mapping.Model) Option {
	return func(o *OPA) {
		o.types = make(map[string]map[string]nodes.Type)
		for _, e := range m.Entities() {
			cols := make(map[string]nodes.Type, len(e.Fields))
			for _, f := range e.Fields {
				cols[f.Column] = f.Type
			}
			o.types[e.Table] = cols
		}
	}
}

// WithCacheKey distinguishes policy functions in the plan cache. Plans
// translated with two functions sharing a key are interchangeable.
func WithCacheKey(key string) Option {
	return func(o *OPA) { o.key = key }
}

// OPA is a Transformer that evaluates a policy against every table in
// the query and injects the resulting conditions. It works either with a
// Go function (New) or against an OPA server (NewFromServer).
type OPA struct {
	plugins.BaseTransformer
	evalPolicy PolicyFunc
	client     *Client
	types      map[string]map[string]nodes.Type
	key        string
}

// New creates an OPA transformer with the given policy function.
func New(policy PolicyFunc, opts ...Option) *OPA {
	o := &OPA{evalPolicy: policy}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFromServer creates an OPA transformer that calls an OPA server.
// url is the server's base URL, policyPath the Rego rule (the "data."
// prefix is optional) and input the input document sent with every
// request.
func NewFromServer(url, policyPath string, input map[string]any, opts ...Option) *OPA {
	o := &OPA{client: NewClient(url, policyPath, input)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Client returns the server client, or nil for a policy function.
func (o *OPA) Client() *Client { return o.client }

// TransformSelect evaluates the policy for each table s reads and
// injects the conditions. In server mode masks are fetched once and
// applied to the declared columns of s.
func (o *OPA) TransformSelect(s *nodes.Select) (*nodes.Select, error) {
	refs := plugins.CollectTables(s)
	if len(refs) == 0 {
		return s, nil
	}

	from, where := s.From, s.Where
	for _, ref := range refs {
		conds, err := o.conditions(ref)
		if err != nil {
			return nil, err
		}
		if len(conds) == 0 {
			continue
		}
		cond := nodes.Combine(conds, nodes.OpAnd)
		if ref.Optional {
			from = plugins.RestrictJoin(from, ref.Alias, cond)
			continue
		}
		where = nodes.AndAlso(where, cond)
	}

	columns, masked := s.Columns, false
	if o.client != nil {
		masks, err := o.client.FetchMasks()
		if err != nil {
			return nil, err
		}
		columns, masked = applyMasks(s.Columns, refs, masks)
	}

	if from == s.From && where == s.Where && !masked {
		return s, nil
	}
	return s.WithFrom(from).WithWhere(where).WithColumns(columns), nil
}

func (o *OPA) conditions(ref plugins.TableRef) ([]nodes.Node, error) {
	if o.client == nil {
		return o.evalPolicy(ref)
	}
	return o.client.Compile(ref.Name, o.target(ref))
}

func (o *OPA) target(ref plugins.TableRef) Target {
	return Target{Alias: ref.Alias, Types: o.types[ref.Name]}
}

// CacheKey describes the configuration for plan caching.
func (o *OPA) CacheKey() string {
	if o.client == nil {
		return "func:" + o.key
	}
	input, _ := json.Marshal(o.client.input)
	return fmt.Sprintf("%s|%s|%s", o.client.baseURL, o.client.policyPath, input)
}

// applyMasks replaces declared columns that read a masked table column
// with the mask's literal. cols is not modified.
func applyMasks(cols []nodes.ColumnDeclaration, refs []plugins.TableRef, masks map[string]map[string]MaskAction) ([]nodes.ColumnDeclaration, bool) {
	if len(masks) == 0 {
		return cols, false
	}
	tables := make(map[*nodes.TableAlias]string, len(refs))
	for _, ref := range refs {
		tables[ref.Alias] = ref.Name
	}

	var out []nodes.ColumnDeclaration
	for i, decl := range cols {
		col, ok := decl.Expr.(*nodes.Column)
		if !ok {
			continue
		}
		action, masked := masks[tables[col.Alias]][col.Name]
		if !masked || action.Replace == nil {
			continue
		}
		if out == nil {
			out = append([]nodes.ColumnDeclaration(nil), cols...)
		}
		out[i] = nodes.ColumnDeclaration{
			Name: decl.Name,
			Expr: nodes.NewTypedConstant(action.Replace.Value, nodes.StringType),
			T:    nodes.StringType,
		}
	}
	if out == nil {
		return cols, false
	}
	return out, true
}
