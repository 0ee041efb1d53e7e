// Package relq translates queries over a mapped object model into SQL.
//
// This package re-exports the types and functions most programs need.
// The subpackages can be imported directly:
//   - github.com/bawdo/relq/query (building queries)
//   - github.com/bawdo/relq/mapping (the object model)
//   - github.com/bawdo/relq/dialect (SQL dialects)
//   - github.com/bawdo/relq/translate (compilation)
//   - github.com/bawdo/relq/exec (running plans over database/sql)
//   - github.com/bawdo/relq/plugins (IR transformers)
package relq

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plan"
	"github.com/bawdo/relq/query"
	"github.com/bawdo/relq/translate"
)

// --- Core types ---

// Query is an immutable sequence of query operators.
type Query = query.Query

// Model maps entities to tables.
type Model = mapping.Model

// Dialect describes a target SQL dialect.
type Dialect = dialect.Dialect

// Plan is a compiled query.
type Plan = plan.Plan

// Node is the interface all IR nodes implement.
type Node = nodes.Node

// Option configures Compile.
type Option = translate.Option

// --- Building queries ---

// From starts a query over entity, optionally naming its range.
func From(entity string, as ...string) Query {
	return query.From(entity, as...)
}

// F references a member path such as "Name" or "Dept.Name".
func F(path string) *nodes.Member { return query.F(path) }

// V is a constant.
func V(v any) *nodes.Constant { return query.V(v) }

// P is a named parameter with its current value.
func P(name string, v any) *nodes.Parameter { return query.P(name, v) }

// Expr parses an expression such as "Age > $min". params gives the
// values of $name references.
func Expr(input string, params map[string]any) (Node, error) {
	return query.ParseExpr(input, params)
}

// --- Loading ---

// LoadMapping reads a mapping document.
func LoadMapping(path string) (*Model, error) {
	return mapping.LoadFile(path)
}

// LoadQuery reads a YAML query document.
func LoadQuery(path string) (Query, error) {
	return query.LoadFile(path)
}

// LookupDialect returns a built-in dialect by name.
func LookupDialect(name string) (*Dialect, error) {
	return dialect.Lookup(name)
}

// --- Translation ---

// Compile translates q for d.
func Compile(q Query, m *Model, d *Dialect, opts ...Option) (*Plan, error) {
	return translate.Compile(q, m, d, opts...)
}

// Explain returns every statement q runs.
func Explain(q Query, m *Model, d *Dialect, opts ...Option) ([]string, error) {
	return translate.Explain(q, m, d, opts...)
}

// NewCache creates a plan cache holding up to size plans.
func NewCache(size int) *plan.Cache {
	return plan.NewCache(size)
}
