// Package plan turns a fully rewritten projection into an executable
// plan: the SQL text of every statement, its ordered parameters and the
// projector that shapes fetched rows into result values.
package plan

import (
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerr"
	"github.com/bawdo/relq/visitors"
)

// Plan is one compiled statement plus the client-joined statements its
// projector depends on.
type Plan struct {
	ID uuid.UUID

	SQL     string
	Params  []visitors.Param
	Columns []string

	Projector  Projector
	Aggregator nodes.Aggregator
	Children   []*Child

	// values holds every parameter the plan reads, including those that
	// only occur in the projector.
	values map[string]any
}

// Child is a client-joined statement. Its rows are grouped by InnerKey
// and matched to each parent row evaluated through OuterKey.
type Child struct {
	Plan     *Plan
	OuterKey []Projector
	InnerKey []Projector
}

// Build renders the select of root and compiles its projector against
// the select's columns. Nested projections must already have been
// rewritten into client joins.
func Build(root *nodes.Projection, b visitors.Builder) (*Plan, error) {
	p, err := build(root, b)
	if err != nil {
		return nil, err
	}
	p.ID = uuid.New()
	return p, nil
}

func build(root *nodes.Projection, b visitors.Builder) (*Plan, error) {
	sql, params, err := b.Build(root.Select)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		SQL:        sql,
		Params:     params,
		Aggregator: root.Aggregator,
		values:     make(map[string]any),
	}
	for _, prm := range params {
		if prm.Name != "" {
			p.values[prm.Name] = prm.Value
		}
	}
	for _, c := range root.Select.Columns {
		p.Columns = append(p.Columns, c.Name)
	}

	c := &compiler{b: b, plan: p, sel: root.Select}
	p.Projector, err = c.compile(root.Projector)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Statements lists the SQL of p and of its children, depth first.
func (p *Plan) Statements() []string {
	out := []string{p.SQL}
	for _, c := range p.Children {
		out = append(out, c.Plan.Statements()...)
	}
	return out
}

// Bind returns a copy of p whose parameters named in values take the new
// values. Parameters not named keep the value they were compiled with.
func (p *Plan) Bind(values map[string]any) *Plan {
	out := *p
	out.values = maps.Clone(p.values)
	for name, v := range values {
		if _, ok := out.values[name]; ok {
			out.values[name] = v
		}
	}
	out.Params = slices.Clone(p.Params)
	for i, prm := range out.Params {
		if v, ok := values[prm.Name]; ok && prm.Name != "" {
			out.Params[i].Value = v
		}
	}
	out.Children = make([]*Child, len(p.Children))
	for i, c := range p.Children {
		bound := *c
		bound.Plan = c.Plan.Bind(values)
		out.Children[i] = &bound
	}
	return &out
}

// Value returns the current value of the named parameter.
func (p *Plan) Value(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// compiler turns projector expressions into closures over one row of
// sel.
type compiler struct {
	b    visitors.Builder
	plan *Plan
	sel  *nodes.Select
}

func (c *compiler) compile(n nodes.Node) (Projector, error) {
	switch n := n.(type) {
	case *nodes.Column:
		return c.column(n)
	case *nodes.Constant:
		v := n.Value
		return func([]any, *Scope) (any, error) { return v, nil }, nil
	case *nodes.Parameter:
		name := n.Name
		if _, ok := c.plan.values[name]; !ok {
			c.plan.values[name] = n.Value
		}
		return func(_ []any, s *Scope) (any, error) {
			v, _ := s.plan.Value(name)
			return v, nil
		}, nil
	case *nodes.Record:
		return c.record(n)
	case *nodes.Convert:
		inner, err := c.compile(n.Operand)
		if err != nil {
			return nil, err
		}
		t := n.T
		return func(row []any, s *Scope) (any, error) {
			v, err := inner(row, s)
			if err != nil {
				return nil, err
			}
			return Normalize(v, t)
		}, nil
	case *nodes.ClientJoin:
		return c.clientJoin(n)
	case *nodes.Projection:
		return nil, &qerr.UnsupportedOperationError{Operation: "nested projection", Message: "the nested collection could not be loaded by a separate statement"}
	}
	return nil, &qerr.UnsupportedOperationError{Operation: n.Kind().String(), Message: "expression cannot be evaluated on the client: " + nodes.Format(n)}
}

func (c *compiler) column(n *nodes.Column) (Projector, error) {
	if n.Alias != c.sel.Alias {
		return nil, qerr.Malformedf("projector column %s does not belong to the projected select", n.Name)
	}
	i := slices.IndexFunc(c.sel.Columns, func(d nodes.ColumnDeclaration) bool { return d.Name == n.Name })
	if i < 0 {
		return nil, qerr.Malformedf("projector column %s is not declared by the projected select", n.Name)
	}
	t := c.sel.Columns[i].T
	if t.Kind == nodes.TypeUnknown {
		t = n.T
	}
	return func(row []any, _ *Scope) (any, error) {
		if i >= len(row) {
			return nil, fmt.Errorf("row has %d values, column %d requested", len(row), i)
		}
		return Normalize(row[i], t)
	}, nil
}

func (c *compiler) record(n *nodes.Record) (Projector, error) {
	names := make([]string, len(n.Fields))
	fields := make([]Projector, len(n.Fields))
	for i, f := range n.Fields {
		fp, err := c.compile(f.Expr)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		names[i], fields[i] = f.Name, fp
	}
	return func(row []any, s *Scope) (any, error) {
		out := make(map[string]any, len(fields))
		for i, f := range fields {
			v, err := f(row, s)
			if err != nil {
				return nil, err
			}
			out[names[i]] = v
		}
		return out, nil
	}, nil
}

func (c *compiler) clientJoin(n *nodes.ClientJoin) (Projector, error) {
	cp, err := build(n.Projection, c.b)
	if err != nil {
		return nil, err
	}
	child := &Child{Plan: cp}
	for _, k := range n.OuterKey {
		kp, err := c.compile(k)
		if err != nil {
			return nil, fmt.Errorf("outer key: %w", err)
		}
		child.OuterKey = append(child.OuterKey, kp)
	}
	inner := &compiler{b: c.b, plan: cp, sel: n.Projection.Select}
	for _, k := range n.InnerKey {
		kp, err := inner.compile(k)
		if err != nil {
			return nil, fmt.Errorf("inner key: %w", err)
		}
		child.InnerKey = append(child.InnerKey, kp)
	}
	idx := len(c.plan.Children)
	c.plan.Children = append(c.plan.Children, child)

	return func(row []any, s *Scope) (any, error) {
		key, err := evalKey(child.OuterKey, row, s)
		if err != nil {
			return nil, err
		}
		cs := s.children[idx]
		return cs.project(cs.groups[key])
	}, nil
}
