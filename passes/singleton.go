package passes

import "github.com/bawdo/relq/nodes"

// RewriteSingletonProjections collapses an outermost single-row projection
// over a source-less select whose only column is a scalar subquery into a
// projection over that subquery.
func RewriteSingletonProjections(n nodes.Node) nodes.Node {
	p, ok := n.(*nodes.Projection)
	if !ok || !p.Aggregator.Singleton() {
		return n
	}
	s := p.Select
	if s.From != nil || s.Where != nil || len(s.Columns) != 1 {
		return n
	}
	scalar, ok := s.Columns[0].Expr.(*nodes.Scalar)
	if !ok || len(scalar.Select.Columns) != 1 {
		return n
	}
	col, ok := p.Projector.(*nodes.Column)
	if !ok || col.Alias != s.Alias || col.Name != s.Columns[0].Name {
		return n
	}
	inner := scalar.Select
	decl := inner.Columns[0]
	return nodes.NewProjection(inner, nodes.NewColumn(inner.Alias, decl.Name, decl.T), p.Aggregator)
}
