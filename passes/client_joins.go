package passes

import "github.com/bawdo/relq/nodes"

// RewriteClientJoins turns each nested one-to-many projection of the
// outermost projection into a ClientJoin: a separate statement reading
// the child rows whose parent row is among the outer rows, plus the key
// expressions matching children to parents on the client. The outer
// select is duplicated under fresh aliases inside an EXISTS so the child
// statement stands alone. Projections that cannot be split this way are
// left in place.
func RewriteClientJoins(n nodes.Node) nodes.Node {
	p, ok := n.(*nodes.Projection)
	if !ok {
		return n
	}
	r := &clientJoiner{outer: p.Select}
	r.Rewriter = nodes.NewRewriter(r)
	projector := r.Rewrite(p.Projector)
	return nodes.UpdateProjection(p, p.Select, projector, p.Aggregator)
}

type clientJoiner struct {
	*nodes.Rewriter
	outer *nodes.Select
}

func (r *clientJoiner) RewriteClientJoin(n *nodes.ClientJoin) nodes.Node {
	return n
}

func (r *clientJoiner) RewriteProjection(n *nodes.Projection) nodes.Node {
	s := n.Select
	if s.Distinct || len(s.GroupBy) > 0 || nodes.HasAggregates(s) {
		return n
	}
	if nodes.ReferencedAliases(s.WithWhere(nil))[r.outer.Alias] || nodes.ReferencedAliases(n.Projector)[r.outer.Alias] {
		return n
	}
	sel, outerKey, innerKey, ok := correlate(s, r.outer)
	if !ok {
		return n
	}
	saved := r.outer
	r.outer = sel
	projector := r.Rewrite(n.Projector)
	r.outer = saved
	return &nodes.ClientJoin{
		Projection: nodes.NewProjection(sel, projector, n.Aggregator),
		OuterKey:   outerKey,
		InnerKey:   innerKey,
	}
}

// correlate moves the terms of s's filter that reference the outer select
// o into an EXISTS over a copy of o and declares the inner side of every
// equality key term as a column of s.
func correlate(s, o *nodes.Select) (*nodes.Select, []nodes.Node, []nodes.Node, bool) {
	var local, corr, outerKey, inner []nodes.Node
	for _, term := range nodes.Split(s.Where, nodes.OpAnd) {
		if !nodes.ReferencedAliases(term)[o.Alias] {
			local = append(local, term)
			continue
		}
		corr = append(corr, term)
		if outer, in, ok := keyTerm(term, o.Alias); ok {
			outerKey = append(outerKey, outer)
			inner = append(inner, in)
		}
	}
	if len(outerKey) == 0 {
		return nil, nil, nil, false
	}
	dup := nodes.Clone(o).(*nodes.Select)
	cond := nodes.MapAliases(nodes.Combine(corr, nodes.OpAnd), dup.Alias, o.Alias)
	exists := &nodes.Exists{Select: nodes.NewSelect(nodes.NewTableAlias(), nil, dup, cond)}
	sel := s.WithWhere(nodes.AndAlso(nodes.Combine(local, nodes.OpAnd), exists))

	innerKey := make([]nodes.Node, len(inner))
	for i, k := range inner {
		var col *nodes.Column
		sel, col = declareColumn(sel, k, "key")
		innerKey[i] = col
	}
	return sel, outerKey, innerKey, true
}

// keyTerm splits an equality between a column of the outer select and an
// expression over the inner sources.
func keyTerm(term nodes.Node, outer *nodes.TableAlias) (nodes.Node, nodes.Node, bool) {
	b, ok := term.(*nodes.Binary)
	if !ok || (b.Op != nodes.OpEq && b.Op != nodes.OpNullSafeEq) {
		return nil, nil, false
	}
	side := func(o, i nodes.Node) bool {
		c, ok := o.(*nodes.Column)
		if !ok || c.Alias != outer {
			return false
		}
		refs := nodes.ReferencedAliases(i)
		return len(refs) > 0 && !refs[outer]
	}
	switch {
	case side(b.Left, b.Right):
		return b.Left, b.Right, true
	case side(b.Right, b.Left):
		return b.Right, b.Left, true
	}
	return nil, nil, false
}
