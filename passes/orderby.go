package passes

import "github.com/bawdo/relq/nodes"

// RewriteOrderBy moves orderings to the selects that can carry them: the
// outermost select of a statement and paged selects. Orderings of inner
// selects are gathered, re-expressed through the columns of each select
// on the way up (declaring columns where needed) and appended after the
// orderings of the select receiving them. Repeated column orderings are
// dropped, keeping the first.
func RewriteOrderBy(n nodes.Node) nodes.Node {
	r := &orderByRewriter{outermost: true}
	r.Rewriter = nodes.NewRewriter(r)
	return r.Rewrite(n)
}

type orderByRewriter struct {
	*nodes.Rewriter
	gathered  []nodes.Ordering
	outermost bool
}

func (r *orderByRewriter) RewriteSelect(n *nodes.Select) nodes.Node {
	outermost := r.outermost
	r.outermost = false
	defer func() { r.outermost = outermost }()

	sel := r.Rewriter.RewriteSelect(n).(*nodes.Select)
	hasOrderBy := len(sel.OrderBy) > 0
	hasGroupBy := len(sel.GroupBy) > 0
	hasAggregates := nodes.HasAggregates(sel)
	canHaveOrderBy := outermost || sel.Paged()
	canReceive := canHaveOrderBy && !hasGroupBy && !sel.Distinct && !hasAggregates
	if hasOrderBy {
		r.prepend(sel.OrderBy)
	}
	var orderings []nodes.Ordering
	switch {
	case canReceive:
		orderings = r.gathered
	case canHaveOrderBy:
		orderings = sel.OrderBy
	}
	canPassOn := !outermost && !hasGroupBy && !sel.Distinct && !hasAggregates
	columns := sel.Columns
	if r.gathered != nil {
		if canPassOn {
			var rebound []nodes.Ordering
			columns, rebound = rebindOrderings(r.gathered, sel.Alias, nodes.DeclaredAliases(sel.From), sel.Columns)
			r.gathered = nil
			r.prepend(rebound)
		} else {
			r.gathered = nil
		}
	}
	return nodes.UpdateSelect(sel, columns, sel.From, sel.Where, orderings, sel.GroupBy, sel.Skip, sel.Take, sel.Distinct)
}

// prepend puts orderings in front of the gathered ones and drops repeated
// column orderings.
func (r *orderByRewriter) prepend(orderings []nodes.Ordering) {
	if orderings == nil {
		return
	}
	all := make([]nodes.Ordering, 0, len(orderings)+len(r.gathered))
	all = append(all, orderings...)
	all = append(all, r.gathered...)
	seen := make(map[nodes.ColumnKey]bool)
	out := all[:0]
	for _, o := range all {
		if c, ok := o.Expr.(*nodes.Column); ok {
			if seen[c.Key()] {
				continue
			}
			seen[c.Key()] = true
		}
		out = append(out, o)
	}
	r.gathered = out
}

// rebindOrderings expresses orderings over the sources of a select through
// its columns, declaring a column for each expression not yet selected.
// Column orderings over other scopes are dropped.
func rebindOrderings(orderings []nodes.Ordering, alias *nodes.TableAlias, sources map[*nodes.TableAlias]bool, columns []nodes.ColumnDeclaration) ([]nodes.ColumnDeclaration, []nodes.Ordering) {
	out := make([]nodes.Ordering, 0, len(orderings))
	added := false
	for _, o := range orderings {
		col, isColumn := o.Expr.(*nodes.Column)
		if isColumn && !sources[col.Alias] {
			continue
		}
		var expr nodes.Node
		for _, d := range columns {
			if sameColumnExpr(d.Expr, o.Expr) {
				expr = nodes.NewColumn(alias, d.Name, d.T)
				break
			}
		}
		if expr == nil {
			if !added {
				columns = append([]nodes.ColumnDeclaration(nil), columns...)
				added = true
			}
			base := "c"
			if isColumn {
				base = col.Name
			}
			name := nodes.AvailableColumnName(columns, base)
			t := o.Expr.Type()
			columns = append(columns, nodes.ColumnDeclaration{Name: name, Expr: o.Expr, T: t})
			expr = nodes.NewColumn(alias, name, t)
		}
		out = append(out, nodes.Ordering{Expr: expr, Direction: o.Direction})
	}
	return columns, out
}

func (r *orderByRewriter) subquery(rewrite func() nodes.Node) nodes.Node {
	saved := r.gathered
	r.gathered = nil
	out := rewrite()
	r.gathered = saved
	return out
}

func (r *orderByRewriter) RewriteScalar(n *nodes.Scalar) nodes.Node {
	return r.subquery(func() nodes.Node { return r.Rewriter.RewriteScalar(n) })
}

func (r *orderByRewriter) RewriteExists(n *nodes.Exists) nodes.Node {
	return r.subquery(func() nodes.Node { return r.Rewriter.RewriteExists(n) })
}

func (r *orderByRewriter) RewriteIn(n *nodes.In) nodes.Node {
	return r.subquery(func() nodes.Node { return r.Rewriter.RewriteIn(n) })
}

func (r *orderByRewriter) RewriteJoin(n *nodes.Join) nodes.Node {
	left := r.Rewrite(n.Left)
	leftOrders := r.gathered
	r.gathered = nil
	right := r.Rewrite(n.Right)
	r.prepend(leftOrders)
	cond := r.Rewrite(n.Condition)
	return nodes.UpdateJoin(n, n.JoinKind, left, right, cond)
}

// RewriteProjection treats the select of every projection as the
// outermost select of its own statement.
func (r *orderByRewriter) RewriteProjection(n *nodes.Projection) nodes.Node {
	saved, outermost := r.gathered, r.outermost
	r.gathered, r.outermost = nil, true
	sel := r.RewriteSubquery(n.Select)
	r.gathered = nil
	projector := r.Rewrite(n.Projector)
	r.gathered, r.outermost = saved, outermost
	return nodes.UpdateProjection(n, sel, projector, n.Aggregator)
}
