package passes

import "github.com/bawdo/relq/nodes"

// RemoveRedundantSubqueries removes select layers that only pass their
// source's columns through, then merges selects into the leftmost select
// of their source where the combined clauses mean the same thing.
func RemoveRedundantSubqueries(n nodes.Node) nodes.Node {
	r := &redundantSubqueries{}
	r.Rewriter = nodes.NewRewriter(r)
	out := r.Rewrite(n)

	m := &subqueryMerger{topLevel: true}
	m.Rewriter = nodes.NewRewriter(m)
	return m.Rewrite(out)
}

// IsSimpleProjection reports whether every column of s is a column
// reference declared under its own name.
func IsSimpleProjection(s *nodes.Select) bool {
	for _, d := range s.Columns {
		c, ok := d.Expr.(*nodes.Column)
		if !ok || c.Name != d.Name {
			return false
		}
	}
	return true
}

// IsNameMapProjection reports whether s selects exactly the columns of the
// select it reads from, position by position.
func IsNameMapProjection(s *nodes.Select) bool {
	from, ok := s.From.(*nodes.Select)
	if !ok || len(s.Columns) != len(from.Columns) {
		return false
	}
	for i, d := range s.Columns {
		c, ok := d.Expr.(*nodes.Column)
		if !ok || c.Alias != from.Alias || c.Name != from.Columns[i].Name {
			return false
		}
	}
	return true
}

func isRedundantSubquery(s *nodes.Select) bool {
	return (IsSimpleProjection(s) || IsNameMapProjection(s)) &&
		!s.Distinct && s.Take == nil && s.Skip == nil && s.Where == nil &&
		len(s.OrderBy) == 0 && len(s.GroupBy) == 0
}

// gatherRedundant collects the redundant selects of a source tree without
// looking inside them or inside subquery expressions.
func gatherRedundant(source nodes.Node) []*nodes.Select {
	var out []*nodes.Select
	nodes.Walk(source, func(x nodes.Node) bool {
		switch x := x.(type) {
		case *nodes.Select:
			if isRedundantSubquery(x) {
				out = append(out, x)
			}
			return false
		case *nodes.Scalar, *nodes.Exists, *nodes.In:
			return false
		}
		return true
	})
	return out
}

type redundantSubqueries struct {
	*nodes.Rewriter
}

func (r *redundantSubqueries) RewriteSelect(n *nodes.Select) nodes.Node {
	sel := r.Rewriter.RewriteSelect(n).(*nodes.Select)
	if redundant := gatherRedundant(sel.From); len(redundant) > 0 {
		return removeSubqueries(sel, redundant)
	}
	return sel
}

func (r *redundantSubqueries) RewriteProjection(n *nodes.Projection) nodes.Node {
	proj := r.Rewriter.RewriteProjection(n).(*nodes.Projection)
	if _, ok := proj.Select.From.(*nodes.Select); ok {
		if redundant := gatherRedundant(proj.Select); len(redundant) > 0 {
			return removeSubqueries(proj, redundant)
		}
	}
	return proj
}

// removeSubqueries replaces each of the selects in tree by its source and
// rewrites references to its columns into the declared expressions.
func removeSubqueries(tree nodes.Node, selects []*nodes.Select) nodes.Node {
	r := &subqueryRemover{
		remove:  make(map[*nodes.Select]bool, len(selects)),
		columns: make(map[*nodes.TableAlias]map[string]nodes.Node, len(selects)),
	}
	for _, s := range selects {
		r.remove[s] = true
		cols := make(map[string]nodes.Node, len(s.Columns))
		for _, d := range s.Columns {
			cols[d.Name] = d.Expr
		}
		r.columns[s.Alias] = cols
	}
	r.Rewriter = nodes.NewRewriter(r)
	return r.Rewrite(tree)
}

type subqueryRemover struct {
	*nodes.Rewriter
	remove  map[*nodes.Select]bool
	columns map[*nodes.TableAlias]map[string]nodes.Node
}

func (r *subqueryRemover) RewriteSelect(n *nodes.Select) nodes.Node {
	if r.remove[n] {
		return r.Rewrite(n.From)
	}
	return r.Rewriter.RewriteSelect(n)
}

func (r *subqueryRemover) RewriteColumn(n *nodes.Column) nodes.Node {
	cols, ok := r.columns[n.Alias]
	if !ok {
		return n
	}
	e, ok := cols[n.Name]
	if !ok {
		panic("relq: reference to undefined column " + n.Name)
	}
	return r.Rewrite(e)
}

type subqueryMerger struct {
	*nodes.Rewriter
	topLevel bool
}

func (m *subqueryMerger) RewriteSelect(n *nodes.Select) nodes.Node {
	wasTop := m.topLevel
	m.topLevel = false
	sel := m.Rewriter.RewriteSelect(n).(*nodes.Select)
	for canMergeWithFrom(sel, wasTop) {
		from := leftmostSelect(sel.From)
		sel = removeSubqueries(sel, []*nodes.Select{from}).(*nodes.Select)

		where := sel.Where
		if from.Where != nil {
			where = nodes.AndAlso(from.Where, where)
		}
		orderBy := sel.OrderBy
		if len(orderBy) == 0 {
			orderBy = from.OrderBy
		}
		groupBy := sel.GroupBy
		if len(groupBy) == 0 {
			groupBy = from.GroupBy
		}
		skip := sel.Skip
		if skip == nil {
			skip = from.Skip
		}
		take := sel.Take
		if take == nil {
			take = from.Take
		}
		sel = nodes.UpdateSelect(sel, sel.Columns, sel.From, where, orderBy, groupBy, skip, take, sel.Distinct || from.Distinct)
	}
	return sel
}

func leftmostSelect(source nodes.Node) *nodes.Select {
	switch s := source.(type) {
	case *nodes.Select:
		return s
	case *nodes.Join:
		return leftmostSelect(s.Left)
	}
	return nil
}

// isColumnProjection reports whether s declares only column references
// and constants.
func isColumnProjection(s *nodes.Select) bool {
	for _, d := range s.Columns {
		switch d.Expr.(type) {
		case *nodes.Column, *nodes.Constant:
		default:
			return false
		}
	}
	return true
}

func canMergeWithFrom(s *nodes.Select, topLevel bool) bool {
	from := leftmostSelect(s.From)
	if from == nil || !isColumnProjection(from) {
		return false
	}
	nameMap := IsNameMapProjection(s)
	hasOrderBy := len(s.OrderBy) > 0
	hasGroupBy := len(s.GroupBy) > 0
	hasAggregates := nodes.HasAggregates(s)
	_, hasJoin := s.From.(*nodes.Join)
	fromOrderBy := len(from.OrderBy) > 0
	fromGroupBy := len(from.GroupBy) > 0
	fromAggregates := nodes.HasAggregates(from)

	if hasOrderBy && fromOrderBy && orderedAlike(s, from) {
		// Re-sorting rows by the order they already have changes nothing.
		hasOrderBy = false
	}
	switch {
	case hasOrderBy && fromOrderBy:
		return false
	case hasGroupBy && fromGroupBy:
		return false
	case fromOrderBy && (hasGroupBy || hasAggregates || s.Distinct):
		return false
	case fromGroupBy:
		return false
	case from.Paged() && (s.Where != nil || hasOrderBy):
		// The outer filter or ordering applies after the page was cut.
		return false
	case from.Take != nil && (s.Take != nil || s.Skip != nil || s.Distinct || hasAggregates || hasGroupBy || hasJoin):
		return false
	case from.Skip != nil && (s.Skip != nil || s.Distinct || hasAggregates || hasGroupBy || hasJoin):
		return false
	case from.Distinct && (s.Take != nil || s.Skip != nil || !nameMap || hasGroupBy || hasAggregates || (hasOrderBy && !topLevel) || hasJoin):
		return false
	case fromAggregates && (s.Take != nil || s.Skip != nil || s.Distinct || hasAggregates || hasGroupBy || hasJoin):
		return false
	}
	return true
}

// orderedAlike reports whether s orders by the columns of from that
// declare from's own ordering, in the same directions.
func orderedAlike(s, from *nodes.Select) bool {
	if len(s.OrderBy) != len(from.OrderBy) {
		return false
	}
	for i, o := range s.OrderBy {
		c, ok := o.Expr.(*nodes.Column)
		if !ok || c.Alias != from.Alias || o.Direction != from.OrderBy[i].Direction {
			return false
		}
		d, ok := from.ColumnNamed(c.Name)
		if !ok || !nodes.Equal(d.Expr, from.OrderBy[i].Expr) {
			return false
		}
	}
	return true
}
