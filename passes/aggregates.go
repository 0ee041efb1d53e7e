package passes

import "github.com/bawdo/relq/nodes"

// RewriteAggregates declares each group aggregate as a column of the
// grouping select it belongs to, passes it up through the selects in
// between and replaces the aggregate by a reference to that column. It
// also drops the ordering of a select read only by an ungrouped aggregate
// when that select is not paged.
func RewriteAggregates(n nodes.Node) nodes.Node {
	r := &aggregateRewriter{}
	r.Rewriter = nodes.NewRewriter(r)
	return r.Rewrite(n)
}

type aggregateRewriter struct {
	*nodes.Rewriter
}

func (r *aggregateRewriter) RewriteSelect(n *nodes.Select) nodes.Node {
	sel := r.Rewriter.RewriteSelect(n).(*nodes.Select)
	for _, as := range ownGroupAggregates(sel) {
		from, ref, ok := positionAggregate(sel.From, as.GroupAlias, as.Aggregate)
		if !ok {
			panic("relq: group of an aggregate is not a source of the select using it")
		}
		sel = nodes.Replace(sel.WithFrom(from), as, ref).(*nodes.Select)
	}
	if len(sel.GroupBy) == 0 && nodes.HasAggregates(sel) {
		if from, ok := sel.From.(*nodes.Select); ok && len(from.OrderBy) > 0 && !from.Paged() {
			sel = sel.WithFrom(from.WithOrderBy(nil))
		}
	}
	return sel
}

// ownGroupAggregates lists the group aggregates used by s itself.
func ownGroupAggregates(s *nodes.Select) []*nodes.AggregateSubquery {
	var out []*nodes.AggregateSubquery
	visit := func(n nodes.Node) {
		nodes.Walk(n, func(x nodes.Node) bool {
			switch x := x.(type) {
			case *nodes.AggregateSubquery:
				out = append(out, x)
				return false
			case *nodes.Select, *nodes.Projection, *nodes.ClientJoin:
				return false
			}
			return true
		})
	}
	for _, d := range s.Columns {
		visit(d.Expr)
	}
	visit(s.Where)
	for _, o := range s.OrderBy {
		visit(o.Expr)
	}
	for _, g := range s.GroupBy {
		visit(g)
	}
	return out
}

// positionAggregate finds the select named group in source, declares agg
// there and passes it up through every select on the way back. It returns
// the rewritten source and the column under which the aggregate is
// visible to the scope reading source.
func positionAggregate(source nodes.Node, group *nodes.TableAlias, agg nodes.Node) (nodes.Node, *nodes.Column, bool) {
	switch s := source.(type) {
	case *nodes.Select:
		if s.Alias == group {
			sel, col := declareColumn(s, agg, "agg")
			return sel, col, true
		}
		from, inner, ok := positionAggregate(s.From, group, agg)
		if !ok {
			return source, nil, false
		}
		sel, col := declareColumn(s.WithFrom(from), inner, inner.Name)
		return sel, col, true
	case *nodes.Join:
		if left, col, ok := positionAggregate(s.Left, group, agg); ok {
			return nodes.NewJoin(s.JoinKind, left, s.Right, s.Condition), col, true
		}
		if right, col, ok := positionAggregate(s.Right, group, agg); ok {
			return nodes.NewJoin(s.JoinKind, s.Left, right, s.Condition), col, true
		}
	}
	return source, nil, false
}

// declareColumn returns s declaring expr, reusing an equal declaration,
// and a reference to that column.
func declareColumn(s *nodes.Select, expr nodes.Node, base string) (*nodes.Select, *nodes.Column) {
	for _, d := range s.Columns {
		if nodes.Equal(d.Expr, expr) {
			return s, nodes.NewColumn(s.Alias, d.Name, d.T)
		}
	}
	name := nodes.AvailableColumnName(s.Columns, base)
	t := expr.Type()
	s = s.AddColumn(nodes.ColumnDeclaration{Name: name, Expr: expr, T: t})
	return s, nodes.NewColumn(s.Alias, name, t)
}
