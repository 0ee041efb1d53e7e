package passes

import "github.com/bawdo/relq/nodes"

// RowNumberColumn names the row-number column added by
// RewriteSkipToRowNumber.
const RowNumberColumn = "rownumber"

// RewriteSkipToRowNumber replaces Skip (and the Take paired with it) by a
// ROW_NUMBER() column over the select's ordering and an outer filter on
// that column: rownumber > skip, or rownumber BETWEEN skip+1 AND skip+take.
// The outer select keeps the alias and visible columns of the original
// and is ordered by the row number.
func RewriteSkipToRowNumber(n nodes.Node) nodes.Node {
	r := &skipToRowNumber{}
	r.Rewriter = nodes.NewRewriter(r)
	return r.Rewrite(n)
}

type skipToRowNumber struct {
	*nodes.Rewriter
}

func (r *skipToRowNumber) RewriteSelect(n *nodes.Select) nodes.Node {
	sel := r.Rewriter.RewriteSelect(n).(*nodes.Select)
	if sel.Skip == nil {
		return sel
	}
	numbered := sel.WithSkip(nil).WithTake(nil).WithOrderBy(nil)
	orderBy := sel.OrderBy
	if sel.Distinct || len(sel.GroupBy) > 0 {
		numbered, orderBy = pushDown(numbered.WithOrderBy(nil), orderBy)
	}
	name := nodes.AvailableColumnName(numbered.Columns, RowNumberColumn)
	numbered = numbered.AddColumn(nodes.ColumnDeclaration{Name: name, Expr: &nodes.RowNumber{OrderBy: orderBy}, T: nodes.Int64Type})

	out := numbered.AddRedundantSelect(nodes.NewTableAlias()).RemoveColumn(name)
	rn := nodes.NewColumn(out.From.(*nodes.Select).Alias, name, nodes.Int64Type)
	var where nodes.Node
	if sel.Take != nil {
		where = nodes.NewBetween(rn, addCount(sel.Skip, 1, nil), addCount(sel.Skip, 0, sel.Take))
	} else {
		where = nodes.Gt(rn, sel.Skip)
	}
	out = out.WithWhere(nodes.AndAlso(out.Where, where))
	return out.WithOrderBy([]nodes.Ordering{{Expr: rn, Direction: nodes.Asc}})
}

// pushDown wraps s in a pass-through select under s's alias, declaring
// the ordering expressions as columns of the wrapped select, and returns
// the wrapper with the orderings expressed through it.
func pushDown(s *nodes.Select, orderBy []nodes.Ordering) (*nodes.Select, []nodes.Ordering) {
	inner := s.WithAlias(nodes.NewTableAlias())
	refs := make([]*nodes.Column, len(orderBy))
	for i, o := range orderBy {
		base := "c"
		if c, ok := o.Expr.(*nodes.Column); ok {
			base = c.Name
		}
		inner, refs[i] = declareColumn(inner, o.Expr, base)
	}
	cols := make([]nodes.ColumnDeclaration, len(s.Columns))
	for i, d := range s.Columns {
		cols[i] = nodes.ColumnDeclaration{Name: d.Name, Expr: nodes.NewColumn(inner.Alias, d.Name, d.T), T: d.T}
	}
	out := make([]nodes.Ordering, len(orderBy))
	for i, o := range orderBy {
		out[i] = nodes.Ordering{Expr: refs[i], Direction: o.Direction}
	}
	return nodes.NewSelect(s.Alias, cols, inner, nil), out
}

// addCount returns skip + delta (+ take), folding integer constants.
func addCount(skip nodes.Node, delta int64, take nodes.Node) nodes.Node {
	s, sok := intValue(skip)
	if take == nil {
		if sok {
			return nodes.NewConstant(s + delta)
		}
		return nodes.NewBinary(nodes.OpAdd, skip, nodes.NewConstant(delta))
	}
	t, tok := intValue(take)
	if sok && tok {
		return nodes.NewConstant(s + t + delta)
	}
	sum := nodes.Node(nodes.NewBinary(nodes.OpAdd, skip, take))
	if delta != 0 {
		sum = nodes.NewBinary(nodes.OpAdd, sum, nodes.NewConstant(delta))
	}
	return sum
}

func intValue(n nodes.Node) (int64, bool) {
	c, ok := n.(*nodes.Constant)
	if !ok {
		return 0, false
	}
	switch v := c.Value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}
