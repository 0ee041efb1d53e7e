package passes

import "github.com/bawdo/relq/nodes"

// RewriteThreeTopPager pages with TOP alone. A select ordered by O with
// Skip s and Take t becomes
//
//	outer:  ordered by O, reading
//	middle: TOP (max(count(inner) - s, 0)) ordered by reversed O, reading
//	inner:  TOP (s + t) ordered by O
//
// so the middle keeps the rows ranked s+1 to min(N, s+t). Without a Take
// the inner select is unlimited. Selects without an ordering are left
// alone.
func RewriteThreeTopPager(n nodes.Node) nodes.Node {
	r := &threeTopPager{}
	r.Rewriter = nodes.NewRewriter(r)
	return r.Rewrite(n)
}

type threeTopPager struct {
	*nodes.Rewriter
}

func (r *threeTopPager) RewriteSelect(n *nodes.Select) nodes.Node {
	sel := r.Rewriter.RewriteSelect(n).(*nodes.Select)
	if sel.Skip == nil || len(sel.OrderBy) == 0 {
		return sel
	}
	skip := sel.Skip
	var take nodes.Node
	if sel.Take != nil {
		take = addCount(skip, 0, sel.Take)
	}
	inner := sel.WithAlias(nodes.NewTableAlias()).WithSkip(nil).WithTake(take)
	keys := make([]*nodes.Column, len(sel.OrderBy))
	for i, o := range sel.OrderBy {
		base := "c"
		if c, ok := o.Expr.(*nodes.Column); ok {
			base = c.Name
		}
		inner, keys[i] = declareColumn(inner, o.Expr, base)
	}

	remaining := remainingRows(inner, skip)

	middleAlias := nodes.NewTableAlias()
	middleCols := make([]nodes.ColumnDeclaration, len(inner.Columns))
	for i, d := range inner.Columns {
		middleCols[i] = nodes.ColumnDeclaration{Name: d.Name, Expr: nodes.NewColumn(inner.Alias, d.Name, d.T), T: d.T}
	}
	reversed := make([]nodes.Ordering, len(sel.OrderBy))
	restored := make([]nodes.Ordering, len(sel.OrderBy))
	for i, o := range sel.OrderBy {
		reversed[i] = nodes.Ordering{Expr: keys[i], Direction: o.Direction.Reverse()}
		restored[i] = nodes.Ordering{Expr: nodes.NewColumn(middleAlias, keys[i].Name, keys[i].T), Direction: o.Direction}
	}
	middle := &nodes.Select{Alias: middleAlias, Columns: middleCols, From: inner, OrderBy: reversed, Take: remaining}

	outerCols := make([]nodes.ColumnDeclaration, len(sel.Columns))
	for i, d := range sel.Columns {
		outerCols[i] = nodes.ColumnDeclaration{Name: d.Name, Expr: nodes.NewColumn(middleAlias, d.Name, d.T), T: d.T}
	}
	return &nodes.Select{Alias: sel.Alias, Columns: outerCols, From: middle, OrderBy: restored}
}

// remainingRows is a scalar select over a copy of inner computing
// max(count - skip, 0) in one pass over the rows.
func remainingRows(inner *nodes.Select, skip nodes.Node) nodes.Node {
	count := func() nodes.Node { return nodes.NewAggregate(nodes.AggCount, nil, false) }
	t := count().Type()
	expr := nodes.NewConditional(nodes.Gt(count(), skip), nodes.NewBinary(nodes.OpSub, count(), skip), nodes.NewConstant(int64(0)))
	cs := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{{Name: "value", Expr: expr, T: t}}, nodes.Clone(inner), nil)
	return &nodes.Scalar{Select: cs, T: t}
}
