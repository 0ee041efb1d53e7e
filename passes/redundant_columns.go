package passes

import "github.com/bawdo/relq/nodes"

// RemoveRedundantColumns collapses declarations of the same child column
// (or the same expression instance) within one select. The first
// declaration survives and references to the others are redirected to it.
// The columns of a top-level select are its result and stay as they are.
func RemoveRedundantColumns(n nodes.Node) nodes.Node {
	r := &redundantColumns{mapped: make(map[nodes.ColumnKey]*nodes.Column)}
	r.root, _ = n.(*nodes.Select)
	r.Rewriter = nodes.NewRewriter(r)
	return r.Rewrite(n)
}

type redundantColumns struct {
	*nodes.Rewriter
	root   *nodes.Select
	mapped map[nodes.ColumnKey]*nodes.Column
}

func sameColumnExpr(a, b nodes.Node) bool {
	if a == b {
		return true
	}
	ca, ok := a.(*nodes.Column)
	if !ok {
		return false
	}
	cb, ok := b.(*nodes.Column)
	return ok && ca.Key() == cb.Key()
}

func (r *redundantColumns) RewriteSelect(n *nodes.Select) nodes.Node {
	sel := r.Rewriter.RewriteSelect(n).(*nodes.Select)
	if n == r.root {
		return sel
	}
	var kept []nodes.ColumnDeclaration
	removed := false
	for _, d := range sel.Columns {
		dup := -1
		for i, k := range kept {
			if sameColumnExpr(k.Expr, d.Expr) {
				dup = i
				break
			}
		}
		if dup < 0 {
			kept = append(kept, d)
			continue
		}
		removed = true
		r.mapped[nodes.ColumnKey{Alias: sel.Alias, Name: d.Name}] = nodes.NewColumn(sel.Alias, kept[dup].Name, kept[dup].T)
	}
	if !removed {
		return sel
	}
	return sel.WithColumns(kept)
}

func (r *redundantColumns) RewriteColumn(n *nodes.Column) nodes.Node {
	if m, ok := r.mapped[n.Key()]; ok {
		return m
	}
	return n
}
