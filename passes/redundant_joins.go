package passes

import "github.com/bawdo/relq/nodes"

// RemoveRedundantJoins merges a singleton left outer join into an earlier
// one to an equal source under an equal condition, redirecting column
// references to the surviving source, and drops singleton left outer
// joins whose right side is referenced only by their own condition.
func RemoveRedundantJoins(n nodes.Node) nodes.Node {
	r := &redundantJoins{mapped: make(map[*nodes.TableAlias]*nodes.TableAlias)}
	r.Rewriter = nodes.NewRewriter(r)
	return r.Rewrite(n)
}

type redundantJoins struct {
	*nodes.Rewriter
	mapped map[*nodes.TableAlias]*nodes.TableAlias
}

func sourceAlias(n nodes.Node) *nodes.TableAlias {
	switch n := n.(type) {
	case *nodes.Select:
		return n.Alias
	case *nodes.Table:
		return n.Alias
	}
	return nil
}

func (r *redundantJoins) RewriteJoin(n *nodes.Join) nodes.Node {
	j := r.Rewriter.RewriteJoin(n).(*nodes.Join)
	right := sourceAlias(j.Right)
	if right == nil || j.JoinKind != nodes.SingletonLeftOuterJoin {
		return j
	}
	if similar := findSimilarRight(j.Left, j); similar != nil {
		r.mapped[right] = similar
		return j.Left
	}
	return j
}

// findSimilarRight searches the join tree under source for a join of the
// same kind as target to an equal right side under an equal condition.
func findSimilarRight(source nodes.Node, target *nodes.Join) *nodes.TableAlias {
	j, ok := source.(*nodes.Join)
	if !ok {
		return nil
	}
	if j.JoinKind == target.JoinKind && nodes.Equal(j.Right, target.Right) {
		if a := sourceAlias(j.Right); a != nil {
			aliases := map[*nodes.TableAlias]*nodes.TableAlias{a: sourceAlias(target.Right)}
			if nodes.EqualWithAliases(j.Condition, target.Condition, aliases) {
				return a
			}
		}
	}
	if a := findSimilarRight(j.Left, target); a != nil {
		return a
	}
	return findSimilarRight(j.Right, target)
}

func (r *redundantJoins) RewriteColumn(n *nodes.Column) nodes.Node {
	if a, ok := r.mapped[n.Alias]; ok {
		return nodes.NewColumn(a, n.Name, n.T)
	}
	return n
}

func (r *redundantJoins) RewriteSelect(n *nodes.Select) nodes.Node {
	sel := r.Rewriter.RewriteSelect(n).(*nodes.Select)
	if _, ok := sel.From.(*nodes.Join); !ok {
		return sel
	}
	counts := nodes.AliasReferenceCounts(sel)
	if from := dropUnreferencedJoins(sel.From, counts); from != sel.From {
		return sel.WithFrom(from)
	}
	return sel
}

func dropUnreferencedJoins(source nodes.Node, counts map[*nodes.TableAlias]int) nodes.Node {
	j, ok := source.(*nodes.Join)
	if !ok {
		return source
	}
	left := dropUnreferencedJoins(j.Left, counts)
	right := dropUnreferencedJoins(j.Right, counts)
	if j.JoinKind == nodes.SingletonLeftOuterJoin {
		own := nodes.AliasReferenceCounts(j.Condition)
		referenced := false
		for a := range nodes.DeclaredAliases(right) {
			if counts[a]-own[a] > 0 {
				referenced = true
			}
		}
		if !referenced {
			return left
		}
	}
	return nodes.UpdateJoin(j, j.JoinKind, left, right, j.Condition)
}
