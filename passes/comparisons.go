package passes

import "github.com/bawdo/relq/nodes"

// RewriteComparisons gives equality and inequality two-valued semantics
// over nullable operands: comparing with NULL becomes IS [NOT] NULL,
// equality of two nullable operands becomes a null-safe equality, and an
// inequality involving a nullable operand also holds when exactly one
// side is NULL. NOT (a = b) is treated as a <> b.
//
// Parameters are nullable when their type is, which is the case for a
// parameter bound to nil.
func RewriteComparisons(n nodes.Node) nodes.Node {
	r := &comparisonRewriter{}
	r.Rewriter = nodes.NewRewriter(r)
	return r.Rewrite(n)
}

type comparisonRewriter struct {
	*nodes.Rewriter
}

func nullable(n nodes.Node) bool {
	if _, ok := n.(*nodes.Constant); ok {
		return false
	}
	return n.Type().Nullable
}

func mayBeNull(b *nodes.Binary) bool {
	return nullable(b.Left) || nullable(b.Right) || nodes.IsNullConstant(b.Left) || nodes.IsNullConstant(b.Right)
}

func (r *comparisonRewriter) RewriteUnary(n *nodes.Unary) nodes.Node {
	if b, ok := n.Operand.(*nodes.Binary); ok && n.Op == nodes.OpNot && b.Op == nodes.OpEq && mayBeNull(b) {
		return r.RewriteBinary(nodes.NotEq(b.Left, b.Right))
	}
	return r.Rewriter.RewriteUnary(n)
}

func (r *comparisonRewriter) RewriteBinary(n *nodes.Binary) nodes.Node {
	if isNullAwareNotEq(n) {
		return n
	}
	out := r.Rewriter.RewriteBinary(n)
	b := out.(*nodes.Binary)
	if b.Op != nodes.OpEq && b.Op != nodes.OpNotEq {
		return out
	}
	l, rt := b.Left, b.Right
	if nodes.IsNullConstant(l) {
		l, rt = rt, l
	}
	if nodes.IsNullConstant(rt) {
		if b.Op == nodes.OpEq {
			return nodes.IsNull(l)
		}
		return nodes.IsNotNull(l)
	}
	ln, rn := nullable(b.Left), nullable(b.Right)
	if b.Op == nodes.OpEq {
		if ln && rn {
			return nodes.NewBinary(nodes.OpNullSafeEq, b.Left, b.Right)
		}
		return out
	}
	switch {
	case ln && rn:
		return nodes.Or(nodes.Or(b,
			nodes.And(nodes.IsNull(b.Left), nodes.IsNotNull(b.Right))),
			nodes.And(nodes.IsNotNull(b.Left), nodes.IsNull(b.Right)))
	case ln:
		return nodes.Or(b, nodes.IsNull(b.Left))
	case rn:
		return nodes.Or(b, nodes.IsNull(b.Right))
	}
	return out
}

// isNullAwareNotEq reports whether n is an inequality already expanded
// by this pass.
func isNullAwareNotEq(n *nodes.Binary) bool {
	if n.Op != nodes.OpOr {
		return false
	}
	if ne, ok := n.Left.(*nodes.Binary); ok && ne.Op == nodes.OpNotEq {
		return isUnary(n.Right, nodes.OpIsNull, ne.Left) || isUnary(n.Right, nodes.OpIsNull, ne.Right)
	}
	inner, ok := n.Left.(*nodes.Binary)
	if !ok || inner.Op != nodes.OpOr {
		return false
	}
	ne, ok := inner.Left.(*nodes.Binary)
	if !ok || ne.Op != nodes.OpNotEq {
		return false
	}
	return isNullPair(inner.Right, ne.Left, ne.Right) && isNullPair(n.Right, ne.Right, ne.Left)
}

// isNullPair matches "null IS NULL AND notNull IS NOT NULL" in either
// order.
func isNullPair(n, null, notNull nodes.Node) bool {
	and, ok := n.(*nodes.Binary)
	if !ok || and.Op != nodes.OpAnd {
		return false
	}
	return isUnary(and.Left, nodes.OpIsNull, null) && isUnary(and.Right, nodes.OpIsNotNull, notNull) ||
		isUnary(and.Left, nodes.OpIsNotNull, notNull) && isUnary(and.Right, nodes.OpIsNull, null)
}

func isUnary(n nodes.Node, op nodes.UnaryOp, operand nodes.Node) bool {
	u, ok := n.(*nodes.Unary)
	return ok && u.Op == op && nodes.Equal(u.Operand, operand)
}
