package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bawdo/relq/nodes"
)

// String renders the operator sequence in a canonical one-line form.
func (q Query) String() string {
	var sb strings.Builder
	q.write(&sb, false)
	return sb.String()
}

// Shape is the canonical key of the query's structure: parameter values
// are left out, literals are kept. Queries with equal shapes compile to
// the same plan up to parameter values.
func (q Query) Shape() string {
	var sb strings.Builder
	sb.WriteString("relq/query/v1\x00")
	q.write(&sb, true)
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func (q Query) write(sb *strings.Builder, shape bool) {
	for i, op := range q.ops {
		if i > 0 {
			sb.WriteString(" | ")
		}
		sb.WriteString(op.Kind.String())
		expr := func(n nodes.Node) {
			sb.WriteByte(' ')
			if shape {
				sb.WriteString(nodes.Format(stripParameterValues(n)))
				return
			}
			sb.WriteString(nodes.Format(n))
		}
		switch op.Kind {
		case OpFrom, OpCrossJoin:
			fmt.Fprintf(sb, " %s as %s", op.Entity, op.As)
		case OpJoin, OpLeftJoin:
			fmt.Fprintf(sb, " %s as %s on", op.Entity, op.As)
			expr(op.Outer)
			sb.WriteString(" =")
			expr(op.Inner)
		case OpSelectMany:
			expr(op.Expr)
			fmt.Fprintf(sb, " as %s", op.As)
		case OpOrderBy, OpThenBy:
			expr(op.Expr)
			if op.Desc {
				sb.WriteString(" desc")
			}
		case OpAggregate:
			sb.WriteString(" " + op.Func.String())
			if op.Expr != nil {
				expr(op.Expr)
			}
		case OpFirst, OpSingle:
			if op.OrDefault {
				sb.WriteString(" or_default")
			}
		case OpInclude:
			sb.WriteString(" " + op.Path)
		case OpValue:
			sb.WriteString(" (")
			op.Sub.write(sb, shape)
			sb.WriteString(")")
		case OpDistinct:
		default:
			expr(op.Expr)
		}
	}
}

// stripParameterValues drops values so that the formatted text depends on
// parameter names and types only.
func stripParameterValues(n nodes.Node) nodes.Node {
	var pairs []nodes.Pair
	nodes.Walk(n, func(x nodes.Node) bool {
		if p, ok := x.(*nodes.Parameter); ok {
			pairs = append(pairs, nodes.Pair{Search: p, Replacement: &nodes.Parameter{Name: p.Name + ":" + p.T.String()}})
		}
		return true
	})
	return nodes.ReplaceAll(n, pairs...)
}

// Parameters returns the current value of every parameter in the query,
// by name.
func (q Query) Parameters() map[string]any {
	out := make(map[string]any)
	q.collect(out)
	return out
}

func (q Query) collect(out map[string]any) {
	visit := func(n nodes.Node) {
		nodes.Walk(n, func(x nodes.Node) bool {
			if p, ok := x.(*nodes.Parameter); ok {
				out[p.Name] = p.Value
			}
			return true
		})
	}
	for _, op := range q.ops {
		visit(op.Expr)
		visit(op.Outer)
		visit(op.Inner)
		if op.Sub != nil {
			op.Sub.collect(out)
		}
	}
}
