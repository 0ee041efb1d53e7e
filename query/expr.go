package query

import (
	"github.com/bawdo/relq/internal/quoting"
	"github.com/bawdo/relq/nodes"
)

// F is a member reference relative to the current row: a field name, a
// range-qualified field ("d.Name") or a navigation path ("Dept.Name").
func F(path string) *nodes.Member { return nodes.NewMember(path) }

// V is a literal value.
func V(v any) *nodes.Constant { return nodes.NewConstant(v) }

// P is a named parameter with its current value. Plans compiled from
// queries differing only in parameter values are shared by the cache.
func P(name string, v any) *nodes.Parameter { return nodes.NewParameter(name, v) }

// Fields builds a record projector. Arguments alternate between a field
// name and its expression; a bare *nodes.Member argument names itself
// after the last element of its path.
func Fields(args ...any) *nodes.Record {
	var fields []nodes.Field
	for i := 0; i < len(args); i++ {
		switch a := args[i].(type) {
		case *nodes.Member:
			fields = append(fields, nodes.Field{Name: a.Path[len(a.Path)-1], Expr: a})
		case string:
			if i+1 >= len(args) {
				fields = append(fields, nodes.Field{Name: lastSegment(a), Expr: nodes.NewMember(a)})
				continue
			}
			if n, ok := args[i+1].(nodes.Node); ok {
				fields = append(fields, nodes.Field{Name: a, Expr: n})
				i++
				continue
			}
			fields = append(fields, nodes.Field{Name: lastSegment(a), Expr: nodes.NewMember(a)})
		default:
			panic("relq: Fields takes names, members and name/expression pairs")
		}
	}
	return nodes.NewRecord("", fields...)
}

func lastSegment(path string) string {
	m := nodes.NewMember(path)
	return m.Path[len(m.Path)-1]
}

// Call is a function call resolved against the dialect's registry during
// translation.
func Call(name string, args ...nodes.Node) *nodes.FunctionCall {
	return nodes.NewFunctionCall(name, nodes.UnknownType, args...)
}

// Agg is an aggregate over the current group, or over a collection
// navigation such as Agg("count", F("Orders")).
func Agg(name string, arg ...nodes.Node) *nodes.FunctionCall {
	return nodes.NewFunctionCall(name, nodes.UnknownType, arg...)
}

// Contains matches string values containing s.
func Contains(expr nodes.Node, s string) *nodes.Binary {
	return nodes.NewBinary(nodes.OpLike, expr, nodes.NewConstant("%"+quoting.EscapeLikePattern(s)+"%"))
}

// StartsWith matches string values beginning with s.
func StartsWith(expr nodes.Node, s string) *nodes.Binary {
	return nodes.NewBinary(nodes.OpLike, expr, nodes.NewConstant(quoting.EscapeLikePattern(s)+"%"))
}

// EndsWith matches string values ending with s.
func EndsWith(expr nodes.Node, s string) *nodes.Binary {
	return nodes.NewBinary(nodes.OpLike, expr, nodes.NewConstant("%"+quoting.EscapeLikePattern(s)))
}

// In tests membership in a list of values.
func In(expr nodes.Node, values ...any) *nodes.In {
	vs := make([]nodes.Node, len(values))
	for i, v := range values {
		if n, ok := v.(nodes.Node); ok {
			vs[i] = n
			continue
		}
		vs[i] = nodes.NewConstant(v)
	}
	return &nodes.In{Expr: expr, Values: vs}
}

// If is a conditional value.
func If(test, ifTrue, ifFalse nodes.Node) *nodes.Conditional {
	return nodes.NewConditional(test, ifTrue, ifFalse)
}

// Cast converts expr to t.
func Cast(expr nodes.Node, t nodes.Type) *nodes.Convert {
	return &nodes.Convert{Operand: expr, T: t}
}

// Between tests low <= expr <= high.
func Between(expr, low, high nodes.Node) *nodes.Between {
	return nodes.NewBetween(expr, low, high)
}
