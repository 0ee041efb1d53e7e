package binder

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
)

// BindFunctions attaches each unbound call to the renderer registered for
// its normalized name and checks the argument count. Calls without a
// renderer stay unbound; the SQL builder rejects them.
func BindFunctions(n nodes.Node, reg *dialect.Registry) (nodes.Node, error) {
	if reg == nil {
		return n, nil
	}
	b := &functionBinder{reg: reg}
	b.Rewriter = nodes.NewRewriter(b)
	out := b.Rewrite(n)
	if b.err != nil {
		return nil, b.err
	}
	return out, nil
}

type functionBinder struct {
	*nodes.Rewriter
	reg *dialect.Registry
	err error
}

func (b *functionBinder) RewriteFunctionCall(n *nodes.FunctionCall) nodes.Node {
	args := b.RewriteList(n.Args)
	if n.Bound() {
		if sameArgs(args, n.Args) {
			return n
		}
		return &nodes.FunctionCall{Name: n.Name, Key: n.Key, Args: args, T: n.T}
	}
	fn, ok := b.reg.Lookup(n.Name)
	if !ok {
		if sameArgs(args, n.Args) {
			return n
		}
		return &nodes.FunctionCall{Name: n.Name, Args: args, T: n.T}
	}
	if err := fn.CheckArity(n.Name, len(args)); err != nil && b.err == nil {
		b.err = err
	}
	return &nodes.FunctionCall{Name: n.Name, Key: dialect.NormalizeName(n.Name), Args: args, T: functionType(n, args)}
}

func sameArgs(a, b []nodes.Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// functionType infers a result type for the common scalar functions when
// the call does not declare one.
func functionType(n *nodes.FunctionCall, args []nodes.Node) nodes.Type {
	if n.T.Kind != nodes.TypeUnknown {
		return n.T
	}
	nullable := false
	for _, a := range args {
		nullable = nullable || a.Type().Nullable
	}
	t := nodes.UnknownType
	switch dialect.NormalizeName(n.Name) {
	case "lower", "upper", "trim", "ltrim", "rtrim", "substring", "substr", "replace", "concat", "tostring":
		t = nodes.StringType
	case "length", "len", "locate", "indexof", "datediff", "datepart", "year", "month", "day", "hour", "minute", "second":
		t = nodes.Int64Type
	case "abs", "round", "floor", "ceiling", "ceil", "sign":
		if len(args) > 0 {
			t = args[0].Type()
		}
	case "sqrt", "power", "exp", "log", "log10":
		t = nodes.FloatType
	case "now", "today", "adddays", "addmonths", "addyears", "date":
		t = nodes.DateTimeType
	}
	if t.Kind == nodes.TypeUnknown {
		return t
	}
	t.Nullable = nullable
	return t
}
