// Package binder turns a front-end query into the IR: it folds constant
// subexpressions, binds function calls to the dialect registry, resolves
// members against the mapping and expands relationship navigations.
package binder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bawdo/relq/nodes"
)

var errNotEvaluable = errors.New("not locally evaluable")

// CanEvaluateLocally is the default predicate of Evaluate: constants and
// operators over them. Columns, members, parameters, aggregates,
// subqueries and function calls depend on the database or on values bound
// later.
func CanEvaluateLocally(n nodes.Node) bool {
	switch x := n.(type) {
	case *nodes.Constant, *nodes.Binary, *nodes.Unary, *nodes.Conditional,
		*nodes.Convert, *nodes.Between:
		return true
	case *nodes.In:
		return x.Select == nil
	}
	return false
}

// Evaluate folds every maximal subtree whose nodes all satisfy
// canEvaluate into a Constant holding its value. A nil canEvaluate means
// CanEvaluateLocally. Subtrees that fail to evaluate stay as they are.
func Evaluate(n nodes.Node, canEvaluate func(nodes.Node) bool) nodes.Node {
	if n == nil {
		return nil
	}
	if canEvaluate == nil {
		canEvaluate = CanEvaluateLocally
	}
	nom := &evalNominator{can: canEvaluate, candidates: make(map[nodes.Node]bool)}
	nom.Rewriter = nodes.NewRewriter(nom)
	nom.Rewrite(n)
	f := &folder{candidates: nom.candidates}
	f.Rewriter = nodes.NewRewriter(f)
	return f.Rewrite(n)
}

type evalNominator struct {
	*nodes.Rewriter
	can        func(nodes.Node) bool
	candidates map[nodes.Node]bool
	blocked    bool
}

func (v *evalNominator) Rewrite(n nodes.Node) nodes.Node {
	if n == nil {
		return nil
	}
	saved := v.blocked
	v.blocked = false
	v.Rewriter.Rewrite(n)
	if !v.blocked {
		if v.can(n) {
			v.candidates[n] = true
		} else {
			v.blocked = true
		}
	}
	v.blocked = v.blocked || saved
	return n
}

type folder struct {
	*nodes.Rewriter
	candidates map[nodes.Node]bool
}

func (f *folder) Rewrite(n nodes.Node) nodes.Node {
	if n == nil {
		return nil
	}
	if f.candidates[n] {
		if _, ok := n.(*nodes.Constant); ok {
			return n
		}
		v, err := eval(n)
		if err == nil {
			return nodes.NewTypedConstant(v, foldedType(v, n.Type()))
		}
	}
	return f.Rewriter.Rewrite(n)
}

func foldedType(v any, declared nodes.Type) nodes.Type {
	if v == nil {
		return declared.Null()
	}
	return nodes.TypeOf(v)
}

func eval(n nodes.Node) (any, error) {
	switch n := n.(type) {
	case *nodes.Constant:
		return normalize(n.Value), nil
	case *nodes.Unary:
		v, err := eval(n.Operand)
		if err != nil {
			return nil, err
		}
		return evalUnary(n.Op, v)
	case *nodes.Binary:
		l, err := eval(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := eval(n.Right)
		if err != nil {
			return nil, err
		}
		return evalBinary(n.Op, l, r)
	case *nodes.Conditional:
		t, err := eval(n.Test)
		if err != nil {
			return nil, err
		}
		b, ok := t.(bool)
		if !ok {
			return nil, errNotEvaluable
		}
		if b {
			return eval(n.IfTrue)
		}
		return eval(n.IfFalse)
	case *nodes.Convert:
		v, err := eval(n.Operand)
		if err != nil {
			return nil, err
		}
		return convert(v, n.T)
	case *nodes.Between:
		lo, err := evalBinary(nodes.OpGtEq, must(eval(n.Expr)), must(eval(n.Low)))
		if err != nil {
			return nil, err
		}
		hi, err := evalBinary(nodes.OpLtEq, must(eval(n.Expr)), must(eval(n.High)))
		if err != nil {
			return nil, err
		}
		return evalBinary(nodes.OpAnd, lo, hi)
	case *nodes.In:
		v, err := eval(n.Expr)
		if err != nil || v == nil {
			return nil, errNotEvaluable
		}
		for _, x := range n.Values {
			e, err := eval(x)
			if err != nil || e == nil {
				return nil, errNotEvaluable
			}
			eq, err := evalBinary(nodes.OpEq, v, e)
			if err != nil {
				return nil, err
			}
			if eq == true {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, errNotEvaluable
}

// must turns an evaluation failure into a value that makes the enclosing
// comparison fail.
func must(v any, err error) any {
	if err != nil {
		return errNotEvaluable
	}
	return v
}

// normalize widens Go values to int64, float64, decimal, string or bool.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

func evalUnary(op nodes.UnaryOp, v any) (any, error) {
	switch op {
	case nodes.OpIsNull:
		return v == nil, nil
	case nodes.OpIsNotNull:
		return v != nil, nil
	}
	if v == nil {
		if op == nodes.OpNot {
			return nil, errNotEvaluable
		}
		return nil, nil
	}
	switch op {
	case nodes.OpNot:
		if b, ok := v.(bool); ok {
			return !b, nil
		}
	case nodes.OpNegate:
		switch x := v.(type) {
		case int64:
			return -x, nil
		case float64:
			return -x, nil
		case decimal.Decimal:
			return x.Neg(), nil
		}
	case nodes.OpBitNot:
		if x, ok := v.(int64); ok {
			return ^x, nil
		}
	}
	return nil, errNotEvaluable
}

func evalBinary(op nodes.BinaryOp, l, r any) (any, error) {
	if l == errNotEvaluable || r == errNotEvaluable {
		return nil, errNotEvaluable
	}
	switch op {
	case nodes.OpAnd, nodes.OpOr:
		lb, lok := l.(bool)
		rb, rok := r.(bool)
		if !lok || !rok {
			return nil, errNotEvaluable
		}
		if op == nodes.OpAnd {
			return lb && rb, nil
		}
		return lb || rb, nil
	case nodes.OpCoalesce:
		if l != nil {
			return l, nil
		}
		return r, nil
	case nodes.OpLike, nodes.OpNullSafeEq:
		return nil, errNotEvaluable
	}
	// Comparisons with NULL keep their three-valued meaning for the
	// database.
	if l == nil || r == nil {
		if op.IsComparison() {
			return nil, errNotEvaluable
		}
		return nil, nil
	}
	if op == nodes.OpConcat {
		ls, lok := l.(string)
		rs, rok := r.(string)
		if !lok || !rok {
			return nil, errNotEvaluable
		}
		return ls + rs, nil
	}
	if op.IsComparison() {
		c, err := compare(l, r)
		if err != nil {
			if op == nodes.OpEq || op == nodes.OpNotEq {
				lb, lok := l.(bool)
				rb, rok := r.(bool)
				if lok && rok {
					return (lb == rb) == (op == nodes.OpEq), nil
				}
			}
			return nil, err
		}
		switch op {
		case nodes.OpEq:
			return c == 0, nil
		case nodes.OpNotEq:
			return c != 0, nil
		case nodes.OpLt:
			return c < 0, nil
		case nodes.OpLtEq:
			return c <= 0, nil
		case nodes.OpGt:
			return c > 0, nil
		case nodes.OpGtEq:
			return c >= 0, nil
		}
	}
	return arithmetic(op, l, r)
}

func compare(l, r any) (int, error) {
	if ls, ok := l.(string); ok {
		rs, ok := r.(string)
		if !ok {
			return 0, errNotEvaluable
		}
		return strings.Compare(ls, rs), nil
	}
	ld, lok := toDecimal(l)
	rd, rok := toDecimal(r)
	if !lok || !rok {
		return 0, errNotEvaluable
	}
	return ld.Cmp(rd), nil
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case int64:
		return decimal.NewFromInt(x), true
	case float64:
		return decimal.NewFromFloat(x), true
	case decimal.Decimal:
		return x, true
	}
	return decimal.Decimal{}, false
}

func arithmetic(op nodes.BinaryOp, l, r any) (any, error) {
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch op {
		case nodes.OpAdd:
			return li + ri, nil
		case nodes.OpSub:
			return li - ri, nil
		case nodes.OpMul:
			return li * ri, nil
		case nodes.OpDiv:
			if ri == 0 {
				return nil, errNotEvaluable
			}
			return li / ri, nil
		case nodes.OpMod:
			if ri == 0 {
				return nil, errNotEvaluable
			}
			return li % ri, nil
		case nodes.OpBitAnd:
			return li & ri, nil
		case nodes.OpBitOr:
			return li | ri, nil
		case nodes.OpBitXor:
			return li ^ ri, nil
		case nodes.OpShiftLeft:
			return li << uint64(ri), nil
		case nodes.OpShiftRight:
			return li >> uint64(ri), nil
		}
		return nil, errNotEvaluable
	}
	_, lFloat := l.(float64)
	_, rFloat := r.(float64)
	ld, lok := toDecimal(l)
	rd, rok := toDecimal(r)
	if !lok || !rok {
		return nil, errNotEvaluable
	}
	var out decimal.Decimal
	switch op {
	case nodes.OpAdd:
		out = ld.Add(rd)
	case nodes.OpSub:
		out = ld.Sub(rd)
	case nodes.OpMul:
		out = ld.Mul(rd)
	case nodes.OpDiv:
		if rd.IsZero() {
			return nil, errNotEvaluable
		}
		out = ld.Div(rd)
	default:
		return nil, errNotEvaluable
	}
	if lFloat || rFloat {
		f, _ := out.Float64()
		return f, nil
	}
	return out, nil
}

func convert(v any, t nodes.Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case nodes.TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case int64:
			return strconv.FormatInt(x, 10), nil
		case float64:
			return strconv.FormatFloat(x, 'g', -1, 64), nil
		case decimal.Decimal:
			return x.String(), nil
		case bool:
			return strconv.FormatBool(x), nil
		}
	case nodes.TypeInt, nodes.TypeInt64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			return int64(x), nil
		case decimal.Decimal:
			return x.IntPart(), nil
		case string:
			return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		}
	case nodes.TypeFloat:
		switch x := v.(type) {
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		case decimal.Decimal:
			f, _ := x.Float64()
			return f, nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(x), 64)
		}
	case nodes.TypeDecimal:
		if d, ok := toDecimal(v); ok {
			return d, nil
		}
		if s, ok := v.(string); ok {
			return decimal.NewFromString(strings.TrimSpace(s))
		}
	case nodes.TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: cast %T to %s", errNotEvaluable, v, t)
}
