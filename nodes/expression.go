package nodes

// BinaryOp is the operator of a Binary node.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpNullSafeEq
	OpLike
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPower
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShiftLeft
	OpShiftRight
	OpConcat
	OpCoalesce
)

var binaryOpNames = [...]string{
	OpEq:         "=",
	OpNotEq:      "<>",
	OpLt:         "<",
	OpLtEq:       "<=",
	OpGt:         ">",
	OpGtEq:       ">=",
	OpNullSafeEq: "<=>",
	OpLike:       "LIKE",
	OpAnd:        "AND",
	OpOr:         "OR",
	OpAdd:        "+",
	OpSub:        "-",
	OpMul:        "*",
	OpDiv:        "/",
	OpMod:        "%",
	OpPower:      "**",
	OpBitAnd:     "&",
	OpBitOr:      "|",
	OpBitXor:     "^",
	OpShiftLeft:  "<<",
	OpShiftRight: ">>",
	OpConcat:     "||",
	OpCoalesce:   "??",
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return "?"
}

// IsComparison reports whether op yields a boolean from two values.
func (op BinaryOp) IsComparison() bool { return op >= OpEq && op <= OpLike }

// IsLogical reports whether op combines two predicates.
func (op BinaryOp) IsLogical() bool { return op == OpAnd || op == OpOr }

// Binary is a two-operand operator.
type Binary struct {
	Op    BinaryOp
	Left  Node
	Right Node
	T     Type
}

func NewBinary(op BinaryOp, left, right Node) *Binary {
	return &Binary{Op: op, Left: left, Right: right, T: binaryType(op, left.Type(), right.Type())}
}

func (n *Binary) Kind() Kind              { return KindBinary }
func (n *Binary) Type() Type              { return n.T }
func (n *Binary) Accept(v Visitor) string { return v.VisitBinary(n) }

func binaryType(op BinaryOp, l, r Type) Type {
	switch {
	case op.IsComparison() || op.IsLogical():
		return BoolType
	case op == OpConcat:
		return Type{Kind: TypeString, Nullable: l.Nullable || r.Nullable}
	case op == OpCoalesce:
		t := l
		if t.Kind == TypeUnknown {
			t = r
		}
		t.Nullable = r.Nullable
		return t
	default:
		return Promote(l, r)
	}
}

func Eq(l, r Node) *Binary    { return NewBinary(OpEq, l, r) }
func NotEq(l, r Node) *Binary { return NewBinary(OpNotEq, l, r) }
func Lt(l, r Node) *Binary    { return NewBinary(OpLt, l, r) }
func LtEq(l, r Node) *Binary  { return NewBinary(OpLtEq, l, r) }
func Gt(l, r Node) *Binary    { return NewBinary(OpGt, l, r) }
func GtEq(l, r Node) *Binary  { return NewBinary(OpGtEq, l, r) }
func And(l, r Node) *Binary   { return NewBinary(OpAnd, l, r) }
func Or(l, r Node) *Binary    { return NewBinary(OpOr, l, r) }

// AndAlso conjoins two predicates, skipping nil and constant-true operands.
func AndAlso(a, b Node) Node {
	switch {
	case a == nil || IsTrue(a):
		return b
	case b == nil || IsTrue(b):
		return a
	}
	return And(a, b)
}

// Split flattens a chain of op into its operands, left to right.
func Split(n Node, op BinaryOp) []Node {
	if n == nil {
		return nil
	}
	if b, ok := n.(*Binary); ok && b.Op == op {
		return append(Split(b.Left, op), Split(b.Right, op)...)
	}
	return []Node{n}
}

// Combine folds list with op left-associatively; nil when empty.
func Combine(list []Node, op BinaryOp) Node {
	var out Node
	for _, n := range list {
		if out == nil {
			out = n
			continue
		}
		out = NewBinary(op, out, n)
	}
	return out
}

// UnaryOp is the operator of a Unary node.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNegate
	OpBitNot
	OpIsNull
	OpIsNotNull
)

var unaryOpNames = [...]string{
	OpNot:       "NOT",
	OpNegate:    "-",
	OpBitNot:    "~",
	OpIsNull:    "IS NULL",
	OpIsNotNull: "IS NOT NULL",
}

func (op UnaryOp) String() string {
	if int(op) < len(unaryOpNames) {
		return unaryOpNames[op]
	}
	return "?"
}

// Unary is a one-operand operator.
type Unary struct {
	Op      UnaryOp
	Operand Node
	T       Type
}

func NewUnary(op UnaryOp, operand Node) *Unary {
	t := operand.Type()
	switch op {
	case OpNot, OpIsNull, OpIsNotNull:
		t = BoolType
	}
	return &Unary{Op: op, Operand: operand, T: t}
}

func (n *Unary) Kind() Kind              { return KindUnary }
func (n *Unary) Type() Type              { return n.T }
func (n *Unary) Accept(v Visitor) string { return v.VisitUnary(n) }

func Not(n Node) *Unary       { return NewUnary(OpNot, n) }
func IsNull(n Node) *Unary    { return NewUnary(OpIsNull, n) }
func IsNotNull(n Node) *Unary { return NewUnary(OpIsNotNull, n) }

// Between tests Low <= Expr <= High.
type Between struct {
	Expr Node
	Low  Node
	High Node
}

func NewBetween(expr, low, high Node) *Between {
	return &Between{Expr: expr, Low: low, High: high}
}

func (n *Between) Kind() Kind              { return KindBetween }
func (n *Between) Type() Type              { return BoolType }
func (n *Between) Accept(v Visitor) string { return v.VisitBetween(n) }

// In tests membership in a value list or in the single column of Select.
type In struct {
	Expr   Node
	Values []Node
	Select *Select
}

func (n *In) Kind() Kind              { return KindIn }
func (n *In) Type() Type              { return BoolType }
func (n *In) Accept(v Visitor) string { return v.VisitIn(n) }

// Exists tests whether Select yields any row.
type Exists struct {
	Select *Select
}

func (n *Exists) Kind() Kind              { return KindExists }
func (n *Exists) Type() Type              { return BoolType }
func (n *Exists) Accept(v Visitor) string { return v.VisitExists(n) }

// Scalar is a subquery yielding one value from its single column.
type Scalar struct {
	Select *Select
	T      Type
}

func (n *Scalar) Kind() Kind              { return KindScalar }
func (n *Scalar) Type() Type              { return n.T }
func (n *Scalar) Accept(v Visitor) string { return v.VisitScalar(n) }

// Conditional is a ternary choice.
type Conditional struct {
	Test    Node
	IfTrue  Node
	IfFalse Node
	T       Type
}

func NewConditional(test, ifTrue, ifFalse Node) *Conditional {
	t := ifTrue.Type()
	if t.Kind == TypeUnknown {
		t = ifFalse.Type()
	}
	t.Nullable = ifTrue.Type().Nullable || ifFalse.Type().Nullable
	return &Conditional{Test: test, IfTrue: ifTrue, IfFalse: ifFalse, T: t}
}

func (n *Conditional) Kind() Kind              { return KindConditional }
func (n *Conditional) Type() Type              { return n.T }
func (n *Conditional) Accept(v Visitor) string { return v.VisitConditional(n) }

// Convert casts Operand to T.
type Convert struct {
	Operand Node
	T       Type
}

func (n *Convert) Kind() Kind              { return KindConvert }
func (n *Convert) Type() Type              { return n.T }
func (n *Convert) Accept(v Visitor) string { return v.VisitConvert(n) }

// FunctionCall is a call to a named function. Key is the normalized name
// of the renderer it is bound to; an empty Key means unbound.
type FunctionCall struct {
	Name string
	Key  string
	Args []Node
	T    Type
}

func NewFunctionCall(name string, t Type, args ...Node) *FunctionCall {
	return &FunctionCall{Name: name, Args: args, T: t}
}

func (n *FunctionCall) Kind() Kind              { return KindFunctionCall }
func (n *FunctionCall) Type() Type              { return n.T }
func (n *FunctionCall) Accept(v Visitor) string { return v.VisitFunctionCall(n) }

// Bound reports whether a renderer has been attached.
func (n *FunctionCall) Bound() bool { return n.Key != "" }

// RowNumber is ROW_NUMBER() OVER (ORDER BY ...).
type RowNumber struct {
	OrderBy []Ordering
}

func (n *RowNumber) Kind() Kind              { return KindRowNumber }
func (n *RowNumber) Type() Type              { return Int64Type }
func (n *RowNumber) Accept(v Visitor) string { return v.VisitRowNumber(n) }
