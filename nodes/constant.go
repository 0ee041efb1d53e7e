package nodes

// Constant is a literal value.
type Constant struct {
	Value any
	T     Type
}

func NewConstant(v any) *Constant {
	return &Constant{Value: v, T: TypeOf(v)}
}

func NewTypedConstant(v any, t Type) *Constant {
	return &Constant{Value: v, T: t}
}

func (n *Constant) Kind() Kind              { return KindConstant }
func (n *Constant) Type() Type              { return n.T }
func (n *Constant) Accept(v Visitor) string { return v.VisitConstant(n) }

// IsTrue reports whether n is the boolean constant true.
func IsTrue(n Node) bool {
	c, ok := n.(*Constant)
	if !ok {
		return false
	}
	b, ok := c.Value.(bool)
	return ok && b
}

// IsNullConstant reports whether n is a constant nil.
func IsNullConstant(n Node) bool {
	c, ok := n.(*Constant)
	return ok && c.Value == nil
}

// Parameter is a named value bound at execution time.
type Parameter struct {
	Name  string
	Value any
	T     Type
}

func NewParameter(name string, v any) *Parameter {
	return &Parameter{Name: name, Value: v, T: TypeOf(v)}
}

func (n *Parameter) Kind() Kind              { return KindParameter }
func (n *Parameter) Type() Type              { return n.T }
func (n *Parameter) Accept(v Visitor) string { return v.VisitParameter(n) }
