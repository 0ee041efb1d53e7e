package nodes

import "fmt"

// Transformer is implemented by tree rewrites. Each RewriteX returns the
// node unchanged (same pointer) when nothing below it changed.
type Transformer interface {
	Rewrite(n Node) Node
	RewriteTable(n *Table) Node
	RewriteColumn(n *Column) Node
	RewriteSelect(n *Select) Node
	RewriteJoin(n *Join) Node
	RewriteAggregate(n *Aggregate) Node
	RewriteAggregateSubquery(n *AggregateSubquery) Node
	RewriteRowNumber(n *RowNumber) Node
	RewriteConditional(n *Conditional) Node
	RewriteBinary(n *Binary) Node
	RewriteUnary(n *Unary) Node
	RewriteBetween(n *Between) Node
	RewriteIn(n *In) Node
	RewriteExists(n *Exists) Node
	RewriteScalar(n *Scalar) Node
	RewriteConvert(n *Convert) Node
	RewriteFunctionCall(n *FunctionCall) Node
	RewriteConstant(n *Constant) Node
	RewriteParameter(n *Parameter) Node
	RewriteMember(n *Member) Node
	RewriteNavigation(n *Navigation) Node
	RewriteRecord(n *Record) Node
	RewriteProjection(n *Projection) Node
	RewriteClientJoin(n *ClientJoin) Node
}

// Rewriter implements the default handler for every node kind. Passes
// embed *Rewriter, override the kinds they care about and set outer to
// themselves so recursive calls reach the overrides.
type Rewriter struct {
	outer Transformer
}

// NewRewriter returns a Rewriter dispatching through outer.
func NewRewriter(outer Transformer) *Rewriter {
	return &Rewriter{outer: outer}
}

// Rewrite dispatches n to the handler for its kind.
func (r *Rewriter) Rewrite(n Node) Node {
	if n == nil {
		return nil
	}
	switch n := n.(type) {
	case *Table:
		return r.outer.RewriteTable(n)
	case *Column:
		return r.outer.RewriteColumn(n)
	case *Select:
		return r.outer.RewriteSelect(n)
	case *Join:
		return r.outer.RewriteJoin(n)
	case *Aggregate:
		return r.outer.RewriteAggregate(n)
	case *AggregateSubquery:
		return r.outer.RewriteAggregateSubquery(n)
	case *RowNumber:
		return r.outer.RewriteRowNumber(n)
	case *Conditional:
		return r.outer.RewriteConditional(n)
	case *Binary:
		return r.outer.RewriteBinary(n)
	case *Unary:
		return r.outer.RewriteUnary(n)
	case *Between:
		return r.outer.RewriteBetween(n)
	case *In:
		return r.outer.RewriteIn(n)
	case *Exists:
		return r.outer.RewriteExists(n)
	case *Scalar:
		return r.outer.RewriteScalar(n)
	case *Convert:
		return r.outer.RewriteConvert(n)
	case *FunctionCall:
		return r.outer.RewriteFunctionCall(n)
	case *Constant:
		return r.outer.RewriteConstant(n)
	case *Parameter:
		return r.outer.RewriteParameter(n)
	case *Member:
		return r.outer.RewriteMember(n)
	case *Navigation:
		return r.outer.RewriteNavigation(n)
	case *Record:
		return r.outer.RewriteRecord(n)
	case *Projection:
		return r.outer.RewriteProjection(n)
	case *ClientJoin:
		return r.outer.RewriteClientJoin(n)
	}
	panic(fmt.Sprintf("relq: unknown node type %T", n))
}

// RewriteSubquery rewrites a select that must stay a select.
func (r *Rewriter) RewriteSubquery(s *Select) *Select {
	if s == nil {
		return nil
	}
	out := r.outer.Rewrite(s)
	sel, ok := out.(*Select)
	if !ok {
		panic(fmt.Sprintf("relq: select rewritten to %T", out))
	}
	return sel
}

// RewriteList rewrites each element, returning list itself when no
// element changed.
func (r *Rewriter) RewriteList(list []Node) []Node {
	var out []Node
	for i, n := range list {
		m := r.outer.Rewrite(n)
		if out == nil && m != n {
			out = make([]Node, len(list))
			copy(out, list[:i])
		}
		if out != nil {
			out[i] = m
		}
	}
	if out == nil {
		return list
	}
	return out
}

func (r *Rewriter) RewriteOrderings(list []Ordering) []Ordering {
	var out []Ordering
	for i, o := range list {
		e := r.outer.Rewrite(o.Expr)
		if out == nil && e != o.Expr {
			out = make([]Ordering, len(list))
			copy(out, list[:i])
		}
		if out != nil {
			out[i] = Ordering{Expr: e, Direction: o.Direction}
		}
	}
	if out == nil {
		return list
	}
	return out
}

func (r *Rewriter) RewriteColumnDeclarations(list []ColumnDeclaration) []ColumnDeclaration {
	var out []ColumnDeclaration
	for i, d := range list {
		e := r.outer.Rewrite(d.Expr)
		if out == nil && e != d.Expr {
			out = make([]ColumnDeclaration, len(list))
			copy(out, list[:i])
		}
		if out != nil {
			out[i] = ColumnDeclaration{Name: d.Name, Expr: e, T: d.T}
		}
	}
	if out == nil {
		return list
	}
	return out
}

func (r *Rewriter) RewriteFields(list []Field) []Field {
	var out []Field
	for i, f := range list {
		e := r.outer.Rewrite(f.Expr)
		if out == nil && e != f.Expr {
			out = make([]Field, len(list))
			copy(out, list[:i])
		}
		if out != nil {
			out[i] = Field{Name: f.Name, Expr: e}
		}
	}
	if out == nil {
		return list
	}
	return out
}

func (r *Rewriter) RewriteTable(n *Table) Node         { return n }
func (r *Rewriter) RewriteColumn(n *Column) Node       { return n }
func (r *Rewriter) RewriteConstant(n *Constant) Node   { return n }
func (r *Rewriter) RewriteParameter(n *Parameter) Node { return n }
func (r *Rewriter) RewriteMember(n *Member) Node       { return n }

// RewriteSelect visits the source first so that passes mapping columns of
// a rewritten child scope see the mapping before the outer expressions.
func (r *Rewriter) RewriteSelect(n *Select) Node {
	from := r.outer.Rewrite(n.From)
	where := r.outer.Rewrite(n.Where)
	orderBy := r.RewriteOrderings(n.OrderBy)
	groupBy := r.RewriteList(n.GroupBy)
	skip := r.outer.Rewrite(n.Skip)
	take := r.outer.Rewrite(n.Take)
	columns := r.RewriteColumnDeclarations(n.Columns)
	return UpdateSelect(n, columns, from, where, orderBy, groupBy, skip, take, n.Distinct)
}

func (r *Rewriter) RewriteJoin(n *Join) Node {
	left := r.outer.Rewrite(n.Left)
	right := r.outer.Rewrite(n.Right)
	cond := r.outer.Rewrite(n.Condition)
	return UpdateJoin(n, n.JoinKind, left, right, cond)
}

func (r *Rewriter) RewriteAggregate(n *Aggregate) Node {
	arg := r.outer.Rewrite(n.Arg)
	if arg == n.Arg {
		return n
	}
	return &Aggregate{Func: n.Func, Arg: arg, Distinct: n.Distinct, T: n.T}
}

func (r *Rewriter) RewriteAggregateSubquery(n *AggregateSubquery) Node {
	agg := r.outer.Rewrite(n.Aggregate)
	if agg == n.Aggregate {
		return n
	}
	return &AggregateSubquery{GroupAlias: n.GroupAlias, Aggregate: agg}
}

func (r *Rewriter) RewriteRowNumber(n *RowNumber) Node {
	orderBy := r.RewriteOrderings(n.OrderBy)
	if sameOrderings(orderBy, n.OrderBy) {
		return n
	}
	return &RowNumber{OrderBy: orderBy}
}

func (r *Rewriter) RewriteConditional(n *Conditional) Node {
	test := r.outer.Rewrite(n.Test)
	ifTrue := r.outer.Rewrite(n.IfTrue)
	ifFalse := r.outer.Rewrite(n.IfFalse)
	if test == n.Test && ifTrue == n.IfTrue && ifFalse == n.IfFalse {
		return n
	}
	return &Conditional{Test: test, IfTrue: ifTrue, IfFalse: ifFalse, T: n.T}
}

func (r *Rewriter) RewriteBinary(n *Binary) Node {
	left := r.outer.Rewrite(n.Left)
	right := r.outer.Rewrite(n.Right)
	if left == n.Left && right == n.Right {
		return n
	}
	return &Binary{Op: n.Op, Left: left, Right: right, T: n.T}
}

func (r *Rewriter) RewriteUnary(n *Unary) Node {
	operand := r.outer.Rewrite(n.Operand)
	if operand == n.Operand {
		return n
	}
	return &Unary{Op: n.Op, Operand: operand, T: n.T}
}

func (r *Rewriter) RewriteBetween(n *Between) Node {
	expr := r.outer.Rewrite(n.Expr)
	low := r.outer.Rewrite(n.Low)
	high := r.outer.Rewrite(n.High)
	if expr == n.Expr && low == n.Low && high == n.High {
		return n
	}
	return NewBetween(expr, low, high)
}

func (r *Rewriter) RewriteIn(n *In) Node {
	expr := r.outer.Rewrite(n.Expr)
	values := r.RewriteList(n.Values)
	sel := r.RewriteSubquery(n.Select)
	if expr == n.Expr && sameNodes(values, n.Values) && sel == n.Select {
		return n
	}
	return &In{Expr: expr, Values: values, Select: sel}
}

func (r *Rewriter) RewriteExists(n *Exists) Node {
	sel := r.RewriteSubquery(n.Select)
	if sel == n.Select {
		return n
	}
	return &Exists{Select: sel}
}

func (r *Rewriter) RewriteScalar(n *Scalar) Node {
	sel := r.RewriteSubquery(n.Select)
	if sel == n.Select {
		return n
	}
	return &Scalar{Select: sel, T: n.T}
}

func (r *Rewriter) RewriteConvert(n *Convert) Node {
	operand := r.outer.Rewrite(n.Operand)
	if operand == n.Operand {
		return n
	}
	return &Convert{Operand: operand, T: n.T}
}

func (r *Rewriter) RewriteFunctionCall(n *FunctionCall) Node {
	args := r.RewriteList(n.Args)
	if sameNodes(args, n.Args) {
		return n
	}
	return &FunctionCall{Name: n.Name, Key: n.Key, Args: args, T: n.T}
}

func (r *Rewriter) RewriteNavigation(n *Navigation) Node {
	source := r.outer.Rewrite(n.Source)
	if source == n.Source {
		return n
	}
	return &Navigation{Source: source, Relation: n.Relation, Path: n.Path}
}

func (r *Rewriter) RewriteRecord(n *Record) Node {
	fields := r.RewriteFields(n.Fields)
	if sameFields(fields, n.Fields) {
		return n
	}
	return &Record{Entity: n.Entity, Fields: fields}
}

func (r *Rewriter) RewriteProjection(n *Projection) Node {
	sel := r.RewriteSubquery(n.Select)
	projector := r.outer.Rewrite(n.Projector)
	return UpdateProjection(n, sel, projector, n.Aggregator)
}

// RewriteProjectionNode rewrites a projection that must stay a projection.
func (r *Rewriter) RewriteProjectionNode(p *Projection) *Projection {
	out := r.outer.Rewrite(p)
	proj, ok := out.(*Projection)
	if !ok {
		panic(fmt.Sprintf("relq: projection rewritten to %T", out))
	}
	return proj
}

func (r *Rewriter) RewriteClientJoin(n *ClientJoin) Node {
	proj := r.RewriteProjectionNode(n.Projection)
	outer := r.RewriteList(n.OuterKey)
	inner := r.RewriteList(n.InnerKey)
	if proj == n.Projection && sameNodes(outer, n.OuterKey) && sameNodes(inner, n.InnerKey) {
		return n
	}
	return &ClientJoin{Projection: proj, OuterKey: outer, InnerKey: inner}
}
