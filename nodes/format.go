package nodes

import (
	"fmt"
	"strings"
)

// Format renders n as a compact single-line description. Aliases are
// named in order of first appearance, so equal trees format equally.
func Format(n Node) string {
	if n == nil {
		return "<nil>"
	}
	return n.Accept(&formatter{})
}

type formatter struct {
	aliases AliasNames
}

func (f *formatter) list(ns []Node) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = f.node(n)
	}
	return strings.Join(parts, ", ")
}

func (f *formatter) node(n Node) string {
	if n == nil {
		return "<nil>"
	}
	return n.Accept(f)
}

func (f *formatter) orderings(os []Ordering) string {
	parts := make([]string, len(os))
	for i, o := range os {
		parts[i] = f.node(o.Expr) + " " + o.Direction.String()
	}
	return strings.Join(parts, ", ")
}

func (f *formatter) subquery(s *Select) string {
	if s == nil {
		return "<nil>"
	}
	return s.Accept(f)
}

func (f *formatter) VisitTable(n *Table) string {
	return n.Name + " AS " + f.aliases.Name(n.Alias)
}

func (f *formatter) VisitColumn(n *Column) string {
	return f.aliases.Name(n.Alias) + "." + n.Name
}

func (f *formatter) VisitSelect(n *Select) string {
	var sb strings.Builder
	sb.WriteString("(SELECT ")
	if n.Distinct {
		sb.WriteString("DISTINCT ")
	}
	for i, d := range n.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.node(d.Expr))
		sb.WriteString(" AS ")
		sb.WriteString(d.Name)
	}
	if n.From != nil {
		sb.WriteString(" FROM ")
		sb.WriteString(f.node(n.From))
	}
	if n.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(f.node(n.Where))
	}
	if len(n.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(f.list(n.GroupBy))
	}
	if len(n.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(f.orderings(n.OrderBy))
	}
	if n.Skip != nil {
		sb.WriteString(" SKIP ")
		sb.WriteString(f.node(n.Skip))
	}
	if n.Take != nil {
		sb.WriteString(" TAKE ")
		sb.WriteString(f.node(n.Take))
	}
	sb.WriteString(") AS ")
	sb.WriteString(f.aliases.Name(n.Alias))
	return sb.String()
}

func (f *formatter) VisitJoin(n *Join) string {
	s := "(" + f.node(n.Left) + " " + n.JoinKind.String() + " " + f.node(n.Right)
	if n.Condition != nil {
		s += " ON " + f.node(n.Condition)
	}
	return s + ")"
}

func (f *formatter) VisitAggregate(n *Aggregate) string {
	arg := "*"
	if n.Arg != nil {
		arg = f.node(n.Arg)
	}
	if n.Distinct {
		arg = "DISTINCT " + arg
	}
	return n.Func.String() + "(" + arg + ")"
}

func (f *formatter) VisitAggregateSubquery(n *AggregateSubquery) string {
	return "GROUP[" + f.aliases.Name(n.GroupAlias) + "](" + f.node(n.Aggregate) + ")"
}

func (f *formatter) VisitRowNumber(n *RowNumber) string {
	return "ROW_NUMBER(ORDER BY " + f.orderings(n.OrderBy) + ")"
}

func (f *formatter) VisitConditional(n *Conditional) string {
	return "IF(" + f.node(n.Test) + ", " + f.node(n.IfTrue) + ", " + f.node(n.IfFalse) + ")"
}

func (f *formatter) VisitBinary(n *Binary) string {
	return "(" + f.node(n.Left) + " " + n.Op.String() + " " + f.node(n.Right) + ")"
}

func (f *formatter) VisitUnary(n *Unary) string {
	switch n.Op {
	case OpIsNull, OpIsNotNull:
		return "(" + f.node(n.Operand) + " " + n.Op.String() + ")"
	case OpNot:
		return "NOT " + f.node(n.Operand)
	}
	return n.Op.String() + f.node(n.Operand)
}

func (f *formatter) VisitBetween(n *Between) string {
	return "(" + f.node(n.Expr) + " BETWEEN " + f.node(n.Low) + " AND " + f.node(n.High) + ")"
}

func (f *formatter) VisitIn(n *In) string {
	if n.Select != nil {
		return "(" + f.node(n.Expr) + " IN " + f.subquery(n.Select) + ")"
	}
	return "(" + f.node(n.Expr) + " IN (" + f.list(n.Values) + "))"
}

func (f *formatter) VisitExists(n *Exists) string {
	return "EXISTS" + f.subquery(n.Select)
}

func (f *formatter) VisitScalar(n *Scalar) string {
	return "SCALAR" + f.subquery(n.Select)
}

func (f *formatter) VisitConvert(n *Convert) string {
	return "CAST(" + f.node(n.Operand) + " AS " + n.T.String() + ")"
}

func (f *formatter) VisitFunctionCall(n *FunctionCall) string {
	name := n.Name
	if n.Bound() {
		name = n.Key
	}
	return name + "(" + f.list(n.Args) + ")"
}

func (f *formatter) VisitConstant(n *Constant) string {
	switch v := n.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return fmt.Sprint(n.Value)
}

func (f *formatter) VisitParameter(n *Parameter) string {
	return "@" + n.Name
}

func (f *formatter) VisitMember(n *Member) string {
	return "member(" + n.String() + ")"
}

func (f *formatter) VisitNavigation(n *Navigation) string {
	s := "nav(" + f.node(n.Source) + " -> " + n.Relation + ")"
	if len(n.Path) > 0 {
		s += "." + strings.Join(n.Path, ".")
	}
	return s
}

func (f *formatter) VisitRecord(n *Record) string {
	parts := make([]string, len(n.Fields))
	for i, fl := range n.Fields {
		parts[i] = fl.Name + ": " + f.node(fl.Expr)
	}
	return n.Entity + "{" + strings.Join(parts, ", ") + "}"
}

func (f *formatter) VisitProjection(n *Projection) string {
	return "PROJECT[" + n.Aggregator.String() + "](" + f.subquery(n.Select) + " => " + f.node(n.Projector) + ")"
}

func (f *formatter) VisitClientJoin(n *ClientJoin) string {
	return "CLIENTJOIN(" + f.list(n.OuterKey) + " = " + f.list(n.InnerKey) + "; " + f.node(n.Projection) + ")"
}
