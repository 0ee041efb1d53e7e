// Package nodes defines the intermediate representation of a relational
// query: table sources, selects, joins and the scalar expressions inside
// them. Nodes are immutable; rewrites build new nodes and share the
// unchanged children.
package nodes

// Kind tags a node variant.
type Kind int

const (
	KindTable Kind = iota
	KindColumn
	KindSelect
	KindJoin
	KindAggregate
	KindAggregateSubquery
	KindRowNumber
	KindConditional
	KindBinary
	KindUnary
	KindBetween
	KindIn
	KindExists
	KindScalar
	KindConvert
	KindFunctionCall
	KindConstant
	KindParameter
	KindMember
	KindNavigation
	KindRecord
	KindProjection
	KindClientJoin
)

var kindNames = [...]string{
	KindTable:             "Table",
	KindColumn:            "Column",
	KindSelect:            "Select",
	KindJoin:              "Join",
	KindAggregate:         "Aggregate",
	KindAggregateSubquery: "AggregateSubquery",
	KindRowNumber:         "RowNumber",
	KindConditional:       "Conditional",
	KindBinary:            "Binary",
	KindUnary:             "Unary",
	KindBetween:           "Between",
	KindIn:                "In",
	KindExists:            "Exists",
	KindScalar:            "Scalar",
	KindConvert:           "Convert",
	KindFunctionCall:      "FunctionCall",
	KindConstant:          "Constant",
	KindParameter:         "Parameter",
	KindMember:            "Member",
	KindNavigation:        "Navigation",
	KindRecord:            "Record",
	KindProjection:        "Projection",
	KindClientJoin:        "ClientJoin",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Node is the interface that all IR nodes implement.
type Node interface {
	Kind() Kind
	Type() Type
	Accept(v Visitor) string
}

// Visitor walks the IR and produces text. The SQL builders, the DOT
// renderer and the canonical formatter implement it.
type Visitor interface {
	VisitTable(n *Table) string
	VisitColumn(n *Column) string
	VisitSelect(n *Select) string
	VisitJoin(n *Join) string
	VisitAggregate(n *Aggregate) string
	VisitAggregateSubquery(n *AggregateSubquery) string
	VisitRowNumber(n *RowNumber) string
	VisitConditional(n *Conditional) string
	VisitBinary(n *Binary) string
	VisitUnary(n *Unary) string
	VisitBetween(n *Between) string
	VisitIn(n *In) string
	VisitExists(n *Exists) string
	VisitScalar(n *Scalar) string
	VisitConvert(n *Convert) string
	VisitFunctionCall(n *FunctionCall) string
	VisitConstant(n *Constant) string
	VisitParameter(n *Parameter) string
	VisitMember(n *Member) string
	VisitNavigation(n *Navigation) string
	VisitRecord(n *Record) string
	VisitProjection(n *Projection) string
	VisitClientJoin(n *ClientJoin) string
}
