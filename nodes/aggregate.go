package nodes

import "strings"

// AggregateFunc names an aggregate function.
type AggregateFunc int

const (
	AggCount AggregateFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

var aggregateNames = [...]string{
	AggCount: "COUNT",
	AggSum:   "SUM",
	AggAvg:   "AVG",
	AggMin:   "MIN",
	AggMax:   "MAX",
}

func (f AggregateFunc) String() string {
	if int(f) < len(aggregateNames) {
		return aggregateNames[f]
	}
	return "AGG"
}

// ParseAggregate maps a lower- or upper-case name to its function.
func ParseAggregate(name string) (AggregateFunc, bool) {
	for i, n := range aggregateNames {
		if strings.EqualFold(n, name) {
			return AggregateFunc(i), true
		}
	}
	if strings.EqualFold(name, "average") {
		return AggAvg, true
	}
	return 0, false
}

// Aggregate applies Func over Arg; Arg is nil for COUNT(*).
type Aggregate struct {
	Func     AggregateFunc
	Arg      Node
	Distinct bool
	T        Type
}

func NewAggregate(f AggregateFunc, arg Node, distinct bool) *Aggregate {
	return &Aggregate{Func: f, Arg: arg, Distinct: distinct, T: AggregateType(f, arg)}
}

func (n *Aggregate) Kind() Kind              { return KindAggregate }
func (n *Aggregate) Type() Type              { return n.T }
func (n *Aggregate) Accept(v Visitor) string { return v.VisitAggregate(n) }

// AggregateType is the result type of f over arg.
func AggregateType(f AggregateFunc, arg Node) Type {
	if f == AggCount {
		return Int64Type
	}
	var t Type
	if arg != nil {
		t = arg.Type()
	}
	switch f {
	case AggAvg:
		if t.Kind != TypeDecimal {
			t = FloatType
		}
	case AggSum:
		if t.IsInteger() {
			t = Int64Type
		}
	}
	return t.Null()
}

// AggregateSubquery is an aggregate over the rows of a group that has not
// yet been placed in the select owning GroupAlias.
type AggregateSubquery struct {
	GroupAlias *TableAlias
	Aggregate  Node
}

func (n *AggregateSubquery) Kind() Kind              { return KindAggregateSubquery }
func (n *AggregateSubquery) Type() Type              { return n.Aggregate.Type() }
func (n *AggregateSubquery) Accept(v Visitor) string { return v.VisitAggregateSubquery(n) }
