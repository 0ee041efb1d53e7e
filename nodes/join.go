package nodes

// JoinKind is the kind of a Join.
type JoinKind int

const (
	CrossJoin JoinKind = iota
	InnerJoin
	LeftOuterJoin
	// SingletonLeftOuterJoin is a left outer join whose right side yields
	// at most one row per left row, as produced for a scalar navigation.
	SingletonLeftOuterJoin
	CrossApply
	OuterApply
)

func (k JoinKind) String() string {
	switch k {
	case CrossJoin:
		return "CROSS JOIN"
	case InnerJoin:
		return "INNER JOIN"
	case LeftOuterJoin, SingletonLeftOuterJoin:
		return "LEFT OUTER JOIN"
	case CrossApply:
		return "CROSS APPLY"
	case OuterApply:
		return "OUTER APPLY"
	default:
		return "JOIN"
	}
}

// Join combines two sources. Condition is nil for cross joins and applies.
type Join struct {
	JoinKind  JoinKind
	Left      Node
	Right     Node
	Condition Node
}

func NewJoin(kind JoinKind, left, right, condition Node) *Join {
	return &Join{JoinKind: kind, Left: left, Right: right, Condition: condition}
}

func (n *Join) Kind() Kind              { return KindJoin }
func (n *Join) Type() Type              { return RowType }
func (n *Join) Accept(v Visitor) string { return v.VisitJoin(n) }

// UpdateJoin returns n when nothing changed by reference.
func UpdateJoin(n *Join, kind JoinKind, left, right, condition Node) *Join {
	if kind == n.JoinKind && left == n.Left && right == n.Right && condition == n.Condition {
		return n
	}
	return NewJoin(kind, left, right, condition)
}
