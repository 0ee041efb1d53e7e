package nodes

// Aggregator says how the rows of a projection become its result.
type Aggregator int

const (
	ProjectMany Aggregator = iota
	ProjectFirst
	ProjectFirstOrDefault
	ProjectSingle
	ProjectSingleOrDefault
)

var aggregatorNames = [...]string{
	ProjectMany:            "many",
	ProjectFirst:           "first",
	ProjectFirstOrDefault:  "first-or-default",
	ProjectSingle:          "single",
	ProjectSingleOrDefault: "single-or-default",
}

func (a Aggregator) String() string {
	if int(a) < len(aggregatorNames) {
		return aggregatorNames[a]
	}
	return "many"
}

// Singleton reports whether the result is one value rather than a list.
func (a Aggregator) Singleton() bool { return a != ProjectMany }

// Projection pairs a select with the projector that shapes each of its
// rows into a result value.
type Projection struct {
	Select     *Select
	Projector  Node
	Aggregator Aggregator
}

func NewProjection(sel *Select, projector Node, agg Aggregator) *Projection {
	return &Projection{Select: sel, Projector: projector, Aggregator: agg}
}

func (n *Projection) Kind() Kind { return KindProjection }

func (n *Projection) Type() Type {
	if n.Aggregator.Singleton() {
		return n.Projector.Type()
	}
	return CollectionType
}

func (n *Projection) Accept(v Visitor) string { return v.VisitProjection(n) }

// UpdateProjection returns n when nothing changed by reference.
func UpdateProjection(n *Projection, sel *Select, projector Node, agg Aggregator) *Projection {
	if sel == n.Select && projector == n.Projector && agg == n.Aggregator {
		return n
	}
	return NewProjection(sel, projector, agg)
}

// ClientJoin is a collection loaded by a second statement and matched to
// each outer row by comparing OuterKey (evaluated on the outer row) with
// InnerKey (evaluated on the child row).
type ClientJoin struct {
	Projection *Projection
	OuterKey   []Node
	InnerKey   []Node
}

func (n *ClientJoin) Kind() Kind              { return KindClientJoin }
func (n *ClientJoin) Type() Type              { return CollectionType }
func (n *ClientJoin) Accept(v Visitor) string { return v.VisitClientJoin(n) }
