package visitors

import (
	"fmt"
	"strings"

	"github.com/bawdo/relq/nodes"
)

// Color constants for DOT node categories.
const (
	colorTable      = "#6CA6CD" // blue: tables, selects
	colorColumn     = "#B0D4E8" // light blue: columns
	colorComparison = "#FFB347" // orange: comparisons, predicates
	colorLogical    = "#FFEB80" // yellow: AND, OR, NOT
	colorLiteral    = "#D3D3D3" // grey: constants, parameters
	colorJoin       = "#77DD77" // green: joins
	colorOrdering   = "#CDA0E0" // purple: orderings, row numbers
	colorProjection = "#FF6961" // red: projections, client joins
	colorArithmetic = "#98FB98" // mint green: arithmetic
	colorFunction   = "#87CEEB" // sky blue: aggregates, functions
)

// dotNode represents a single node in the DOT graph.
type dotNode struct {
	id    string
	label string
	color string
}

// dotEdge represents a directed edge between two nodes in the DOT graph.
type dotEdge struct {
	from  string
	to    string
	label string
}

// DotVisitor walks the IR and produces Graphviz DOT output.
// It implements nodes.Visitor.
type DotVisitor struct {
	nextID    int
	nodes     []dotNode
	edges     []dotEdge
	parentID  string
	edgeLabel string
	aliases   nodes.AliasNames
}

var _ nodes.Visitor = (*DotVisitor)(nil)

// NewDotVisitor creates a new DotVisitor ready to walk an IR tree.
func NewDotVisitor() *DotVisitor {
	return &DotVisitor{}
}

// addNode creates a new DOT node with the given label and color, returning its ID.
func (dv *DotVisitor) addNode(label, color string) string {
	id := fmt.Sprintf("n%d", dv.nextID)
	dv.nextID++
	dv.nodes = append(dv.nodes, dotNode{id: id, label: label, color: color})
	dv.connectToParent(id)
	return id
}

// addEdge records a directed edge from one node to another.
func (dv *DotVisitor) addEdge(from, to, label string) {
	dv.edges = append(dv.edges, dotEdge{from: from, to: to, label: label})
}

// visitChild saves and restores the parent context, sets the edge label,
// and calls child.Accept to recursively visit the child node.
func (dv *DotVisitor) visitChild(parentID, label string, child nodes.Node) {
	if child == nil {
		return
	}
	savedParent := dv.parentID
	savedLabel := dv.edgeLabel
	dv.parentID = parentID
	dv.edgeLabel = label
	child.Accept(dv)
	dv.parentID = savedParent
	dv.edgeLabel = savedLabel
}

// connectToParent adds an edge from the current parentID to nodeID if a parent exists.
func (dv *DotVisitor) connectToParent(nodeID string) {
	if dv.parentID != "" {
		dv.addEdge(dv.parentID, nodeID, dv.edgeLabel)
	}
}

// NodeCount returns the number of nodes accumulated so far.
func (dv *DotVisitor) NodeCount() int {
	return len(dv.nodes)
}

// ToDot generates the complete DOT graph text.
func (dv *DotVisitor) ToDot() string {
	var sb strings.Builder

	sb.WriteString("digraph IR {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=filled, fontname=\"Helvetica\"];\n")
	sb.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n")

	for _, n := range dv.nodes {
		fmt.Fprintf(&sb, "  %s [label=\"%s\", fillcolor=\"%s\"];\n", n.id, escapeLabel(n.label), n.color)
	}
	for _, e := range dv.edges {
		if e.label != "" {
			fmt.Fprintf(&sb, "  %s -> %s [label=\"%s\"];\n", e.from, e.to, e.label)
		} else {
			fmt.Fprintf(&sb, "  %s -> %s;\n", e.from, e.to)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// escapeLabel escapes double quotes in DOT labels.
// Backslash sequences like \n are intentional DOT line breaks and are preserved.
func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

func (dv *DotVisitor) VisitTable(n *nodes.Table) string {
	return dv.addNode("Table\\n"+n.Name+" "+dv.aliases.Name(n.Alias), colorTable)
}

func (dv *DotVisitor) VisitColumn(n *nodes.Column) string {
	return dv.addNode("Column\\n"+dv.aliases.Name(n.Alias)+"."+n.Name, colorColumn)
}

func (dv *DotVisitor) VisitSelect(n *nodes.Select) string {
	label := "Select " + dv.aliases.Name(n.Alias)
	if n.Distinct {
		label += "\\nDISTINCT"
	}
	id := dv.addNode(label, colorTable)
	for _, d := range n.Columns {
		dv.visitChild(id, d.Name, d.Expr)
	}
	dv.visitChild(id, "FROM", n.From)
	dv.visitChild(id, "WHERE", n.Where)
	for i, g := range n.GroupBy {
		dv.visitChild(id, fmt.Sprintf("GROUP[%d]", i), g)
	}
	for i, o := range n.OrderBy {
		dv.visitChild(id, fmt.Sprintf("ORDER[%d] %s", i, o.Direction), o.Expr)
	}
	dv.visitChild(id, "SKIP", n.Skip)
	dv.visitChild(id, "TAKE", n.Take)
	return id
}

func (dv *DotVisitor) VisitJoin(n *nodes.Join) string {
	id := dv.addNode("Join\\n"+n.JoinKind.String(), colorJoin)
	dv.visitChild(id, "LEFT", n.Left)
	dv.visitChild(id, "RIGHT", n.Right)
	dv.visitChild(id, "ON", n.Condition)
	return id
}

func (dv *DotVisitor) VisitAggregate(n *nodes.Aggregate) string {
	label := "Aggregate\\n" + n.Func.String()
	if n.Distinct {
		label += " DISTINCT"
	}
	id := dv.addNode(label, colorFunction)
	dv.visitChild(id, "ARG", n.Arg)
	return id
}

func (dv *DotVisitor) VisitAggregateSubquery(n *nodes.AggregateSubquery) string {
	id := dv.addNode("GroupAggregate\\n"+dv.aliases.Name(n.GroupAlias), colorFunction)
	dv.visitChild(id, "AGG", n.Aggregate)
	return id
}

func (dv *DotVisitor) VisitRowNumber(n *nodes.RowNumber) string {
	id := dv.addNode("RowNumber", colorOrdering)
	for i, o := range n.OrderBy {
		dv.visitChild(id, fmt.Sprintf("ORDER[%d] %s", i, o.Direction), o.Expr)
	}
	return id
}

func (dv *DotVisitor) VisitConditional(n *nodes.Conditional) string {
	id := dv.addNode("Conditional", colorLogical)
	dv.visitChild(id, "TEST", n.Test)
	dv.visitChild(id, "THEN", n.IfTrue)
	dv.visitChild(id, "ELSE", n.IfFalse)
	return id
}

func (dv *DotVisitor) VisitBinary(n *nodes.Binary) string {
	color := colorArithmetic
	switch {
	case n.Op.IsLogical():
		color = colorLogical
	case n.Op.IsComparison():
		color = colorComparison
	}
	id := dv.addNode("Binary\\n"+n.Op.String(), color)
	dv.visitChild(id, "LEFT", n.Left)
	dv.visitChild(id, "RIGHT", n.Right)
	return id
}

func (dv *DotVisitor) VisitUnary(n *nodes.Unary) string {
	id := dv.addNode("Unary\\n"+n.Op.String(), colorLogical)
	dv.visitChild(id, "", n.Operand)
	return id
}

func (dv *DotVisitor) VisitBetween(n *nodes.Between) string {
	id := dv.addNode("Between", colorComparison)
	dv.visitChild(id, "EXPR", n.Expr)
	dv.visitChild(id, "LOW", n.Low)
	dv.visitChild(id, "HIGH", n.High)
	return id
}

func (dv *DotVisitor) VisitIn(n *nodes.In) string {
	id := dv.addNode("In", colorComparison)
	dv.visitChild(id, "EXPR", n.Expr)
	for i, v := range n.Values {
		dv.visitChild(id, fmt.Sprintf("VALUE[%d]", i), v)
	}
	if n.Select != nil {
		dv.visitChild(id, "SELECT", n.Select)
	}
	return id
}

func (dv *DotVisitor) VisitExists(n *nodes.Exists) string {
	id := dv.addNode("Exists", colorComparison)
	dv.visitChild(id, "", n.Select)
	return id
}

func (dv *DotVisitor) VisitScalar(n *nodes.Scalar) string {
	id := dv.addNode("Scalar", colorTable)
	dv.visitChild(id, "", n.Select)
	return id
}

func (dv *DotVisitor) VisitConvert(n *nodes.Convert) string {
	id := dv.addNode("Convert\\n"+n.T.String(), colorFunction)
	dv.visitChild(id, "", n.Operand)
	return id
}

func (dv *DotVisitor) VisitFunctionCall(n *nodes.FunctionCall) string {
	label := "Function\\n" + n.Name
	if !n.Bound() {
		label += " (unbound)"
	}
	id := dv.addNode(label, colorFunction)
	for i, a := range n.Args {
		dv.visitChild(id, fmt.Sprintf("ARG[%d]", i), a)
	}
	return id
}

func (dv *DotVisitor) VisitConstant(n *nodes.Constant) string {
	return dv.addNode(fmt.Sprintf("Constant\\n%v", n.Value), colorLiteral)
}

func (dv *DotVisitor) VisitParameter(n *nodes.Parameter) string {
	return dv.addNode(fmt.Sprintf("Parameter\\n@%s = %v", n.Name, n.Value), colorLiteral)
}

func (dv *DotVisitor) VisitMember(n *nodes.Member) string {
	return dv.addNode("Member\\n"+n.String(), colorColumn)
}

func (dv *DotVisitor) VisitNavigation(n *nodes.Navigation) string {
	id := dv.addNode("Navigation\\n"+n.Relation, colorJoin)
	dv.visitChild(id, "SOURCE", n.Source)
	return id
}

func (dv *DotVisitor) VisitRecord(n *nodes.Record) string {
	label := "Record"
	if n.Entity != "" {
		label += "\\n" + n.Entity
	}
	id := dv.addNode(label, colorProjection)
	for _, f := range n.Fields {
		dv.visitChild(id, f.Name, f.Expr)
	}
	return id
}

func (dv *DotVisitor) VisitProjection(n *nodes.Projection) string {
	id := dv.addNode("Projection\\n"+n.Aggregator.String(), colorProjection)
	dv.visitChild(id, "SELECT", n.Select)
	dv.visitChild(id, "PROJECTOR", n.Projector)
	return id
}

func (dv *DotVisitor) VisitClientJoin(n *nodes.ClientJoin) string {
	id := dv.addNode("ClientJoin", colorProjection)
	for i, k := range n.OuterKey {
		dv.visitChild(id, fmt.Sprintf("OUTER[%d]", i), k)
	}
	for i, k := range n.InnerKey {
		dv.visitChild(id, fmt.Sprintf("INNER[%d]", i), k)
	}
	dv.visitChild(id, "PROJECTION", n.Projection)
	return id
}
