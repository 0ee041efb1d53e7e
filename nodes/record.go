package nodes

import "strings"

// Member is an unbound member path relative to the current row, as written
// in a front-end query ("Name", "Dept.Name", "u.Orders").
type Member struct {
	Path []string
}

// NewMember splits a dotted path.
func NewMember(path string) *Member {
	return &Member{Path: strings.Split(path, ".")}
}

func (n *Member) Kind() Kind              { return KindMember }
func (n *Member) Type() Type              { return UnknownType }
func (n *Member) Accept(v Visitor) string { return v.VisitMember(n) }

func (n *Member) String() string { return strings.Join(n.Path, ".") }

// Navigation is a reference across the mapped relation Relation of the
// entity row Source, followed by the remaining member Path.
type Navigation struct {
	Source   Node
	Relation string
	Path     []string
}

func (n *Navigation) Kind() Kind              { return KindNavigation }
func (n *Navigation) Type() Type              { return UnknownType }
func (n *Navigation) Accept(v Visitor) string { return v.VisitNavigation(n) }

// Field is a named member of a Record.
type Field struct {
	Name string
	Expr Node
}

// Record is a row shape. Entity is set when the record is a row of a
// mapped entity, which makes its relations navigable.
type Record struct {
	Entity string
	Fields []Field
}

func NewRecord(entity string, fields ...Field) *Record {
	return &Record{Entity: entity, Fields: fields}
}

func (n *Record) Kind() Kind              { return KindRecord }
func (n *Record) Type() Type              { return RowType }
func (n *Record) Accept(v Visitor) string { return v.VisitRecord(n) }

// Lookup returns the field expression named name.
func (n *Record) Lookup(name string) (Node, bool) {
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Expr, true
		}
	}
	for _, f := range n.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Expr, true
		}
	}
	return nil, false
}

// WithField returns a copy with the named field appended or replaced.
func (n *Record) WithField(name string, expr Node) *Record {
	fields := make([]Field, 0, len(n.Fields)+1)
	replaced := false
	for _, f := range n.Fields {
		if f.Name == name {
			f.Expr = expr
			replaced = true
		}
		fields = append(fields, f)
	}
	if !replaced {
		fields = append(fields, Field{Name: name, Expr: expr})
	}
	return &Record{Entity: n.Entity, Fields: fields}
}
