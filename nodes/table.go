package nodes

import "strconv"

// TableAlias is an identity token naming a table or subquery scope. Two
// aliases denote the same scope only when they are the same pointer; the
// SQL name is assigned when the tree is rendered.
type TableAlias struct {
	_ [1]byte // non-zero size so every allocation is distinct
}

// NewTableAlias returns a fresh alias.
func NewTableAlias() *TableAlias { return &TableAlias{} }

// Table references a mapped table under an alias.
type Table struct {
	Alias *TableAlias
	Name  string
}

func NewTable(alias *TableAlias, name string) *Table {
	return &Table{Alias: alias, Name: name}
}

func (n *Table) Kind() Kind              { return KindTable }
func (n *Table) Type() Type              { return RowType }
func (n *Table) Accept(v Visitor) string { return v.VisitTable(n) }

// Column references a column exposed by the scope named by Alias.
type Column struct {
	Alias *TableAlias
	Name  string
	T     Type
}

func NewColumn(alias *TableAlias, name string, t Type) *Column {
	return &Column{Alias: alias, Name: name, T: t}
}

func (n *Column) Kind() Kind              { return KindColumn }
func (n *Column) Type() Type              { return n.T }
func (n *Column) Accept(v Visitor) string { return v.VisitColumn(n) }

// Key identifies the referenced column independent of the node instance.
func (n *Column) Key() ColumnKey { return ColumnKey{Alias: n.Alias, Name: n.Name} }

// ColumnKey is a comparable (alias, name) pair.
type ColumnKey struct {
	Alias *TableAlias
	Name  string
}

// AliasNames assigns stable printable names to aliases in order of first
// appearance.
type AliasNames struct {
	Prefix string
	names  map[*TableAlias]string
}

// Name returns the printable name of a, assigning the next free one.
func (a *AliasNames) Name(alias *TableAlias) string {
	if a.names == nil {
		a.names = make(map[*TableAlias]string)
	}
	if n, ok := a.names[alias]; ok {
		return n
	}
	prefix := a.Prefix
	if prefix == "" {
		prefix = "t"
	}
	n := prefix + strconv.Itoa(len(a.names))
	a.names[alias] = n
	return n
}
