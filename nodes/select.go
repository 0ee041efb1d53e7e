package nodes

import (
	"slices"
	"strconv"
)

// Direction is the sort direction of an Ordering.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

// Reverse flips the direction.
func (d Direction) Reverse() Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

// Ordering is one ORDER BY term.
type Ordering struct {
	Expr      Node
	Direction Direction
}

// ColumnDeclaration names an expression in a select's column list.
type ColumnDeclaration struct {
	Name string
	Expr Node
	T    Type
}

// Select is a SELECT scope. Column names are unique within Columns so
// outer scopes can reference them by name.
type Select struct {
	Alias    *TableAlias
	Columns  []ColumnDeclaration
	From     Node
	Where    Node
	GroupBy  []Node
	OrderBy  []Ordering
	Skip     Node
	Take     Node
	Distinct bool
}

func NewSelect(alias *TableAlias, columns []ColumnDeclaration, from, where Node) *Select {
	return &Select{Alias: alias, Columns: columns, From: from, Where: where}
}

func (n *Select) Kind() Kind              { return KindSelect }
func (n *Select) Type() Type              { return RowType }
func (n *Select) Accept(v Visitor) string { return v.VisitSelect(n) }

func (n *Select) clone() *Select {
	c := *n
	return &c
}

func (n *Select) WithColumns(cols []ColumnDeclaration) *Select {
	c := n.clone()
	c.Columns = cols
	return c
}

func (n *Select) WithFrom(from Node) *Select {
	c := n.clone()
	c.From = from
	return c
}

func (n *Select) WithWhere(where Node) *Select {
	c := n.clone()
	c.Where = where
	return c
}

func (n *Select) WithOrderBy(orderBy []Ordering) *Select {
	c := n.clone()
	c.OrderBy = orderBy
	return c
}

func (n *Select) WithGroupBy(groupBy []Node) *Select {
	c := n.clone()
	c.GroupBy = groupBy
	return c
}

func (n *Select) WithSkip(skip Node) *Select {
	c := n.clone()
	c.Skip = skip
	return c
}

func (n *Select) WithTake(take Node) *Select {
	c := n.clone()
	c.Take = take
	return c
}

func (n *Select) WithDistinct(distinct bool) *Select {
	c := n.clone()
	c.Distinct = distinct
	return c
}

func (n *Select) WithAlias(alias *TableAlias) *Select {
	c := n.clone()
	c.Alias = alias
	return c
}

// AddColumn returns a copy with decl appended.
func (n *Select) AddColumn(decl ColumnDeclaration) *Select {
	cols := make([]ColumnDeclaration, 0, len(n.Columns)+1)
	cols = append(cols, n.Columns...)
	return n.WithColumns(append(cols, decl))
}

// RemoveColumn returns a copy without the named column.
func (n *Select) RemoveColumn(name string) *Select {
	cols := slices.DeleteFunc(slices.Clone(n.Columns), func(d ColumnDeclaration) bool {
		return d.Name == name
	})
	return n.WithColumns(cols)
}

// ColumnNamed looks up a declaration by name.
func (n *Select) ColumnNamed(name string) (ColumnDeclaration, bool) {
	for _, d := range n.Columns {
		if d.Name == name {
			return d, true
		}
	}
	return ColumnDeclaration{}, false
}

// Paged reports whether the select limits or offsets its rows.
func (n *Select) Paged() bool { return n.Skip != nil || n.Take != nil }

// AddRedundantSelect pushes the whole select down one level under
// newAlias and returns a pass-through select that keeps the original
// alias, so references from outside stay valid.
func (n *Select) AddRedundantSelect(newAlias *TableAlias) *Select {
	inner := n.WithAlias(newAlias)
	cols := make([]ColumnDeclaration, len(n.Columns))
	for i, d := range n.Columns {
		cols[i] = ColumnDeclaration{Name: d.Name, Expr: NewColumn(newAlias, d.Name, d.T), T: d.T}
	}
	return &Select{Alias: n.Alias, Columns: cols, From: inner}
}

// AvailableColumnName returns base, or base suffixed with the first
// counter that does not clash with an existing declaration.
func AvailableColumnName(cols []ColumnDeclaration, base string) string {
	if base == "" {
		base = "c"
	}
	taken := func(name string) bool {
		for _, d := range cols {
			if d.Name == name {
				return true
			}
		}
		return false
	}
	name := base
	for i := 1; taken(name); i++ {
		name = base + strconv.Itoa(i)
	}
	return name
}

// UpdateSelect returns n when every part is unchanged by reference,
// otherwise a new select with the same alias.
func UpdateSelect(n *Select, columns []ColumnDeclaration, from, where Node, orderBy []Ordering, groupBy []Node, skip, take Node, distinct bool) *Select {
	if from == n.From && where == n.Where && skip == n.Skip && take == n.Take &&
		distinct == n.Distinct && sameColumns(columns, n.Columns) &&
		sameOrderings(orderBy, n.OrderBy) && sameNodes(groupBy, n.GroupBy) {
		return n
	}
	return &Select{
		Alias:    n.Alias,
		Columns:  columns,
		From:     from,
		Where:    where,
		GroupBy:  groupBy,
		OrderBy:  orderBy,
		Skip:     skip,
		Take:     take,
		Distinct: distinct,
	}
}

func sameNodes(a, b []Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameOrderings(a, b []Ordering) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Expr != b[i].Expr || a[i].Direction != b[i].Direction {
			return false
		}
	}
	return true
}

func sameColumns(a, b []ColumnDeclaration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Expr != b[i].Expr || a[i].T != b[i].T {
			return false
		}
	}
	return true
}

func sameFields(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Expr != b[i].Expr {
			return false
		}
	}
	return true
}
