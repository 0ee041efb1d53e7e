package nodes

// ProjectedColumns is the result of ProjectColumns: the column list of a
// new select and the projector rewritten to read from it.
type ProjectedColumns struct {
	Projector Node
	Columns   []ColumnDeclaration
}

// ProjectColumns declares every maximal SQL-evaluable subtree of expr as a
// column of a new select named newAlias, whose source declares
// existingAliases. Column references to other aliases are correlations and
// stay as they are. existing seeds the column list; equal expressions are
// declared once. Inside nested projections only references to
// existingAliases are lifted.
func ProjectColumns(expr Node, existing []ColumnDeclaration, newAlias *TableAlias, existingAliases ...*TableAlias) ProjectedColumns {
	known := make(map[*TableAlias]bool, len(existingAliases))
	for _, a := range existingAliases {
		known[a] = true
	}
	n := &nominator{candidates: make(map[Node]bool), existing: known}
	n.Rewriter = NewRewriter(n)
	n.Rewrite(expr)

	p := &columnProjector{
		candidates: n.candidates,
		existing:   known,
		alias:      newAlias,
		columns:    append([]ColumnDeclaration(nil), existing...),
		mapped:     make(map[ColumnKey]*Column),
	}
	p.Rewriter = NewRewriter(p)
	out := p.Rewrite(expr)
	return ProjectedColumns{Projector: out, Columns: p.columns}
}

// canBeColumn reports whether n can be evaluated by the database as a
// single value.
func canBeColumn(n Node) bool {
	switch n.(type) {
	case *Record, *Projection, *ClientJoin, *Member, *Navigation, *Select, *Table, *Join:
		return false
	}
	return n.Type().IsScalar()
}

type nominator struct {
	*Rewriter
	candidates map[Node]bool
	existing   map[*TableAlias]bool
	blocked    bool
}

func (v *nominator) Rewrite(n Node) Node {
	if n == nil {
		return nil
	}
	saved := v.blocked
	v.blocked = false
	switch x := n.(type) {
	case *Column:
		// Correlated references keep their enclosing expression in place.
		if v.existing[x.Alias] {
			v.candidates[n] = true
		} else {
			v.blocked = true
		}
	case *Scalar, *Exists, *AggregateSubquery, *RowNumber:
		v.candidates[n] = true
	case *In:
		if x.Select != nil {
			v.Rewrite(x.Expr)
			if !v.blocked {
				v.candidates[n] = true
			}
			break
		}
		v.visit(n)
	case *Projection:
		v.Rewrite(x.Projector)
		v.blocked = true
	case *ClientJoin:
		v.blocked = true
	default:
		v.visit(n)
	}
	v.blocked = v.blocked || saved
	return n
}

func (v *nominator) visit(n Node) {
	v.Rewriter.Rewrite(n)
	if v.blocked {
		return
	}
	if canBeColumn(n) {
		v.candidates[n] = true
		return
	}
	v.blocked = true
}

type columnProjector struct {
	*Rewriter
	candidates map[Node]bool
	existing   map[*TableAlias]bool
	alias      *TableAlias
	columns    []ColumnDeclaration
	mapped     map[ColumnKey]*Column
	nested     int
	hint       string
}

func (p *columnProjector) Rewrite(n Node) Node {
	if n == nil {
		return nil
	}
	if p.nested > 0 {
		if c, ok := n.(*Column); ok && p.existing[c.Alias] {
			return p.column(c)
		}
		return p.Rewriter.Rewrite(n)
	}
	if p.candidates[n] {
		switch x := n.(type) {
		case *Column:
			return p.column(x)
		case *Constant, *Parameter:
			return n
		}
		return p.declare(n)
	}
	return p.Rewriter.Rewrite(n)
}

func (p *columnProjector) RewriteProjection(n *Projection) Node {
	p.nested++
	defer func() { p.nested-- }()
	return p.Rewriter.RewriteProjection(n)
}

func (p *columnProjector) RewriteRecord(n *Record) Node {
	saved := p.hint
	defer func() { p.hint = saved }()
	var out []Field
	for i, f := range n.Fields {
		p.hint = f.Name
		e := p.Rewrite(f.Expr)
		if out == nil && e != f.Expr {
			out = make([]Field, len(n.Fields))
			copy(out, n.Fields[:i])
		}
		if out != nil {
			out[i] = Field{Name: f.Name, Expr: e}
		}
	}
	if out == nil {
		return n
	}
	return &Record{Entity: n.Entity, Fields: out}
}

func (p *columnProjector) column(c *Column) Node {
	if m, ok := p.mapped[c.Key()]; ok {
		return m
	}
	for _, d := range p.columns {
		if dc, ok := d.Expr.(*Column); ok && dc.Key() == c.Key() {
			return NewColumn(p.alias, d.Name, d.T)
		}
	}
	if !p.existing[c.Alias] {
		return c
	}
	name := AvailableColumnName(p.columns, c.Name)
	p.columns = append(p.columns, ColumnDeclaration{Name: name, Expr: c, T: c.T})
	m := NewColumn(p.alias, name, c.T)
	p.mapped[c.Key()] = m
	return m
}

func (p *columnProjector) declare(n Node) Node {
	for _, d := range p.columns {
		if Equal(d.Expr, n) {
			return NewColumn(p.alias, d.Name, d.T)
		}
	}
	base := p.hint
	if base == "" {
		base = "c"
	}
	name := AvailableColumnName(p.columns, base)
	t := n.Type()
	p.columns = append(p.columns, ColumnDeclaration{Name: name, Expr: n, T: t})
	return NewColumn(p.alias, name, t)
}
