package nodes

// Clone copies n giving every table and select declared inside it a fresh
// alias. References to aliases declared outside n are kept, so a cloned
// correlated subquery still correlates with the same outer scope.
func Clone(n Node) Node {
	c := &cloner{aliases: make(map[*TableAlias]*TableAlias)}
	Walk(n, func(x Node) bool {
		switch x := x.(type) {
		case *Select:
			c.fresh(x.Alias)
		case *Table:
			c.fresh(x.Alias)
		}
		return true
	})
	c.Rewriter = NewRewriter(c)
	return c.Rewrite(n)
}

type cloner struct {
	*Rewriter
	aliases map[*TableAlias]*TableAlias
}

func (c *cloner) fresh(a *TableAlias) {
	if _, ok := c.aliases[a]; !ok {
		c.aliases[a] = NewTableAlias()
	}
}

func (c *cloner) mapped(a *TableAlias) *TableAlias {
	if m, ok := c.aliases[a]; ok {
		return m
	}
	return a
}

func (c *cloner) RewriteTable(n *Table) Node {
	return NewTable(c.mapped(n.Alias), n.Name)
}

func (c *cloner) RewriteColumn(n *Column) Node {
	if m, ok := c.aliases[n.Alias]; ok {
		return NewColumn(m, n.Name, n.T)
	}
	return n
}

func (c *cloner) RewriteSelect(n *Select) Node {
	out := c.Rewriter.RewriteSelect(n).(*Select)
	return out.WithAlias(c.mapped(n.Alias))
}

func (c *cloner) RewriteAggregateSubquery(n *AggregateSubquery) Node {
	return &AggregateSubquery{GroupAlias: c.mapped(n.GroupAlias), Aggregate: c.Rewrite(n.Aggregate)}
}
