package nodes

type replacer struct {
	*Rewriter
	search      Node
	replacement Node
}

func (r *replacer) Rewrite(n Node) Node {
	if n != nil && n == r.search {
		return r.replacement
	}
	return r.Rewriter.Rewrite(n)
}

// Replace returns tree with every occurrence of the node instance search
// substituted by replacement.
func Replace(tree, search, replacement Node) Node {
	r := &replacer{search: search, replacement: replacement}
	r.Rewriter = NewRewriter(r)
	return r.Rewrite(tree)
}

// Pair is one search/replacement step of ReplaceAll.
type Pair struct {
	Search      Node
	Replacement Node
}

// ReplaceAll applies the pairs in order, each on the result of the
// previous one.
func ReplaceAll(tree Node, pairs ...Pair) Node {
	for _, p := range pairs {
		tree = Replace(tree, p.Search, p.Replacement)
	}
	return tree
}

type aliasMapper struct {
	*Rewriter
	from map[*TableAlias]bool
	to   *TableAlias
}

func (m *aliasMapper) RewriteColumn(c *Column) Node {
	if m.from[c.Alias] {
		return NewColumn(m.to, c.Name, c.T)
	}
	return c
}

// MapAliases rewrites column references to any of from so they reference
// to instead.
func MapAliases(tree Node, to *TableAlias, from ...*TableAlias) Node {
	m := &aliasMapper{from: make(map[*TableAlias]bool, len(from)), to: to}
	for _, a := range from {
		m.from[a] = true
	}
	m.Rewriter = NewRewriter(m)
	return m.Rewrite(tree)
}

type columnSubstituter struct {
	*Rewriter
	columns map[ColumnKey]Node
}

func (s *columnSubstituter) RewriteColumn(c *Column) Node {
	if n, ok := s.columns[c.Key()]; ok {
		return n
	}
	return c
}

// SubstituteColumns replaces column references found in columns with the
// mapped expressions.
func SubstituteColumns(tree Node, columns map[ColumnKey]Node) Node {
	if len(columns) == 0 {
		return tree
	}
	s := &columnSubstituter{columns: columns}
	s.Rewriter = NewRewriter(s)
	return s.Rewrite(tree)
}
