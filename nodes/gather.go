package nodes

type walker struct {
	*Rewriter
	fn func(Node) bool
}

func (w *walker) Rewrite(n Node) Node {
	if n == nil || !w.fn(n) {
		return n
	}
	return w.Rewriter.Rewrite(n)
}

// Walk calls fn for n and its descendants in rewrite order; returning
// false from fn skips the children of that node.
func Walk(n Node, fn func(Node) bool) {
	w := &walker{fn: fn}
	w.Rewriter = NewRewriter(w)
	w.Rewrite(n)
}

// DeclaredAliases returns the aliases a source (table, select or join
// tree) introduces into the enclosing scope.
func DeclaredAliases(source Node) map[*TableAlias]bool {
	out := make(map[*TableAlias]bool)
	var visit func(n Node)
	visit = func(n Node) {
		switch n := n.(type) {
		case *Select:
			out[n.Alias] = true
		case *Table:
			out[n.Alias] = true
		case *Join:
			visit(n.Left)
			visit(n.Right)
		}
	}
	visit(source)
	return out
}

// ReferencedAliases returns the aliases of every column reference in n.
func ReferencedAliases(n Node) map[*TableAlias]bool {
	out := make(map[*TableAlias]bool)
	Walk(n, func(x Node) bool {
		if c, ok := x.(*Column); ok {
			out[c.Alias] = true
		}
		return true
	})
	return out
}

// AliasReferenceCounts counts column references per alias.
func AliasReferenceCounts(n Node) map[*TableAlias]int {
	out := make(map[*TableAlias]int)
	Walk(n, func(x Node) bool {
		if c, ok := x.(*Column); ok {
			out[c.Alias]++
		}
		return true
	})
	return out
}

// ReferencedColumns returns the distinct column references in n in order
// of appearance.
func ReferencedColumns(n Node) []*Column {
	var out []*Column
	seen := make(map[ColumnKey]bool)
	Walk(n, func(x Node) bool {
		if c, ok := x.(*Column); ok && !seen[c.Key()] {
			seen[c.Key()] = true
			out = append(out, c)
		}
		return true
	})
	return out
}

// HasAggregates reports whether the columns, filter or ordering of s use
// an aggregate at its own level (nested subqueries are not inspected).
func HasAggregates(s *Select) bool {
	found := false
	check := func(n Node) {
		Walk(n, func(x Node) bool {
			switch x.(type) {
			case *Aggregate, *AggregateSubquery:
				found = true
				return false
			case *Select, *Projection:
				return false
			}
			return !found
		})
	}
	for _, d := range s.Columns {
		check(d.Expr)
	}
	check(s.Where)
	for _, o := range s.OrderBy {
		check(o.Expr)
	}
	return found
}

// Contains reports whether n or a descendant satisfies pred.
func Contains(n Node, pred func(Node) bool) bool {
	found := false
	Walk(n, func(x Node) bool {
		if found {
			return false
		}
		if pred(x) {
			found = true
			return false
		}
		return true
	})
	return found
}
