package plugins

import "github.com/bawdo/relq/nodes"

// TableRef holds a reference to a table source of a select.
// Optional is set for the right side of outer joins, where a filter
// belongs in the join condition rather than the WHERE clause.
type TableRef struct {
	Alias    *nodes.TableAlias
	Name     string
	Optional bool
}

// CollectTables returns the tables read directly by s: its FROM table and
// the tables of its joins. Subqueries and applied sources are skipped.
func CollectTables(s *nodes.Select) []TableRef {
	var refs []TableRef
	collect(s.From, false, &refs)
	return refs
}

func collect(n nodes.Node, optional bool, refs *[]TableRef) {
	switch r := n.(type) {
	case *nodes.Table:
		*refs = append(*refs, TableRef{Alias: r.Alias, Name: r.Name, Optional: optional})
	case *nodes.Join:
		collect(r.Left, optional, refs)
		switch r.JoinKind {
		case nodes.CrossJoin, nodes.InnerJoin:
			collect(r.Right, optional, refs)
		case nodes.LeftOuterJoin, nodes.SingletonLeftOuterJoin:
			collect(r.Right, true, refs)
		}
	}
}

// RestrictJoin ANDs cond into the condition of the join whose right side
// declares alias. from is returned unchanged when no join matches.
func RestrictJoin(from nodes.Node, alias *nodes.TableAlias, cond nodes.Node) nodes.Node {
	j, ok := from.(*nodes.Join)
	if !ok {
		return from
	}
	if nodes.DeclaredAliases(j.Right)[alias] {
		return nodes.UpdateJoin(j, j.JoinKind, j.Left, j.Right, nodes.AndAlso(j.Condition, cond))
	}
	left := RestrictJoin(j.Left, alias, cond)
	return nodes.UpdateJoin(j, j.JoinKind, left, j.Right, j.Condition)
}
