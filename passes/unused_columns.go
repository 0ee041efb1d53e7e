package passes

import "github.com/bawdo/relq/nodes"

// RemoveUnusedColumns drops column declarations that no enclosing scope
// references. Distinct selects, the source of a select counting its rows,
// grouping keys and a top-level select keep their columns. A singleton
// left outer join whose right side is never referenced is dropped.
func RemoveUnusedColumns(n nodes.Node) nodes.Node {
	r := &unusedColumns{used: make(map[*nodes.TableAlias]map[string]bool)}
	r.Rewriter = nodes.NewRewriter(r)
	_, r.retainAll = n.(*nodes.Select)
	return r.Rewrite(n)
}

type unusedColumns struct {
	*nodes.Rewriter
	used      map[*nodes.TableAlias]map[string]bool
	retainAll bool
}

func (r *unusedColumns) mark(alias *nodes.TableAlias, name string) {
	set, ok := r.used[alias]
	if !ok {
		set = make(map[string]bool)
		r.used[alias] = set
	}
	set[name] = true
}

func (r *unusedColumns) RewriteColumn(n *nodes.Column) nodes.Node {
	r.mark(n.Alias, n.Name)
	return n
}

func (r *unusedColumns) RewriteScalar(n *nodes.Scalar) nodes.Node {
	if len(n.Select.Columns) > 0 {
		r.mark(n.Select.Alias, n.Select.Columns[0].Name)
	}
	return r.Rewriter.RewriteScalar(n)
}

func (r *unusedColumns) RewriteIn(n *nodes.In) nodes.Node {
	if n.Select != nil && len(n.Select.Columns) > 0 {
		r.mark(n.Select.Alias, n.Select.Columns[0].Name)
	}
	return r.Rewriter.RewriteIn(n)
}

func (r *unusedColumns) keep(s *nodes.Select, d nodes.ColumnDeclaration, retain bool) bool {
	if retain || s.Distinct || r.used[s.Alias][d.Name] {
		return true
	}
	for _, g := range s.GroupBy {
		if nodes.Equal(g, d.Expr) {
			return true
		}
	}
	return false
}

func (r *unusedColumns) RewriteSelect(n *nodes.Select) nodes.Node {
	retain := r.retainAll
	r.retainAll = false

	var columns []nodes.ColumnDeclaration
	changed := false
	for _, d := range n.Columns {
		if !r.keep(n, d, retain) {
			changed = true
			continue
		}
		e := r.Rewrite(d.Expr)
		if e != d.Expr {
			changed = true
			d = nodes.ColumnDeclaration{Name: d.Name, Expr: e, T: d.T}
		}
		columns = append(columns, d)
	}
	if !changed {
		columns = n.Columns
	}
	take := r.Rewrite(n.Take)
	skip := r.Rewrite(n.Skip)
	groupBy := r.RewriteList(n.GroupBy)
	orderBy := r.RewriteOrderings(n.OrderBy)
	where := r.Rewrite(n.Where)

	if _, ok := n.From.(*nodes.Select); ok && countsRows(n) {
		r.retainAll = true
	}
	from := r.Rewrite(n.From)
	r.retainAll = retain

	delete(r.used, n.Alias)
	return nodes.UpdateSelect(n, columns, from, where, orderBy, groupBy, skip, take, n.Distinct)
}

// countsRows reports whether s has COUNT(*) at its own level.
func countsRows(s *nodes.Select) bool {
	found := false
	for _, d := range s.Columns {
		nodes.Walk(d.Expr, func(x nodes.Node) bool {
			switch x := x.(type) {
			case *nodes.Aggregate:
				if x.Func == nodes.AggCount && x.Arg == nil {
					found = true
				}
				return false
			case *nodes.Select, *nodes.Projection:
				return false
			}
			return !found
		})
	}
	return found
}

func (r *unusedColumns) RewriteJoin(n *nodes.Join) nodes.Node {
	if n.JoinKind == nodes.SingletonLeftOuterJoin {
		referenced := false
		for a := range nodes.DeclaredAliases(n.Right) {
			if len(r.used[a]) > 0 {
				referenced = true
				break
			}
		}
		if !referenced {
			return r.Rewrite(n.Left)
		}
	}
	cond := r.Rewrite(n.Condition)
	right := r.Rewrite(n.Right)
	left := r.Rewrite(n.Left)
	return nodes.UpdateJoin(n, n.JoinKind, left, right, cond)
}

func (r *unusedColumns) RewriteProjection(n *nodes.Projection) nodes.Node {
	projector := r.Rewrite(n.Projector)
	sel := r.RewriteSubquery(n.Select)
	return nodes.UpdateProjection(n, sel, projector, n.Aggregator)
}

func (r *unusedColumns) RewriteClientJoin(n *nodes.ClientJoin) nodes.Node {
	inner := r.RewriteList(n.InnerKey)
	outer := r.RewriteList(n.OuterKey)
	proj := r.RewriteProjectionNode(n.Projection)
	if proj == n.Projection && sameList(outer, n.OuterKey) && sameList(inner, n.InnerKey) {
		return n
	}
	return &nodes.ClientJoin{Projection: proj, OuterKey: outer, InnerKey: inner}
}

func sameList(a, b []nodes.Node) bool {
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
