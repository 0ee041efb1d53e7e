package passes

import (
	"maps"
	"slices"

	"github.com/bawdo/relq/nodes"
)

// RewriteCrossApplies turns CROSS/OUTER APPLY into plain joins where the
// right side does not depend on the left outside its filter: an applied
// table becomes a cross join, and an applied select without paging,
// grouping or aggregates has its filter lifted into the join condition
// (inner join for CROSS APPLY, left outer join for OUTER APPLY).
func RewriteCrossApplies(n nodes.Node) nodes.Node {
	r := &crossApplyRewriter{}
	r.Rewriter = nodes.NewRewriter(r)
	return r.Rewrite(n)
}

type crossApplyRewriter struct {
	*nodes.Rewriter
}

func (r *crossApplyRewriter) RewriteJoin(n *nodes.Join) nodes.Node {
	j := r.Rewriter.RewriteJoin(n).(*nodes.Join)
	if j.JoinKind != nodes.CrossApply && j.JoinKind != nodes.OuterApply {
		return j
	}
	switch right := j.Right.(type) {
	case *nodes.Table:
		return nodes.NewJoin(nodes.CrossJoin, j.Left, right, nil)
	case *nodes.Select:
		if right.Paged() || right.Distinct || len(right.GroupBy) > 0 || nodes.HasAggregates(right) {
			return j
		}
		unfiltered := right.WithWhere(nil)
		refs := nodes.ReferencedAliases(unfiltered)
		for a := range nodes.DeclaredAliases(j.Left) {
			if refs[a] {
				return j
			}
		}
		if right.Where == nil {
			return nodes.NewJoin(nodes.CrossJoin, j.Left, unfiltered, nil)
		}
		sources := slices.Collect(maps.Keys(nodes.DeclaredAliases(right.From)))
		pc := nodes.ProjectColumns(right.Where, right.Columns, right.Alias, sources...)
		kind := nodes.InnerJoin
		if j.JoinKind == nodes.OuterApply {
			kind = nodes.LeftOuterJoin
		}
		return nodes.NewJoin(kind, j.Left, unfiltered.WithColumns(pc.Columns), pc.Projector)
	}
	return j
}

// RewriteCrossJoins turns a cross join into an inner join on the filter
// terms of the enclosing select that reference both of its sides and
// nothing else, removing those terms from the filter.
func RewriteCrossJoins(n nodes.Node) nodes.Node {
	r := &crossJoinRewriter{}
	r.Rewriter = nodes.NewRewriter(r)
	return r.Rewrite(n)
}

type crossJoinRewriter struct {
	*nodes.Rewriter
	where nodes.Node
}

func (r *crossJoinRewriter) RewriteSelect(n *nodes.Select) nodes.Node {
	saved := r.where
	r.where = n.Where
	defer func() { r.where = saved }()
	sel := r.Rewriter.RewriteSelect(n).(*nodes.Select)
	if r.where != n.Where {
		return sel.WithWhere(r.where)
	}
	return sel
}

func (r *crossJoinRewriter) RewriteJoin(n *nodes.Join) nodes.Node {
	j := r.Rewriter.RewriteJoin(n).(*nodes.Join)
	if j.JoinKind != nodes.CrossJoin || r.where == nil {
		return j
	}
	left := nodes.DeclaredAliases(j.Left)
	right := nodes.DeclaredAliases(j.Right)
	var good, rest []nodes.Node
	for _, term := range nodes.Split(r.where, nodes.OpAnd) {
		if joinsBoth(term, left, right) {
			good = append(good, term)
		} else {
			rest = append(rest, term)
		}
	}
	if len(good) == 0 {
		return j
	}
	r.where = nodes.Combine(rest, nodes.OpAnd)
	return nodes.NewJoin(nodes.InnerJoin, j.Left, j.Right, nodes.Combine(good, nodes.OpAnd))
}

// joinsBoth reports whether term references both sides and no other scope.
func joinsBoth(term nodes.Node, left, right map[*nodes.TableAlias]bool) bool {
	var l, r bool
	for a := range nodes.ReferencedAliases(term) {
		switch {
		case left[a]:
			l = true
		case right[a]:
			r = true
		default:
			return false
		}
	}
	return l && r
}

// IsolateCrossJoins wraps a join in its own select when a cross join and
// another kind of join are nested in each other, so no FROM clause mixes
// comma-style and explicit joins. The new select declares every column of
// the wrapped sources the enclosing select references.
func IsolateCrossJoins(n nodes.Node) nodes.Node {
	r := &crossJoinIsolator{mapped: make(map[nodes.ColumnKey]*nodes.Column)}
	r.Rewriter = nodes.NewRewriter(r)
	return r.Rewrite(n)
}

type crossJoinIsolator struct {
	*nodes.Rewriter
	columns  []*nodes.Column
	mapped   map[nodes.ColumnKey]*nodes.Column
	lastJoin *nodes.JoinKind
}

func (r *crossJoinIsolator) RewriteSelect(n *nodes.Select) nodes.Node {
	savedCols, savedLast := r.columns, r.lastJoin
	r.columns = nodes.ReferencedColumns(n)
	r.lastJoin = nil
	out := r.Rewriter.RewriteSelect(n)
	r.columns, r.lastJoin = savedCols, savedLast
	return out
}

func (r *crossJoinIsolator) RewriteJoin(n *nodes.Join) nodes.Node {
	saved := r.lastJoin
	kind := n.JoinKind
	r.lastJoin = &kind
	j := r.Rewriter.RewriteJoin(n).(*nodes.Join)
	r.lastJoin = saved
	if saved != nil && (j.JoinKind == nodes.CrossJoin) != (*saved == nodes.CrossJoin) {
		return r.subquery(j)
	}
	return j
}

func (r *crossJoinIsolator) subquery(source nodes.Node) *nodes.Select {
	alias := nodes.NewTableAlias()
	declared := nodes.DeclaredAliases(source)
	var cols []nodes.ColumnDeclaration
	for _, c := range r.columns {
		if !declared[c.Alias] {
			continue
		}
		name := nodes.AvailableColumnName(cols, c.Name)
		cols = append(cols, nodes.ColumnDeclaration{Name: name, Expr: c, T: c.T})
		r.mapped[c.Key()] = nodes.NewColumn(alias, name, c.T)
	}
	return nodes.NewSelect(alias, cols, source, nil)
}

func (r *crossJoinIsolator) RewriteColumn(n *nodes.Column) nodes.Node {
	if m, ok := r.mapped[n.Key()]; ok {
		return m
	}
	return n
}
