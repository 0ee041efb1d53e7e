package binder

import (
	"maps"
	"slices"
	"strings"

	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerr"
)

// maxNavigationDepth bounds how many relations a single member path may
// cross, and how many rounds BindRelationships runs.
const maxNavigationDepth = 8

// navTarget is the far side of a navigation: the entity select, its row
// and the condition correlating it with the navigation source.
type navTarget struct {
	entity   *mapping.Entity
	relation *mapping.Relation
	sel      *nodes.Select
	row      *nodes.Record
	cond     nodes.Node
}

func navigationTarget(m *mapping.Model, nav *nodes.Navigation) (*navTarget, error) {
	src, ok := nav.Source.(*nodes.Record)
	if !ok || src.Entity == "" {
		return nil, qerr.Bindingf("", nav.Relation, "navigation source is not an entity row")
	}
	owner, ok := m.Entity(src.Entity)
	if !ok {
		return nil, qerr.Bindingf(src.Entity, "", "unknown entity")
	}
	rel, ok := owner.Relation(nav.Relation)
	if !ok {
		return nil, qerr.Bindingf(owner.Name, nav.Relation, "no such relation")
	}
	target, ok := m.Entity(rel.Target)
	if !ok {
		return nil, qerr.Bindingf(rel.Target, "", "unknown entity")
	}
	sel, row := entitySelect(target)
	var cond nodes.Node
	for i, k := range rel.ThisKey {
		l, ok := src.Lookup(k)
		if !ok {
			return nil, qerr.Bindingf(owner.Name, k, "key of relation %s is not part of the row", rel.Name)
		}
		r, _ := row.Lookup(rel.OtherKey[i])
		cond = nodes.AndAlso(cond, nodes.Eq(r, l))
	}
	return &navTarget{entity: target, relation: rel, sel: sel, row: row, cond: cond}, nil
}

// navigations returns the navigations of n outside nested selects and
// projections.
func navigations(n nodes.Node) []*nodes.Navigation {
	var out []*nodes.Navigation
	nodes.Walk(n, func(x nodes.Node) bool {
		switch x := x.(type) {
		case *nodes.Navigation:
			out = append(out, x)
			return false
		case *nodes.Select, *nodes.Projection, *nodes.ClientJoin:
			return false
		}
		return true
	})
	return out
}

// expandNavigations joins the target of every scalar navigation in expr to
// from with a singleton left outer join and replaces the navigation by the
// target member it leads to. With nested set, collection navigations
// become correlated nested projections; otherwise they are an error.
func expandNavigations(m *mapping.Model, from, expr nodes.Node, nested bool) (nodes.Node, nodes.Node, error) {
	type joined struct {
		source   nodes.Node
		relation string
		target   *navTarget
	}
	var done []joined
	for round := 0; ; round++ {
		navs := navigations(expr)
		if len(navs) == 0 {
			return from, expr, nil
		}
		if round >= maxNavigationDepth {
			return nil, nil, qerr.Bindingf("", navs[0].Relation, "navigation is nested too deeply")
		}
		pairs := make([]nodes.Pair, 0, len(navs))
		for _, nav := range navs {
			full := nav.Relation
			if len(nav.Path) > 0 {
				full += "." + strings.Join(nav.Path, ".")
			}
			var t *navTarget
			for _, d := range done {
				if d.relation == nav.Relation && nodes.Equal(d.source, nav.Source) {
					t = d.target
					break
				}
			}
			if t == nil {
				var err error
				if t, err = navigationTarget(m, nav); err != nil {
					return nil, nil, err
				}
				if t.relation.Kind.Collection() {
					if !nested {
						return nil, nil, qerr.Bindingf("", full, "a collection relation cannot be used as a value here")
					}
					proj, err := nestedProjection(m, t, nav.Path, full)
					if err != nil {
						return nil, nil, err
					}
					pairs = append(pairs, nodes.Pair{Search: nav, Replacement: proj})
					continue
				}
				from = nodes.NewJoin(nodes.SingletonLeftOuterJoin, from, t.sel, t.cond)
				done = append(done, joined{source: nav.Source, relation: nav.Relation, target: t})
			}
			resolved, err := walk(m, t.row, nav.Path, full)
			if err != nil {
				return nil, nil, err
			}
			pairs = append(pairs, nodes.Pair{Search: nav, Replacement: resolved})
		}
		expr = nodes.ReplaceAll(expr, pairs...)
	}
}

// nestedProjection reads the rows of a one-to-many relation correlated
// with the navigation source.
func nestedProjection(m *mapping.Model, t *navTarget, path []string, full string) (*nodes.Projection, error) {
	projector, err := walk(m, t.row, path, full)
	if err != nil {
		return nil, err
	}
	alias := nodes.NewTableAlias()
	pc := nodes.ProjectColumns(projector, nil, alias, t.sel.Alias)
	sel := nodes.NewSelect(alias, pc.Columns, t.sel, t.cond)
	return nodes.NewProjection(sel, pc.Projector, nodes.ProjectMany), nil
}

// BindRelationships replaces navigations by joins and nested projections,
// repeating until no navigation is left. Scalar navigations in a filter,
// ordering or grouping join into the source of their select; in a
// projector they join under a new select. Collection navigations are only
// allowed in projectors.
func BindRelationships(n nodes.Node, m *mapping.Model) (nodes.Node, error) {
	for range maxNavigationDepth {
		r := &relationshipBinder{model: m}
		r.Rewriter = nodes.NewRewriter(r)
		out := r.Rewrite(n)
		if r.err != nil {
			return nil, r.err
		}
		if out == n {
			break
		}
		n = out
	}
	var left *nodes.Navigation
	nodes.Walk(n, func(x nodes.Node) bool {
		if nav, ok := x.(*nodes.Navigation); ok && left == nil {
			left = nav
		}
		return left == nil
	})
	if left != nil {
		return nil, qerr.Bindingf("", left.Relation, "navigation cannot be used here")
	}
	return n, nil
}

type relationshipBinder struct {
	*nodes.Rewriter
	model *mapping.Model
	err   error
}

func (r *relationshipBinder) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *relationshipBinder) RewriteSelect(n *nodes.Select) nodes.Node {
	sel := r.Rewriter.RewriteSelect(n).(*nodes.Select)
	if sel.From == nil || r.err != nil {
		return sel
	}
	var fields []nodes.Field
	if sel.Where != nil {
		fields = append(fields, nodes.Field{Name: "where", Expr: sel.Where})
	}
	for _, g := range sel.GroupBy {
		fields = append(fields, nodes.Field{Name: "group", Expr: g})
	}
	for _, o := range sel.OrderBy {
		fields = append(fields, nodes.Field{Name: "order", Expr: o.Expr})
	}
	clauses := nodes.NewRecord("", fields...)
	if len(navigations(clauses)) == 0 {
		return sel
	}
	from, expanded, err := expandNavigations(r.model, sel.From, clauses, false)
	if err != nil {
		r.fail(err)
		return sel
	}
	rec := expanded.(*nodes.Record)
	i := 0
	next := func() nodes.Node {
		e := rec.Fields[i].Expr
		i++
		return e
	}
	where := sel.Where
	if where != nil {
		where = next()
	}
	groupBy := slices.Clone(sel.GroupBy)
	for j := range groupBy {
		groupBy[j] = next()
	}
	orderBy := slices.Clone(sel.OrderBy)
	for j := range orderBy {
		orderBy[j].Expr = next()
	}
	return nodes.UpdateSelect(sel, sel.Columns, from, where, orderBy, groupBy, sel.Skip, sel.Take, sel.Distinct)
}

func (r *relationshipBinder) RewriteProjection(n *nodes.Projection) nodes.Node {
	sel := r.RewriteSubquery(n.Select)
	projector := r.Rewrite(n.Projector)
	if r.err != nil || len(navigations(projector)) == 0 {
		return nodes.UpdateProjection(n, sel, projector, n.Aggregator)
	}
	from, expanded, err := expandNavigations(r.model, sel, projector, true)
	if err != nil {
		r.fail(err)
		return n
	}
	if from == nodes.Node(sel) {
		return nodes.NewProjection(sel, expanded, n.Aggregator)
	}
	alias := nodes.NewTableAlias()
	pc := nodes.ProjectColumns(expanded, nil, alias, slices.Collect(maps.Keys(nodes.DeclaredAliases(from)))...)
	return nodes.NewProjection(nodes.NewSelect(alias, pc.Columns, from, nil), pc.Projector, n.Aggregator)
}
