package binder

import (
	"strings"

	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
)

// maxIncludeDepth bounds eager loading through chains of relations,
// including cyclic ones such as User.Orders with Order.User.
const maxIncludeDepth = 3

// Include adds a navigation field for each eagerly loaded relation
// ("Entity.Relation") to the matching entity records of every projector
// and binds the new navigations. Records reached through an include are
// extended in the next round.
func Include(n nodes.Node, m *mapping.Model, includes []string) (nodes.Node, error) {
	if len(includes) == 0 {
		return n, nil
	}
	byEntity := make(map[string][]string)
	for _, p := range includes {
		entity, relation, ok := strings.Cut(p, ".")
		if !ok {
			continue
		}
		byEntity[strings.ToLower(entity)] = append(byEntity[strings.ToLower(entity)], relation)
	}
	for range maxIncludeDepth {
		inc := &includer{relations: byEntity}
		inc.Rewriter = nodes.NewRewriter(inc)
		out := inc.Rewrite(n)
		if out == n {
			break
		}
		bound, err := BindRelationships(out, m)
		if err != nil {
			return nil, err
		}
		n = bound
	}
	return n, nil
}

type includer struct {
	*nodes.Rewriter
	relations map[string][]string
}

func (inc *includer) RewriteProjection(n *nodes.Projection) nodes.Node {
	sel := inc.RewriteSubquery(n.Select)
	projector := inc.Rewrite(n.Projector)
	return nodes.UpdateProjection(n, sel, inc.extend(projector), n.Aggregator)
}

// extend adds the missing include fields to rec and the records nested in
// it. Nested projections were already extended by RewriteProjection.
func (inc *includer) extend(n nodes.Node) nodes.Node {
	rec, ok := n.(*nodes.Record)
	if !ok {
		return n
	}
	out := rec
	for i, f := range rec.Fields {
		if e := inc.extend(f.Expr); e != f.Expr {
			if out == rec {
				out = &nodes.Record{Entity: rec.Entity, Fields: append([]nodes.Field(nil), rec.Fields...)}
			}
			out.Fields[i].Expr = e
		}
	}
	if rec.Entity == "" {
		return out
	}
	for _, relation := range inc.relations[strings.ToLower(rec.Entity)] {
		if _, present := out.Lookup(relation); present {
			continue
		}
		out = out.WithField(relation, &nodes.Navigation{Source: rec, Relation: relation})
	}
	return out
}
