package binder

import (
	"strings"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerr"
)

// bindExpr resolves the members of a front-end expression against the row
// of sc.
func (b *binder) bindExpr(n nodes.Node, sc *scope) (nodes.Node, error) {
	if n == nil {
		return nil, nil
	}
	e := &exprBinder{b: b, sc: sc}
	e.Rewriter = nodes.NewRewriter(e)
	out := e.Rewrite(n)
	if e.err != nil {
		return nil, e.err
	}
	return out, nil
}

type exprBinder struct {
	*nodes.Rewriter
	b   *binder
	sc  *scope
	err error
}

func (e *exprBinder) fail(err error, n nodes.Node) nodes.Node {
	if e.err == nil {
		e.err = err
	}
	return n
}

func (e *exprBinder) RewriteMember(n *nodes.Member) nodes.Node {
	out, err := resolve(e.b.model, e.sc, n.Path)
	if err != nil {
		return e.fail(err, n)
	}
	return out
}

// Operators are rebuilt through their constructors so result types follow
// the bound operands.
func (e *exprBinder) RewriteBinary(n *nodes.Binary) nodes.Node {
	l := e.Rewrite(n.Left)
	r := e.Rewrite(n.Right)
	if l == n.Left && r == n.Right {
		return n
	}
	return nodes.NewBinary(n.Op, l, r)
}

func (e *exprBinder) RewriteUnary(n *nodes.Unary) nodes.Node {
	operand := e.Rewrite(n.Operand)
	if operand == n.Operand {
		return n
	}
	return nodes.NewUnary(n.Op, operand)
}

func (e *exprBinder) RewriteConditional(n *nodes.Conditional) nodes.Node {
	test := e.Rewrite(n.Test)
	ifTrue := e.Rewrite(n.IfTrue)
	ifFalse := e.Rewrite(n.IfFalse)
	if test == n.Test && ifTrue == n.IfTrue && ifFalse == n.IfFalse {
		return n
	}
	return nodes.NewConditional(test, ifTrue, ifFalse)
}

func (e *exprBinder) RewriteFunctionCall(n *nodes.FunctionCall) nodes.Node {
	if f, ok := nodes.ParseAggregate(n.Name); ok {
		return e.aggregate(n, f)
	}
	switch dialect.NormalizeName(n.Name) {
	case "exists", "any":
		if len(n.Args) == 1 {
			if nav, ok := e.collection(n.Args[0], e.sc); ok {
				return e.exists(nav)
			}
		}
	}
	return e.Rewriter.RewriteFunctionCall(n)
}

// collection binds arg in sc and reports whether it is a navigation
// across a one-to-many relation.
func (e *exprBinder) collection(arg nodes.Node, sc *scope) (*nodes.Navigation, bool) {
	m, ok := arg.(*nodes.Member)
	if !ok {
		return nil, false
	}
	out, err := resolve(e.b.model, sc, m.Path)
	if err != nil {
		return nil, false
	}
	nav, ok := out.(*nodes.Navigation)
	if !ok {
		return nil, false
	}
	t, err := navigationTarget(e.b.model, nav)
	if err != nil || !t.relation.Kind.Collection() {
		return nil, false
	}
	return nav, true
}

func (e *exprBinder) aggregate(n *nodes.FunctionCall, f nodes.AggregateFunc) nodes.Node {
	if len(n.Args) > 1 {
		return e.fail(&qerr.ArgumentCountError{Function: n.Name, Expected: "0 or 1", Got: len(n.Args)}, n)
	}
	source := e.sc
	if e.sc.group != nil {
		source = e.sc.group.element
	}
	if len(n.Args) == 1 {
		if nav, ok := e.collection(n.Args[0], source); ok {
			return e.collectionAggregate(nav, f, n.Name)
		}
	}
	if e.sc.group == nil {
		return e.fail(qerr.Bindingf("", n.Name, "aggregate outside of a group needs a collection relation argument"), n)
	}
	var arg nodes.Node
	if len(n.Args) == 1 {
		a, err := e.b.bindExpr(n.Args[0], source)
		if err != nil {
			return e.fail(err, n)
		}
		if !canAggregate(a) {
			return e.fail(qerr.Bindingf("", n.Name, "needs a scalar argument"), n)
		}
		arg = a
	} else if f != nodes.AggCount {
		return e.fail(&qerr.ArgumentCountError{Function: n.Name, Expected: "1", Got: 0}, n)
	}
	return &nodes.AggregateSubquery{GroupAlias: e.sc.group.alias, Aggregate: nodes.NewAggregate(f, arg, false)}
}

// collectionAggregate is a correlated scalar subquery aggregating the
// rows reached through nav.
func (e *exprBinder) collectionAggregate(nav *nodes.Navigation, f nodes.AggregateFunc, name string) nodes.Node {
	t, err := navigationTarget(e.b.model, nav)
	if err != nil {
		return e.fail(err, nav)
	}
	var arg nodes.Node
	if len(nav.Path) > 0 {
		a, err := walk(e.b.model, t.row, nav.Path, nav.Relation+"."+strings.Join(nav.Path, "."))
		if err != nil {
			return e.fail(err, nav)
		}
		if !canAggregate(a) || isNavigation(a) {
			return e.fail(qerr.Bindingf(t.entity.Name, strings.Join(nav.Path, "."), "cannot be aggregated"), nav)
		}
		arg = a
	} else if f != nodes.AggCount {
		return e.fail(qerr.Bindingf("", name, "needs a field of %s, as in %s.<field>", nav.Relation, nav.Relation), nav)
	}
	agg := nodes.NewAggregate(f, arg, false)
	alias := nodes.NewTableAlias()
	sel := nodes.NewSelect(alias, []nodes.ColumnDeclaration{{Name: "value", Expr: agg, T: agg.T}}, t.sel, t.cond)
	return &nodes.Scalar{Select: sel, T: agg.T}
}

func (e *exprBinder) exists(nav *nodes.Navigation) nodes.Node {
	t, err := navigationTarget(e.b.model, nav)
	if err != nil {
		return e.fail(err, nav)
	}
	alias := nodes.NewTableAlias()
	return &nodes.Exists{Select: nodes.NewSelect(alias, nil, t.sel, t.cond)}
}

// resolve binds a member path against the row of sc. Paths may start with
// the range name of the row; on joined rows an unqualified member is
// looked up in every joined row and must be unambiguous.
func resolve(m *mapping.Model, sc *scope, path []string) (nodes.Node, error) {
	full := strings.Join(path, ".")
	switch row := sc.row.(type) {
	case *nodes.Record:
		if sc.joined {
			if v, ok := row.Lookup(path[0]); ok {
				return walk(m, v, path[1:], full)
			}
			var found []nodes.Node
			for _, f := range row.Fields {
				if v, err := walk(m, f.Expr, path, full); err == nil {
					found = append(found, v)
				}
			}
			switch len(found) {
			case 1:
				return found[0], nil
			case 0:
				return nil, qerr.Bindingf("", full, "no such member in the joined rows")
			}
			return nil, qerr.Bindingf("", full, "ambiguous member; qualify it with a range name")
		}
		if len(path) > 1 && sc.name != "" && strings.EqualFold(path[0], sc.name) {
			if _, clash := row.Lookup(path[0]); !clash {
				path = path[1:]
			}
		}
		return walk(m, row, path, full)
	case *nodes.Navigation:
		if strings.EqualFold(path[0], "it") {
			path = path[1:]
		}
		return walk(m, row, path, full)
	}
	if strings.EqualFold(path[0], "it") || (sc.name != "" && strings.EqualFold(path[0], sc.name)) {
		return walk(m, sc.row, path[1:], full)
	}
	return nil, qerr.Bindingf("", full, "the row is a single value; refer to it as it")
}

// walk follows path through records. Reaching a relation of an entity
// record yields a Navigation carrying the rest of the path.
func walk(m *mapping.Model, cur nodes.Node, path []string, full string) (nodes.Node, error) {
	for i, seg := range path {
		switch r := cur.(type) {
		case *nodes.Navigation:
			rest := append(append([]string(nil), r.Path...), path[i:]...)
			return &nodes.Navigation{Source: r.Source, Relation: r.Relation, Path: rest}, nil
		case *nodes.Record:
			if v, ok := r.Lookup(seg); ok {
				cur = v
				continue
			}
			if r.Entity == "" {
				return nil, qerr.Bindingf("", full, "no member %s", seg)
			}
			e, ok := m.Entity(r.Entity)
			if !ok {
				return nil, qerr.Bindingf(r.Entity, "", "unknown entity")
			}
			rel, ok := e.Relation(seg)
			if !ok {
				return nil, qerr.Bindingf(e.Name, seg, "no such field or relation")
			}
			var rest []string
			if i+1 < len(path) {
				rest = append(rest, path[i+1:]...)
			}
			return &nodes.Navigation{Source: r, Relation: rel.Name, Path: rest}, nil
		default:
			return nil, qerr.Bindingf("", full, "cannot take member %s of a value", seg)
		}
	}
	return cur, nil
}
