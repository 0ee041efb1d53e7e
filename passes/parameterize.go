package passes

import (
	"fmt"
	"strconv"

	"github.com/bawdo/relq/nodes"
)

// Parameterize replaces the literal values of filters, join conditions
// and select columns with named parameters p0, p1, ... Equal values share
// a name. NULL, booleans, paging counts, orderings, grouping keys and the
// date part of date functions stay literal, as do values only used on the
// client by a projector.
func Parameterize(n nodes.Node) nodes.Node {
	p := &parameterizer{byValue: make(map[string]string), taken: make(map[string]bool)}
	nodes.Walk(n, func(x nodes.Node) bool {
		if prm, ok := x.(*nodes.Parameter); ok {
			p.taken[prm.Name] = true
		}
		return true
	})
	p.Rewriter = nodes.NewRewriter(p)
	return p.Rewrite(n)
}

type parameterizer struct {
	*nodes.Rewriter
	byValue map[string]string
	taken   map[string]bool
	next    int
	client  bool
}

func (p *parameterizer) name(v any) string {
	key := fmt.Sprintf("%T:%v", v, v)
	if name, ok := p.byValue[key]; ok {
		return name
	}
	name := "p" + strconv.Itoa(p.next)
	for p.taken[name] {
		p.next++
		name = "p" + strconv.Itoa(p.next)
	}
	p.next++
	p.taken[name] = true
	p.byValue[key] = name
	return name
}

func (p *parameterizer) RewriteConstant(n *nodes.Constant) nodes.Node {
	if p.client || n.Value == nil {
		return n
	}
	if _, ok := n.Value.(bool); ok {
		return n
	}
	return &nodes.Parameter{Name: p.name(n.Value), Value: n.Value, T: n.T}
}

func (p *parameterizer) RewriteSelect(n *nodes.Select) nodes.Node {
	client := p.client
	p.client = false
	from := p.Rewrite(n.From)
	where := p.Rewrite(n.Where)
	columns := p.RewriteColumnDeclarations(n.Columns)
	p.client = client
	return nodes.UpdateSelect(n, columns, from, where, n.OrderBy, n.GroupBy, n.Skip, n.Take, n.Distinct)
}

func (p *parameterizer) RewriteRowNumber(n *nodes.RowNumber) nodes.Node {
	return n
}

func (p *parameterizer) RewriteFunctionCall(n *nodes.FunctionCall) nodes.Node {
	if (n.Key != "datepart" && n.Key != "datediff") || len(n.Args) == 0 {
		return p.Rewriter.RewriteFunctionCall(n)
	}
	rest := p.RewriteList(n.Args[1:])
	if sameList(rest, n.Args[1:]) {
		return n
	}
	args := append([]nodes.Node{n.Args[0]}, rest...)
	return &nodes.FunctionCall{Name: n.Name, Key: n.Key, Args: args, T: n.T}
}

func (p *parameterizer) RewriteProjection(n *nodes.Projection) nodes.Node {
	client := p.client
	sel := p.RewriteSubquery(n.Select)
	p.client = true
	projector := p.Rewrite(n.Projector)
	p.client = client
	return nodes.UpdateProjection(n, sel, projector, n.Aggregator)
}
