// Package query provides the front-end of the translator: an immutable,
// fluent sequence of relational operators over mapped entities. A Query
// is only a description; the binder turns it into IR.
package query

import (
	"slices"

	"github.com/bawdo/relq/nodes"
)

// OpKind tags an operator.
type OpKind int

const (
	OpFrom OpKind = iota
	OpWhere
	OpSelect
	OpJoin
	OpLeftJoin
	OpCrossJoin
	OpSelectMany
	OpGroupBy
	OpOrderBy
	OpThenBy
	OpSkip
	OpTake
	OpDistinct
	OpAggregate
	OpFirst
	OpSingle
	OpInclude
	OpValue
)

var opNames = [...]string{
	OpFrom:       "from",
	OpWhere:      "where",
	OpSelect:     "select",
	OpJoin:       "join",
	OpLeftJoin:   "left_join",
	OpCrossJoin:  "cross_join",
	OpSelectMany: "select_many",
	OpGroupBy:    "group_by",
	OpOrderBy:    "order_by",
	OpThenBy:     "then_by",
	OpSkip:       "skip",
	OpTake:       "take",
	OpDistinct:   "distinct",
	OpAggregate:  "aggregate",
	OpFirst:      "first",
	OpSingle:     "single",
	OpInclude:    "include",
	OpValue:      "value",
}

func (k OpKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return "unknown"
}

// Operator is one step of a query. Which fields are meaningful depends on
// Kind:
//
//	From, CrossJoin          Entity, As
//	Join, LeftJoin           Entity, As, Outer, Inner
//	Where                    Expr (predicate)
//	Select                   Expr (projector)
//	SelectMany               Expr (collection member), As
//	GroupBy                  Expr (key)
//	OrderBy, ThenBy          Expr, Desc
//	Skip, Take               Expr (constant or parameter count)
//	Aggregate                Func, Expr (nil for Count)
//	First, Single            OrDefault
//	Include                  Path
//	Value                    Sub
type Operator struct {
	Kind      OpKind
	Entity    string
	As        string
	Expr      nodes.Node
	Outer     nodes.Node
	Inner     nodes.Node
	Desc      bool
	Func      nodes.AggregateFunc
	OrDefault bool
	Path      string
	Sub       *Query
}

// Query is an immutable operator sequence. Every method returns a new
// Query; the receiver is never modified, so partial queries can be
// shared and extended independently.
type Query struct {
	ops []Operator
}

// From starts a query over the rows of entity. The range name used to
// qualify members after a join defaults to the entity name.
func From(entity string, as ...string) Query {
	op := Operator{Kind: OpFrom, Entity: entity, As: entity}
	if len(as) > 0 && as[0] != "" {
		op.As = as[0]
	}
	return Query{ops: []Operator{op}}
}

// Value builds a source-less query whose single result is the scalar
// value of sub, which must end in an aggregate, First or Single.
func Value(sub Query) Query {
	return Query{ops: []Operator{{Kind: OpValue, Sub: &sub}}}
}

// Ops returns a copy of the operator sequence.
func (q Query) Ops() []Operator { return slices.Clone(q.ops) }

// Len is the number of operators.
func (q Query) Len() int { return len(q.ops) }

// IsZero reports whether q has no operators.
func (q Query) IsZero() bool { return len(q.ops) == 0 }

// Map returns a query whose operator expressions, including those of value
// subqueries, are replaced by f's result.
func (q Query) Map(f func(nodes.Node) nodes.Node) Query {
	ops := slices.Clone(q.ops)
	for i := range ops {
		op := &ops[i]
		if op.Expr != nil {
			op.Expr = f(op.Expr)
		}
		if op.Outer != nil {
			op.Outer = f(op.Outer)
		}
		if op.Inner != nil {
			op.Inner = f(op.Inner)
		}
		if op.Sub != nil {
			sub := op.Sub.Map(f)
			op.Sub = &sub
		}
	}
	return Query{ops: ops}
}

func (q Query) with(op Operator) Query {
	ops := make([]Operator, len(q.ops), len(q.ops)+1)
	copy(ops, q.ops)
	return Query{ops: append(ops, op)}
}

// Where filters rows by pred. Successive calls combine with AND.
func (q Query) Where(pred nodes.Node) Query {
	return q.with(Operator{Kind: OpWhere, Expr: pred})
}

// Select projects each row through projector, usually a Record built with
// Fields or a single member.
func (q Query) Select(projector nodes.Node) Query {
	return q.with(Operator{Kind: OpSelect, Expr: projector})
}

// Join adds an inner join to entity and returns a JoinContext that must be
// completed with On.
func (q Query) Join(entity, as string) *JoinContext {
	return &JoinContext{query: q, op: Operator{Kind: OpJoin, Entity: entity, As: as}}
}

// LeftJoin is Join keeping rows without a match.
func (q Query) LeftJoin(entity, as string) *JoinContext {
	return &JoinContext{query: q, op: Operator{Kind: OpLeftJoin, Entity: entity, As: as}}
}

// CrossJoin pairs every row with every row of entity. A later Where that
// relates both sides is turned into a join condition.
func (q Query) CrossJoin(entity, as string) Query {
	return q.with(Operator{Kind: OpCrossJoin, Entity: entity, As: as})
}

// SelectMany flattens the one-to-many relation named by collection, giving
// each related row the range name as.
func (q Query) SelectMany(collection string, as string) Query {
	return q.with(Operator{Kind: OpSelectMany, Expr: nodes.NewMember(collection), As: as})
}

// GroupBy groups rows by key. After grouping, "Key" names the key and the
// aggregate functions count, sum, avg, min and max range over the group.
func (q Query) GroupBy(key nodes.Node) Query {
	return q.with(Operator{Kind: OpGroupBy, Expr: key})
}

// OrderBy sorts ascending by key, replacing any earlier ordering.
func (q Query) OrderBy(key nodes.Node) Query {
	return q.with(Operator{Kind: OpOrderBy, Expr: key})
}

// OrderByDesc sorts descending by key.
func (q Query) OrderByDesc(key nodes.Node) Query {
	return q.with(Operator{Kind: OpOrderBy, Expr: key, Desc: true})
}

// ThenBy adds an ascending tie-breaker to the current ordering.
func (q Query) ThenBy(key nodes.Node) Query {
	return q.with(Operator{Kind: OpThenBy, Expr: key})
}

// ThenByDesc adds a descending tie-breaker.
func (q Query) ThenByDesc(key nodes.Node) Query {
	return q.with(Operator{Kind: OpThenBy, Expr: key, Desc: true})
}

// Skip bypasses the first n rows. n is an int or a *nodes.Parameter.
func (q Query) Skip(n any) Query {
	return q.with(Operator{Kind: OpSkip, Expr: count(n)})
}

// Take limits the result to n rows. n is an int or a *nodes.Parameter.
func (q Query) Take(n any) Query {
	return q.with(Operator{Kind: OpTake, Expr: count(n)})
}

func count(n any) nodes.Node {
	switch n := n.(type) {
	case nodes.Node:
		return n
	case int:
		return nodes.NewConstant(n)
	case int64:
		return nodes.NewConstant(int(n))
	}
	panic("relq: skip and take counts must be int or a node")
}

// Distinct removes duplicate rows.
func (q Query) Distinct() Query {
	return q.with(Operator{Kind: OpDistinct})
}

// Count ends the query with the number of rows.
func (q Query) Count() Query {
	return q.with(Operator{Kind: OpAggregate, Func: nodes.AggCount})
}

// Sum ends the query with the sum of expr over the rows.
func (q Query) Sum(expr nodes.Node) Query {
	return q.with(Operator{Kind: OpAggregate, Func: nodes.AggSum, Expr: expr})
}

// Avg ends the query with the average of expr.
func (q Query) Avg(expr nodes.Node) Query {
	return q.with(Operator{Kind: OpAggregate, Func: nodes.AggAvg, Expr: expr})
}

// Min ends the query with the smallest expr.
func (q Query) Min(expr nodes.Node) Query {
	return q.with(Operator{Kind: OpAggregate, Func: nodes.AggMin, Expr: expr})
}

// Max ends the query with the largest expr.
func (q Query) Max(expr nodes.Node) Query {
	return q.with(Operator{Kind: OpAggregate, Func: nodes.AggMax, Expr: expr})
}

// First ends the query with its first row; materializing an empty result
// fails.
func (q Query) First() Query {
	return q.with(Operator{Kind: OpFirst})
}

// FirstOrDefault is First yielding nil for an empty result.
func (q Query) FirstOrDefault() Query {
	return q.with(Operator{Kind: OpFirst, OrDefault: true})
}

// Single ends the query with its only row; zero or several rows fail.
func (q Query) Single() Query {
	return q.with(Operator{Kind: OpSingle})
}

// SingleOrDefault is Single yielding nil for an empty result.
func (q Query) SingleOrDefault() Query {
	return q.with(Operator{Kind: OpSingle, OrDefault: true})
}

// Include eagerly loads a relation of the projected entities. path is
// either a relation of the source entity ("Orders") or qualified with the
// owning entity ("Order.Lines").
func (q Query) Include(path string) Query {
	return q.with(Operator{Kind: OpInclude, Path: path})
}

// JoinContext is returned by Join and LeftJoin and holds the pending join
// until its key pair is supplied by On.
type JoinContext struct {
	query Query
	op    Operator
}

// On completes the join: outer is evaluated against the rows so far, inner
// against the joined entity, and rows pair up where they are equal.
func (jc *JoinContext) On(outer, inner nodes.Node) Query {
	op := jc.op
	op.Outer = outer
	op.Inner = inner
	return jc.query.with(op)
}
