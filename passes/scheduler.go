// Package passes holds the semantics-preserving rewrites applied to a bound
// query tree between binding and SQL rendering: column and subquery
// cleanup, ordering and paging, comparison and aggregate lowering, client
// joins and parameterization.
//
// Every pass is a Func. A pass returns its input (the same pointer) when
// it had nothing to do, which is how the Scheduler detects a fixed point.
package passes

import "github.com/bawdo/relq/nodes"

// Func is a tree rewrite.
type Func func(nodes.Node) nodes.Node

// Step is a named pass.
type Step struct {
	Name string
	Run  Func
}

// DefaultMaxRounds bounds Scheduler.Fixpoint when MaxRounds is zero.
const DefaultMaxRounds = 16

// Scheduler runs groups of passes.
type Scheduler struct {
	// MaxRounds bounds the rounds of a fixed-point group.
	MaxRounds int
	// OnChange, if set, is called after each step that changed the tree.
	OnChange func(step string, before, after nodes.Node)
}

// Run applies the steps once, in order.
func (s *Scheduler) Run(n nodes.Node, steps ...Step) nodes.Node {
	for _, st := range steps {
		out := st.Run(n)
		if out != n && s.OnChange != nil {
			s.OnChange(st.Name, n, out)
		}
		n = out
	}
	return n
}

// Fixpoint repeats the steps until a whole round leaves the tree unchanged
// or the round limit is hit. It returns the tree and the number of rounds
// that changed something.
func (s *Scheduler) Fixpoint(n nodes.Node, steps ...Step) (nodes.Node, int) {
	limit := s.MaxRounds
	if limit <= 0 {
		limit = DefaultMaxRounds
	}
	rounds := 0
	for rounds < limit {
		out := s.Run(n, steps...)
		if out == n {
			break
		}
		n = out
		rounds++
	}
	return n, rounds
}

// Cleanup is the column, subquery and join cleanup group run to a fixed
// point after binding and again after the join rewrites.
var Cleanup = []Step{
	{Name: "unused-columns", Run: RemoveUnusedColumns},
	{Name: "redundant-columns", Run: RemoveRedundantColumns},
	{Name: "redundant-subqueries", Run: RemoveRedundantSubqueries},
	{Name: "redundant-joins", Run: RemoveRedundantJoins},
}
