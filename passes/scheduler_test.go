package passes

import (
	"testing"

	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/nodes"
)

func TestSchedulerRunInOrder(t *testing.T) {
	t.Parallel()
	var order []string
	step := func(name string) Step {
		return Step{Name: name, Run: func(n nodes.Node) nodes.Node {
			order = append(order, name)
			return n
		}}
	}
	s := &Scheduler{}
	in := lit(1)
	testutil.AssertSame(t, s.Run(in, step("a"), step("b"), step("c")), in)
	testutil.AssertEqual(t, len(order), 3)
	testutil.AssertEqual(t, order[0]+order[1]+order[2], "abc")
}

func TestSchedulerOnChange(t *testing.T) {
	t.Parallel()
	var changed []string
	s := &Scheduler{OnChange: func(step string, before, after nodes.Node) {
		changed = append(changed, step)
	}}
	replace := Step{Name: "replace", Run: func(nodes.Node) nodes.Node { return lit(2) }}
	keep := Step{Name: "keep", Run: func(n nodes.Node) nodes.Node { return n }}
	out := s.Run(lit(1), keep, replace, keep)
	testutil.AssertFormat(t, out, "2")
	testutil.AssertEqual(t, len(changed), 1)
	testutil.AssertEqual(t, changed[0], "replace")
}

func TestSchedulerFixpointStops(t *testing.T) {
	t.Parallel()
	calls := 0
	once := Step{Name: "once", Run: func(n nodes.Node) nodes.Node {
		calls++
		if calls == 1 {
			return lit(7)
		}
		return n
	}}
	out, rounds := (&Scheduler{}).Fixpoint(lit(1), once)
	testutil.AssertFormat(t, out, "7")
	testutil.AssertEqual(t, rounds, 1)
	testutil.AssertEqual(t, calls, 2)
}

func TestSchedulerFixpointBounded(t *testing.T) {
	t.Parallel()
	always := Step{Name: "always", Run: func(nodes.Node) nodes.Node { return lit(1) }}

	_, rounds := (&Scheduler{MaxRounds: 3}).Fixpoint(lit(0), always)
	testutil.AssertEqual(t, rounds, 3)

	_, rounds = (&Scheduler{}).Fixpoint(lit(0), always)
	testutil.AssertEqual(t, rounds, DefaultMaxRounds)
}

func TestCleanupReachesFixpoint(t *testing.T) {
	t.Parallel()
	ua, users := table("users")
	inner := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{
		decl("x", col(ua, "x")),
		decl("y", col(ua, "y")),
		decl("z", col(ua, "x")),
	}, users, nil)
	mid := passThrough(inner, "x", "y", "z")
	outer := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{decl("v", col(mid.Alias, "z"))}, mid, nodes.Gt(col(mid.Alias, "y"), lit(1)))
	p := nodes.NewProjection(outer, col(outer.Alias, "v"), nodes.ProjectMany)

	s := &Scheduler{}
	out, rounds := s.Fixpoint(p, Cleanup...)
	if rounds == 0 {
		t.Fatal("expected the cleanup group to change the tree")
	}
	testutil.AssertFormat(t, out, "PROJECT[many]((SELECT t0.x AS v FROM users AS t0 WHERE (t0.y > 1)) AS t1 => t1.v)")

	again, rounds := s.Fixpoint(out, Cleanup...)
	testutil.AssertEqual(t, rounds, 0)
	testutil.AssertSame(t, again, out)
}
