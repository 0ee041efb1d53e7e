package repl

import (
	"slices"
	"testing"

	"github.com/bawdo/relq/internal/testutil"
)

func newTestCompleter(t *testing.T, commands ...string) *replCompleter {
	t.Helper()
	sess, _ := newTestSession(t)
	run(t, sess, commands...)
	return &replCompleter{sess: sess}
}

func candidates(c *replCompleter, line string) []string {
	newLine, length := c.Do([]rune(line), len([]rune(line)))
	prefix := string([]rune(line)[len([]rune(line))-length:])
	out := make([]string, len(newLine))
	for i, suffix := range newLine {
		out[i] = prefix + string(suffix)
	}
	return out
}

func TestCompleteCommands(t *testing.T) {
	t.Parallel()
	c := newTestCompleter(t)
	got := candidates(c, "sel")
	if !slices.Equal(got, []string{"select ", "select many "}) {
		t.Errorf("expected select and select many, got %v", got)
	}
	testutil.AssertEqual(t, len(candidates(c, "")), len(c.sess.commandNames()))
}

func TestCompleteEntities(t *testing.T) {
	t.Parallel()
	c := newTestCompleter(t)
	got := candidates(c, "from U")
	if !slices.Equal(got, []string{"User "}) {
		t.Errorf("expected [User], got %v", got)
	}
	got = candidates(c, "describe ")
	if !slices.Equal(got, []string{"Dept ", "Order ", "User "}) {
		t.Errorf("expected all entities, got %v", got)
	}
}

func TestCompleteMembers(t *testing.T) {
	t.Parallel()
	c := newTestCompleter(t, "from User")

	got := candidates(c, "where Na")
	if !slices.Equal(got, []string{"Name "}) {
		t.Errorf("expected [Name], got %v", got)
	}

	got = candidates(c, "select {Id, Dept.N")
	if !slices.Equal(got, []string{"Dept.Name "}) {
		t.Errorf("expected [Dept.Name], got %v", got)
	}

	got = candidates(c, "where co")
	if !slices.Contains(got, "count(") {
		t.Errorf("expected count( among %v", got)
	}
}

func TestCompleteRangeNames(t *testing.T) {
	t.Parallel()
	c := newTestCompleter(t, "from User as u", "join Dept as d on DeptId = d.Id")
	got := candidates(c, "select d.")
	if !slices.Equal(got, []string{"d.Id ", "d.Name "}) {
		t.Errorf("expected the fields of Dept, got %v", got)
	}
	got = candidates(c, "where d")
	if !slices.Contains(got, "d.") {
		t.Errorf("expected the range name d. among %v", got)
	}
}

func TestCompleteRelations(t *testing.T) {
	t.Parallel()
	c := newTestCompleter(t, "from User")
	got := candidates(c, "include ")
	if !slices.Equal(got, []string{"Dept ", "Orders "}) {
		t.Errorf("expected relations, got %v", got)
	}
	got = candidates(c, "select many O")
	if !slices.Equal(got, []string{"Orders "}) {
		t.Errorf("expected [Orders], got %v", got)
	}
}

func TestCompleteOrderDirection(t *testing.T) {
	t.Parallel()
	c := newTestCompleter(t, "from User")
	got := candidates(c, "order Name d")
	if !slices.Equal(got, []string{"desc "}) {
		t.Errorf("expected [desc], got %v", got)
	}
	got = candidates(c, "order Name ")
	if !slices.Equal(got, []string{"asc ", "desc "}) {
		t.Errorf("expected directions, got %v", got)
	}
}

func TestCompleteSettings(t *testing.T) {
	t.Parallel()
	c := newTestCompleter(t, "plugin softdelete")
	got := candidates(c, "dialect sqlserver2")
	if !slices.Equal(got, []string{"sqlserver2000 ", "sqlserver2012 "}) {
		t.Errorf("expected sqlserver versions, got %v", got)
	}
	got = candidates(c, "plugin off ")
	if !slices.Equal(got, []string{"softdelete "}) {
		t.Errorf("expected enabled plugins, got %v", got)
	}
	got = candidates(c, "join Dept ")
	if !slices.Equal(got, []string{"as ", "on "}) {
		t.Errorf("expected join keywords, got %v", got)
	}
	if got := candidates(c, "skip "); len(got) != 0 {
		t.Errorf("expected no candidates, got %v", got)
	}
}
