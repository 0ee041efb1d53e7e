package dialect

import (
	"strconv"
	"strings"
	"testing"

	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerr"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"DateDiff", "date_diff", "DATEDIFF", " datediff "} {
		testutil.AssertEqual(t, NormalizeName(in), "datediff")
	}
}

func TestExpand(t *testing.T) {
	t.Parallel()
	var calls []int
	got := Expand("(?1 - BITAND(?1, ?2) + ?2) ? x", func(i int) string {
		calls = append(calls, i)
		return "a" + strconv.Itoa(i)
	})
	testutil.AssertEqual(t, got, "(a1 - BITAND(a1, a2) + a2) ? x")
	testutil.AssertEqual(t, len(calls), 4)
	testutil.AssertEqual(t, Slots("instr(?1, ?2, ?3) - 1"), 3)
}

func render(t *testing.T, d *Dialect, name string, args ...nodes.Node) (string, error) {
	t.Helper()
	fn, ok := d.Functions.Lookup(name)
	if !ok {
		t.Fatalf("%s has no %s", d.Name, name)
	}
	call := nodes.NewFunctionCall(name, nodes.UnknownType, args...)
	if err := fn.CheckArity(name, len(args)); err != nil {
		return "", err
	}
	return fn.Render(call, func(i int) string { return "x" + strconv.Itoa(i) })
}

func TestOracleLocate(t *testing.T) {
	t.Parallel()
	d := Oracle()
	a, b, c := nodes.NewConstant("abc"), nodes.NewConstant("b"), nodes.NewConstant(1)

	got, err := render(t, d, "locate", a, b)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got, "(INSTR(x1, x2) - 1)")

	got, err = render(t, d, "Locate", a, b, c)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got, "(INSTR(x1, x2, x3 + 1) - 1)")

	_, err = render(t, d, "locate", a)
	ae := testutil.AssertErrorAs[*qerr.ArgumentCountError](t, err)
	testutil.AssertEqual(t, ae.Expected, "2 or 3")
	testutil.AssertEqual(t, ae.Got, 1)
}

func TestLocateStartsAtSameOffset(t *testing.T) {
	t.Parallel()
	a, b, c := nodes.NewConstant("abc"), nodes.NewConstant("b"), nodes.NewConstant(1)
	for _, d := range []*Dialect{MySQL(), SQLServer(), Oracle()} {
		got, err := render(t, d, "locate", a, b, c)
		testutil.AssertNoError(t, err)
		if !strings.Contains(got, "x3 + 1") {
			t.Errorf("%s: start offset not shifted: %s", d.Name, got)
		}
	}
	for _, d := range []*Dialect{Postgres(), MySQL(), SQLite(), SQLServer(), Oracle()} {
		got, err := render(t, d, "locate", a, b)
		testutil.AssertNoError(t, err)
		if !strings.HasPrefix(got, "(") || !strings.HasSuffix(got, ")") {
			t.Errorf("%s: locate is not parenthesized: %s", d.Name, got)
		}
	}
}

func TestDatePartDispatch(t *testing.T) {
	t.Parallel()
	d := SQLite()
	a, b := nodes.NewColumn(nodes.NewTableAlias(), "a", nodes.DateTimeType), nodes.NewColumn(nodes.NewTableAlias(), "b", nodes.DateTimeType)

	got, err := render(t, d, "date_diff", nodes.NewConstant("Day"), a, b)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got, "CAST(JULIANDAY(x3) - JULIANDAY(x2) AS INTEGER)")

	_, err = render(t, d, "datediff", nodes.NewConstant("year"), a, b)
	ue := testutil.AssertErrorAs[*qerr.UnsupportedOperationError](t, err)
	testutil.AssertEqual(t, ue.Operation, "datediff(year)")

	_, err = render(t, d, "datediff", a, a, b)
	testutil.AssertErrorAs[*qerr.UnsupportedOperationError](t, err)
}

func TestFuncArity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		fn       Func
		n        int
		expected string
	}{
		{Func{Name: "LOWER", Min: 1, Max: 1}, 2, "1"},
		{Func{Name: "ROUND", Min: 1, Max: 2}, 3, "1 or 2"},
		{Func{Name: "COALESCE", Min: 2, Max: -1}, 1, "at least 2"},
		{Func{Name: "F", Min: 1, Max: 4}, 0, "1 to 4"},
	}
	for _, tt := range tests {
		t.Run(tt.fn.Name, func(t *testing.T) {
			t.Parallel()
			err := tt.fn.CheckArity("f", tt.n)
			ae := testutil.AssertErrorAs[*qerr.ArgumentCountError](t, err)
			testutil.AssertEqual(t, ae.Expected, tt.expected)
		})
	}
	testutil.AssertNoError(t, Func{Name: "COALESCE", Min: 2, Max: -1}.CheckArity("coalesce", 5))
}

func TestNotSupportedFailsAtBind(t *testing.T) {
	t.Parallel()
	fn, ok := SQLite().Functions.Lookup("ceiling")
	if !ok {
		t.Fatal("expected ceiling entry")
	}
	err := fn.CheckArity("ceiling", 1)
	testutil.AssertEqual(t, qerr.CodeOf(err), qerr.CodeUnsupported)
}

func TestOperators(t *testing.T) {
	t.Parallel()
	tmpl, ok := Oracle().Operator(nodes.OpBitAnd)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, tmpl, "BITAND(?1, ?2)")

	tmpl, ok = Postgres().Operator(nodes.OpAdd)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, tmpl, "")

	_, ok = SQLite().Operator(nodes.OpPower)
	testutil.AssertEqual(t, ok, false)
}

func TestLookup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		want string
		skip SkipStrategy
	}{
		{"postgresql", "postgres", SkipNative},
		{"MSSQL", "sqlserver", SkipRowNumber},
		{"sqlserver2000", "sqlserver2000", SkipThreeTop},
		{"sqlserver2012", "sqlserver2012", SkipNative},
		{"oracle", "oracle", SkipRowNumber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := Lookup(tt.name)
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, d.Name, tt.want)
			testutil.AssertEqual(t, d.Skip, tt.skip)
		})
	}
	_, err := Lookup("db2")
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, len(Names()), 7)
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()
	d := SQLite()
	c := d.Clone()
	c.Skip = SkipThreeTop
	c.Operators[nodes.OpPower] = "POWER(?1, ?2)"
	c.Functions.Register("ceiling", Func{Name: "CEIL", Min: 1, Max: 1})

	testutil.AssertEqual(t, d.Skip, SkipNative)
	_, ok := d.Operator(nodes.OpPower)
	testutil.AssertEqual(t, ok, false)
	fn, _ := d.Functions.Lookup("ceiling")
	testutil.AssertError(t, fn.CheckArity("ceiling", 1))
}
