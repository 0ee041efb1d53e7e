package plugins

import (
	"errors"
	"strings"
	"testing"

	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/nodes"
)

func usersSelect() (*nodes.TableAlias, *nodes.Select) {
	ua := nodes.NewTableAlias()
	s := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{
		{Name: "x", Expr: nodes.NewColumn(ua, "x", nodes.IntType), T: nodes.IntType},
	}, nodes.NewTable(ua, "users"), nil)
	return ua, s
}

// --- BaseTransformer no-op behaviour ---

func TestBaseTransformerSelect(t *testing.T) {
	t.Parallel()
	_, s := usersSelect()
	result, err := BaseTransformer{}.TransformSelect(s)
	testutil.AssertNoError(t, err)
	testutil.AssertSame(t, result, s)
}

// --- Apply ---

type renamer struct {
	BaseTransformer
	seen int
}

func (r *renamer) TransformSelect(s *nodes.Select) (*nodes.Select, error) {
	r.seen++
	return s.WithDistinct(true), nil
}

func TestApplyVisitsEverySelect(t *testing.T) {
	t.Parallel()
	_, inner := usersSelect()
	outer := nodes.NewSelect(nodes.NewTableAlias(), []nodes.ColumnDeclaration{
		{Name: "x", Expr: nodes.NewColumn(inner.Alias, "x", nodes.IntType), T: nodes.IntType},
	}, inner, nil)

	r := &renamer{}
	out, err := Apply(outer, r)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, r.seen, 2)
	testutil.AssertFormat(t, out, "(SELECT DISTINCT t0.x AS x FROM (SELECT DISTINCT t1.x AS x FROM users AS t1) AS t0) AS t2")
}

func TestApplyWithoutTransformers(t *testing.T) {
	t.Parallel()
	_, s := usersSelect()
	out, err := Apply(s)
	testutil.AssertNoError(t, err)
	testutil.AssertSame(t, out, s)

	out, err = Apply(s, BaseTransformer{})
	testutil.AssertNoError(t, err)
	testutil.AssertSame(t, out, s)
}

type failing struct{ BaseTransformer }

var errRefused = errors.New("refused")

func (failing) TransformSelect(*nodes.Select) (*nodes.Select, error) { return nil, errRefused }

func TestApplyStopsOnError(t *testing.T) {
	t.Parallel()
	_, s := usersSelect()
	_, err := Apply(s, failing{})
	if !errors.Is(err, errRefused) {
		t.Fatalf("expected the transformer error, got %v", err)
	}
}

type keyed struct {
	BaseTransformer
	k string
}

func (k keyed) CacheKey() string { return k.k }

func TestKey(t *testing.T) {
	t.Parallel()
	a := Key(keyed{k: "a"}, BaseTransformer{})
	b := Key(keyed{k: "b"}, BaseTransformer{})
	if a == b {
		t.Error("expected different keys for different settings")
	}
	if !strings.Contains(a, "BaseTransformer") {
		t.Errorf("expected the type name in %q", a)
	}
	testutil.AssertEqual(t, Key(), "")
}
