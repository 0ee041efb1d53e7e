// Package testutil provides shared test helpers for the relq packages.
package testutil

import (
	"errors"
	"testing"

	"github.com/bawdo/relq/nodes"
)

// AssertEqual checks that got == want and reports a descriptive error if not.
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("expected:\n  %v\ngot:\n  %v", want, got)
	}
}

// AssertSQL accepts a visitor and node, renders the SQL, and compares it with the expected string.
func AssertSQL(t *testing.T, v nodes.Visitor, node nodes.Node, expected string) {
	t.Helper()
	got := node.Accept(v)
	if got != expected {
		t.Errorf("expected:\n  %s\ngot:\n  %s", expected, got)
	}
}

// AssertFormat compares the canonical form of node with expected.
func AssertFormat(t *testing.T, node nodes.Node, expected string) {
	t.Helper()
	if got := nodes.Format(node); got != expected {
		t.Errorf("expected:\n  %s\ngot:\n  %s", expected, got)
	}
}

// AssertSame fails unless got is the very same node instance as want.
func AssertSame(t *testing.T, got, want nodes.Node) {
	t.Helper()
	if got != want {
		t.Errorf("expected the input node back unchanged, got:\n  %s", nodes.Format(got))
	}
}

// AssertNoError fails the test if err is non-nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error but got nil")
	}
}

// AssertErrorAs fails unless err's chain contains an error of type E, and
// returns it.
func AssertErrorAs[E error](t *testing.T, err error) E {
	t.Helper()
	var target E
	if err == nil {
		t.Fatalf("expected %T but got nil", target)
	}
	if !errors.As(err, &target) {
		t.Fatalf("expected %T, got %v", target, err)
	}
	return target
}
