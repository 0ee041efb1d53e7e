// Package plugins defines the Transformer interface for IR middleware run
// after binding and before optimization.
package plugins

import (
	"fmt"

	"github.com/bawdo/relq/nodes"
)

// Transformer is the interface that IR transformation plugins implement.
// Plugins embed BaseTransformer and override only the methods they need.
type Transformer interface {
	// TransformSelect is called once for every select of the bound tree,
	// innermost first. Returning the argument means no change.
	TransformSelect(s *nodes.Select) (*nodes.Select, error)
}

// BaseTransformer provides no-op defaults for all Transformer methods.
type BaseTransformer struct{}

func (BaseTransformer) TransformSelect(s *nodes.Select) (*nodes.Select, error) {
	return s, nil
}

// Keyer is implemented by transformers whose output depends on their
// configuration. The key separates cached plans built with different
// settings.
type Keyer interface {
	CacheKey() string
}

// Key returns a string identifying the transformers and their settings.
func Key(ts ...Transformer) string {
	var out string
	for _, t := range ts {
		if k, ok := t.(Keyer); ok {
			out += fmt.Sprintf("%T(%s);", t, k.CacheKey())
			continue
		}
		out += fmt.Sprintf("%T;", t)
	}
	return out
}

// Apply runs the transformers over every select of n. The first error
// stops the walk.
func Apply(n nodes.Node, ts ...Transformer) (nodes.Node, error) {
	if len(ts) == 0 {
		return n, nil
	}
	a := &applier{transformers: ts}
	a.Rewriter = nodes.NewRewriter(a)
	out := a.Rewrite(n)
	if a.err != nil {
		return nil, a.err
	}
	return out, nil
}

type applier struct {
	*nodes.Rewriter
	transformers []Transformer
	err          error
}

func (a *applier) RewriteSelect(n *nodes.Select) nodes.Node {
	s, ok := a.Rewriter.RewriteSelect(n).(*nodes.Select)
	if !ok || a.err != nil {
		return n
	}
	for _, t := range a.transformers {
		out, err := t.TransformSelect(s)
		if err != nil {
			a.err = fmt.Errorf("transformer %T: %w", t, err)
			return n
		}
		if out != nil {
			s = out
		}
	}
	return s
}
