// Package translate drives a query through binding, the rewrite passes
// and SQL generation, and caches the resulting plans.
package translate

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/bawdo/relq/binder"
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/passes"
	"github.com/bawdo/relq/plan"
	"github.com/bawdo/relq/plugins"
	"github.com/bawdo/relq/qerr"
	"github.com/bawdo/relq/query"
	"github.com/bawdo/relq/visitors"
)

// Option configures a translation.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	cache        *plan.Cache
	transformers []plugins.Transformer
	parameterize bool
	formatting   bool
	maxRounds    int
}

// WithLogger logs pass changes at Debug and cache activity at Debug and
// Info. The default logger discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCache stores compiled plans in c, keyed by query shape, dialect and
// options.
func WithCache(c *plan.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithTransformers runs plugin transformers over the bound tree.
func WithTransformers(ts ...plugins.Transformer) Option {
	return func(o *options) { o.transformers = append(o.transformers, ts...) }
}

// WithParameterize turns literal constants in filters and projections
// into parameters.
func WithParameterize(on bool) Option {
	return func(o *options) { o.parameterize = on }
}

// WithFormatting renders multi-line SQL.
func WithFormatting() Option {
	return func(o *options) { o.formatting = true }
}

// WithMaxRounds bounds each fixed-point pass group.
func WithMaxRounds(n int) Option {
	return func(o *options) { o.maxRounds = n }
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

func (o *options) key() string {
	return fmt.Sprintf("param=%t;fmt=%t;rounds=%d;%s", o.parameterize, o.formatting, o.maxRounds, plugins.Key(o.transformers...))
}

func (o *options) builder(d *dialect.Dialect) visitors.Builder {
	var vopts []visitors.Option
	if o.formatting {
		vopts = append(vopts, visitors.WithFormatting())
	}
	return visitors.New(d, vopts...)
}

// Compile translates q for dialect d. With a cache, a plan compiled for a
// query of the same shape is reused and re-bound to q's parameter values.
func Compile(q query.Query, m *mapping.Model, d *dialect.Dialect, opts ...Option) (*plan.Plan, error) {
	o := newOptions(opts)
	build := func() (*plan.Plan, error) {
		root, err := optimize(q, m, d, o)
		if err != nil {
			return nil, err
		}
		p, err := plan.Build(root, o.builder(d))
		if err != nil {
			return nil, err
		}
		o.logger.Info("plan compiled", "plan", p.ID, "dialect", d.Name, "statements", len(p.Statements()))
		return p, nil
	}
	if o.cache == nil {
		return build()
	}

	key := q.Shape() + "\x00" + d.Name + "\x00" + o.key()
	p, hit, err := o.cache.Get(key, build)
	if err != nil {
		return nil, err
	}
	if hit {
		o.logger.Debug("plan cache hit", "plan", p.ID, "dialect", d.Name)
	} else {
		o.logger.Debug("plan cache miss", "plan", p.ID, "dialect", d.Name)
	}
	return p.Bind(q.Parameters()), nil
}

// Optimize binds q and runs every rewrite pass, returning the projection
// the plan would be built from.
func Optimize(q query.Query, m *mapping.Model, d *dialect.Dialect, opts ...Option) (*nodes.Projection, error) {
	return optimize(q, m, d, newOptions(opts))
}

// Explain returns the SQL of every statement the query executes: the
// main statement first, then client-joined statements depth first.
func Explain(q query.Query, m *mapping.Model, d *dialect.Dialect, opts ...Option) ([]string, error) {
	p, err := Compile(q, m, d, opts...)
	if err != nil {
		return nil, err
	}
	return p.Statements(), nil
}

// Graph renders the optimized tree in Graphviz DOT format.
func Graph(q query.Query, m *mapping.Model, d *dialect.Dialect, opts ...Option) (string, error) {
	root, err := Optimize(q, m, d, opts...)
	if err != nil {
		return "", err
	}
	dv := visitors.NewDotVisitor()
	root.Accept(dv)
	return dv.ToDot(), nil
}

func optimize(q query.Query, m *mapping.Model, d *dialect.Dialect, o *options) (*nodes.Projection, error) {
	log := o.logger.With("dialect", d.Name)
	sched := &passes.Scheduler{MaxRounds: o.maxRounds}
	if log.Enabled(context.Background(), slog.LevelDebug) {
		sched.OnChange = func(step string, _, after nodes.Node) {
			log.Debug("pass changed tree", "pass", step, "ir", nodes.Format(after))
		}
	}

	q = q.Map(func(n nodes.Node) nodes.Node { return binder.Evaluate(n, nil) })
	root, err := binder.Bind(q, m)
	if err != nil {
		return nil, err
	}
	n, err := plugins.Apply(root, o.transformers...)
	if err != nil {
		return nil, err
	}
	if n, err = binder.BindRelationships(n, m); err != nil {
		return nil, err
	}
	includes, err := binder.Includes(q, m)
	if err != nil {
		return nil, err
	}
	if n, err = binder.Include(n, m, includes); err != nil {
		return nil, err
	}
	if n, err = binder.BindFunctions(n, d.Functions); err != nil {
		return nil, err
	}

	n = sched.Run(n,
		passes.Step{Name: "aggregates", Run: passes.RewriteAggregates},
		passes.Step{Name: "comparisons", Run: passes.RewriteComparisons},
	)
	if o.parameterize {
		n = sched.Run(n, passes.Step{Name: "parameterize", Run: passes.Parameterize})
	}
	n = sched.Run(n, passes.Step{Name: "order-by", Run: passes.RewriteOrderBy})
	n, rounds := sched.Fixpoint(n, passes.Cleanup...)
	log.Debug("cleanup reached a fixed point", "rounds", rounds)

	n = sched.Run(n,
		passes.Step{Name: "singleton-projections", Run: passes.RewriteSingletonProjections},
		passes.Step{Name: "client-joins", Run: passes.RewriteClientJoins},
	)
	joined := sched.Run(n,
		passes.Step{Name: "cross-applies", Run: passes.RewriteCrossApplies},
		passes.Step{Name: "cross-joins", Run: passes.RewriteCrossJoins},
	)
	if joined != n {
		n, _ = sched.Fixpoint(joined, passes.Cleanup...)
	}
	if d.Skip == dialect.SkipThreeTop {
		n = sched.Run(n, passes.Step{Name: "isolate-cross-joins", Run: passes.IsolateCrossJoins})
	}

	if err := passes.CheckPaging(n); err != nil {
		return nil, err
	}
	switch d.Skip {
	case dialect.SkipRowNumber:
		n = sched.Run(n, passes.Step{Name: "skip-to-row-number", Run: passes.RewriteSkipToRowNumber})
	case dialect.SkipThreeTop:
		n = sched.Run(n, passes.Step{Name: "three-top-pager", Run: passes.RewriteThreeTopPager})
	}
	n = sched.Run(n,
		passes.Step{Name: "order-by", Run: passes.RewriteOrderBy},
		passes.Step{Name: "unused-columns", Run: passes.RemoveUnusedColumns},
		passes.Step{Name: "redundant-columns", Run: passes.RemoveRedundantColumns},
	)

	p, ok := n.(*nodes.Projection)
	if !ok {
		return nil, qerr.Malformedf("query does not produce a projection")
	}
	return p, nil
}
