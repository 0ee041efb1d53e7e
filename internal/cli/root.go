// Package cli implements the relq command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/internal/config"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/plan"
	"github.com/bawdo/relq/plugins"
	"github.com/bawdo/relq/plugins/opa"
	"github.com/bawdo/relq/plugins/softdelete"
	"github.com/bawdo/relq/query"
	"github.com/bawdo/relq/translate"
)

// RootOptions holds state shared by all commands. Config and Logger are
// set before any subcommand runs.
type RootOptions struct {
	ConfigFile string
	Config     *config.Config
	Logger     *slog.Logger
}

// NewRootCommand creates the root command for the relq CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "relq",
		Short: "Translate relational queries to SQL",
		Long: `relq translates queries over a mapped object model into SQL for
postgres, mysql, sqlite, sqlserver and oracle, and can run them.

Configuration is read from relq.yaml (searched upward from the working
directory), RELQ_* environment variables and flags, in increasing order
of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(opts.ConfigFile, cmd.Flags())
			if err != nil {
				return ConfigError("loading config", err)
			}
			logger, err := cfg.Logger(cmd.ErrOrStderr())
			if err != nil {
				return ConfigError("invalid log level", err)
			}
			opts.Config = cfg
			opts.Logger = logger
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.ConfigFile, "config", "", "path to relq.yaml")
	f.String("dialect", "postgres", "SQL dialect ("+strings.Join(dialect.Names(), ", ")+")")
	f.String("mapping", "", "path to the mapping document")
	f.String("engine", "", "database engine (mysql, postgres, sqlite)")
	f.String("database-url", "", "database connection string")
	f.Bool("parameterize", false, "render constants as bind parameters")
	f.Bool("format", false, "pretty-print generated SQL")
	f.Bool("soft-delete", false, "filter soft-deleted rows per the mapping")
	f.Int("cache-size", 256, "plan cache capacity")
	f.String("log-level", "warn", "log level (debug, info, warn, error)")
	f.String("opa-url", "", "OPA server enforcing row policies")
	f.String("opa-policy", "", "OPA rule to evaluate, such as data.authz.allow")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewReplCommand(opts))
	cmd.AddCommand(NewDialectsCommand(opts))

	return cmd
}

// environment resolves what every translating command needs.
type environment struct {
	model   *mapping.Model
	dialect *dialect.Dialect
	options []translate.Option
}

func (o *RootOptions) environment() (*environment, error) {
	if err := o.checkOPA(); err != nil {
		return nil, err
	}
	d, err := o.Config.ResolveDialect()
	if err != nil {
		return nil, ConfigError("resolving dialect", err)
	}
	m, err := o.Config.LoadMapping()
	if err != nil {
		return nil, ConfigError("loading mapping", err)
	}
	return &environment{model: m, dialect: d, options: o.translateOptions(m)}, nil
}

func (o *RootOptions) checkOPA() error {
	if o.Config.OPA.URL != "" && o.Config.OPA.Policy == "" {
		return ConfigError("opa", errors.New("opa.url is set but opa.policy is not"))
	}
	return nil
}

func (o *RootOptions) translateOptions(m *mapping.Model) []translate.Option {
	cfg := o.Config
	opts := []translate.Option{
		translate.WithLogger(o.Logger),
		translate.WithParameterize(cfg.Parameterize),
	}
	if cfg.CacheSize > 0 {
		opts = append(opts, translate.WithCache(plan.NewCache(cfg.CacheSize)))
	}
	if cfg.Format {
		opts = append(opts, translate.WithFormatting())
	}
	var ts []plugins.Transformer
	if cfg.SoftDelete {
		ts = append(ts, softdelete.New(softdelete.WithModel(m)))
	}
	if cfg.OPA.URL != "" {
		ts = append(ts, opa.NewFromServer(cfg.OPA.URL, cfg.OPA.Policy, cfg.OPA.Input, opa.WithModel(m)))
	}
	if len(ts) > 0 {
		opts = append(opts, translate.WithTransformers(ts...))
	}
	return opts
}

// loadQuery reads a query document from path, or from in when path is "-".
func loadQuery(path string, in io.Reader) (query.Query, error) {
	var (
		q   query.Query
		err error
	)
	if path == "-" {
		q, err = query.Load(in)
	} else {
		q, err = query.LoadFile(path)
	}
	if err != nil {
		return query.Query{}, QueryError("loading query", err)
	}
	return q, nil
}

func printPlan(w io.Writer, p *plan.Plan) {
	fmt.Fprintf(w, "%s;\n", p.SQL)
	for _, prm := range p.Params {
		fmt.Fprintf(w, "-- %s = %v\n", prm.Name, prm.Value)
	}
	for _, c := range p.Children {
		fmt.Fprintln(w)
		printPlan(w, c.Plan)
	}
}
