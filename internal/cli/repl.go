package cli

import (
	"github.com/spf13/cobra"

	"github.com/bawdo/relq/internal/repl"
)

// NewReplCommand creates the repl command.
func NewReplCommand(rootOpts *RootOptions) *cobra.Command {
	var history string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Build queries interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			d, err := cfg.ResolveDialect()
			if err != nil {
				return ConfigError("resolving dialect", err)
			}
			opts := repl.Options{
				Dialect:      d,
				DSN:          cfg.Database.URL,
				Parameterize: cfg.Parameterize,
				Format:       cfg.Format,
				SoftDelete:   cfg.SoftDelete,
				CacheSize:    cfg.CacheSize,
				Logger:       rootOpts.Logger,
				HistoryFile:  history,
				OPAURL:       cfg.OPA.URL,
				OPAPolicy:    cfg.OPA.Policy,
				OPAInput:     cfg.OPA.Input,
			}
			if cfg.Database.URL != "" {
				opts.Engine = cfg.Engine()
			}
			// A session without a mapping can still be given one with 'mapping'.
			if cfg.Mapping != "" {
				m, err := cfg.LoadMapping()
				if err != nil {
					return ConfigError("loading mapping", err)
				}
				opts.Model = m
			}
			return repl.Run(opts)
		},
	}

	cmd.Flags().StringVar(&history, "history", "", "history file (default ~/.relq_history)")
	return cmd
}
