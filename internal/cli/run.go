package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bawdo/relq/exec"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <query.yaml|->",
		Short: "Run a query against the configured database",
		Long: `Run compiles a query document for the configured database engine,
executes every statement and prints the assembled result as a table.
The dialect is the engine's, whatever --dialect says.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			if cfg.Database.URL == "" {
				return ConfigError("no database configured", errors.New("set database.url, DATABASE_URL or --database-url"))
			}
			if err := rootOpts.checkOPA(); err != nil {
				return err
			}
			m, err := cfg.LoadMapping()
			if err != nil {
				return ConfigError("loading mapping", err)
			}
			q, err := loadQuery(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := exec.Open(ctx, cfg.Engine(), cfg.Database.URL,
				exec.WithLogger(rootOpts.Logger),
				exec.WithTranslateOptions(rootOpts.translateOptions(m)...))
			if err != nil {
				return DBConnectError(fmt.Sprintf("connecting to %s", exec.RedactDSN(cfg.Database.URL)), err)
			}
			defer func() { _ = db.Close() }()

			if missing, err := db.MissingTables(ctx, m); err == nil && len(missing) > 0 {
				rootOpts.Logger.Warn("mapped tables not found", "tables", missing)
			}

			result, err := db.Run(ctx, q, m)
			if err != nil {
				return QueryError("running query", err)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), exec.FormatResult(result))
			return err
		},
	}
	return cmd
}
