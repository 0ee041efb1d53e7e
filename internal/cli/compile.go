package cli

import (
	"github.com/spf13/cobra"

	"github.com/bawdo/relq/translate"
)

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <query.yaml|->",
		Short: "Print the SQL a query document translates to",
		Long: `Compile a YAML query document against the mapping and print the
statements it runs. Bind parameters follow each statement as comments.
Client-joined statements are printed after the main statement.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := rootOpts.environment()
			if err != nil {
				return err
			}
			q, err := loadQuery(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			p, err := translate.Compile(q, env.model, env.dialect, env.options...)
			if err != nil {
				return QueryError("compiling query", err)
			}
			printPlan(cmd.OutOrStdout(), p)
			return nil
		},
	}
	return cmd
}
