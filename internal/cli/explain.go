package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bawdo/relq/translate"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	Dot    bool
	Output string
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{}

	cmd := &cobra.Command{
		Use:   "explain <query.yaml|->",
		Short: "Show the statements or the optimized tree of a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := rootOpts.environment()
			if err != nil {
				return err
			}
			q, err := loadQuery(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			if opts.Dot {
				dot, err := translate.Graph(q, env.model, env.dialect, env.options...)
				if err != nil {
					return QueryError("explaining query", err)
				}
				if opts.Output == "" {
					_, err = fmt.Fprint(cmd.OutOrStdout(), dot)
					return err
				}
				if err := os.WriteFile(opts.Output, []byte(dot), 0o644); err != nil {
					return GeneralError("writing graph", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.Output)
				return nil
			}

			stmts, err := translate.Explain(q, env.model, env.dialect, env.options...)
			if err != nil {
				return QueryError("explaining query", err)
			}
			for i, s := range stmts {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s;\n", i+1, s)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Dot, "dot", false, "print the optimized tree as Graphviz DOT")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the DOT graph to a file")

	return cmd
}
