package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bawdo/relq/dialect"
)

// NewDialectsCommand creates the dialects command.
func NewDialectsCommand(_ *RootOptions) *cobra.Command {
	var functions bool

	cmd := &cobra.Command{
		Use:   "dialects",
		Short: "List the built-in SQL dialects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, name := range dialect.Names() {
				d, err := dialect.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%-14s skip: %s\n", d.Name, d.Skip)
				if functions && d.Functions != nil {
					fmt.Fprintf(w, "    %s\n", strings.Join(d.Functions.Names(), " "))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&functions, "functions", false, "list the functions each dialect translates")
	return cmd
}
