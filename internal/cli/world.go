package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewWorldCommand creates the world command: print the current world, one
// constraint per line in the form the add command accepts.
func NewWorldCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "world",
		Short: "Print the world constraints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, dep := range a.d.World {
				fmt.Fprintln(cmd.OutOrStdout(), a.d.DepString(dep))
			}
			return nil
		},
	}
}
