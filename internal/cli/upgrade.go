package cli

import (
	"github.com/spf13/cobra"

	"github.com/keelpm/keel/internal/solver"
)

// NewUpgradeCommand creates the upgrade command: re-solve the current
// world preferring the best available versions.
func NewUpgradeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade installed packages to the best available versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.commitWorld(cmd.Context(), a.d.World, solver.Upgrade, opts)
		},
	}
}
