package cli

import (
	"github.com/spf13/cobra"

	"github.com/keelpm/keel/internal/db"
)

// NewAddCommand creates the add command: extend the world with new
// constraints and commit the resulting changeset.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add CONSTRAINT...",
		Short: "Add constraints to the world and install what they require",
		Long: `Adds each constraint ("pkg", "pkg>=1.2", "pkg@edge", "!pkg") to the
world, replacing any previous constraint on the same name, then solves
and commits the resulting changeset.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			world := append([]db.Dependency(nil), a.d.World...)
			for _, arg := range args {
				dep, err := a.d.ParseDependency(arg)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid constraint", err)
				}
				world = mergeWorld(world, dep)
			}
			return a.commitWorld(cmd.Context(), world, 0, opts)
		},
	}
}
