package cli

import (
	"github.com/spf13/cobra"

	"github.com/keelpm/keel/internal/db"
)

// NewDelCommand creates the del command: remove constraints from the
// world and commit; packages no other constraint needs are purged.
func NewDelCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "del NAME...",
		Short: "Remove constraints from the world and purge what nothing needs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			drop := make(map[string]bool, len(args))
			for _, arg := range args {
				drop[arg] = false
			}

			var world []db.Dependency
			for _, dep := range a.d.World {
				if _, ok := drop[dep.Name.Name]; ok {
					drop[dep.Name.Name] = true
					continue
				}
				world = append(world, dep)
			}
			removed := 0
			for _, arg := range args {
				if drop[arg] {
					removed++
				} else {
					a.out.Warn("%s is not in the world", arg)
				}
			}
			if removed == 0 {
				a.out.Msg("nothing to do")
				return nil
			}
			return a.commitWorld(cmd.Context(), world, 0, opts)
		},
	}
}
