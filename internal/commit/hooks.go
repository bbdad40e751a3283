package commit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Hook phases, passed as the single argument to each hook executable.
const (
	PhasePreCommit  = "pre-commit"
	PhasePostCommit = "post-commit"
)

// runHooks executes every hook in opts.HookDir in directory order, passing
// phase as the argument. Entries whose name starts with a dot are skipped.
// stopOnError makes the first failure abort the iteration (the pre-commit
// veto); otherwise failures are only reported.
func runHooks(ctx context.Context, opts *Options, phase string, stopOnError bool) error {
	if opts.HookDir == "" || opts.NoScripts || opts.Simulate {
		return nil
	}
	entries, err := os.ReadDir(opts.HookDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("commit: reading hook directory: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || e.IsDir() {
			continue
		}
		path := filepath.Join(opts.HookDir, e.Name())
		if err := opts.ExecHook(ctx, path, phase); err != nil {
			if stopOnError {
				return fmt.Errorf("hook %s: %w", e.Name(), err)
			}
			opts.Out.Warn("%s hook %s failed: %v", phase, e.Name(), err)
			opts.Logger.Warn("hook failed", "phase", phase, "hook", e.Name(), "err", err)
		}
	}
	return nil
}
