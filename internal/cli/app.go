package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/keelpm/keel/internal/commit"
	"github.com/keelpm/keel/internal/config"
	"github.com/keelpm/keel/internal/db"
	"github.com/keelpm/keel/internal/diag"
	"github.com/keelpm/keel/internal/out"
	"github.com/keelpm/keel/internal/solver"
	"github.com/keelpm/keel/internal/store"
)

// app is the shared command state: configuration, open state database and
// the fully indexed in-memory package database.
type app struct {
	cfg   config.Config
	store *store.Store
	d     *db.Database
	out   *out.Output
	log   *slog.Logger
}

// openApp loads configuration and state for a command invocation.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading configuration", err)
	}
	if opts.NoNetwork {
		cfg.NoNetwork = true
	}

	o := out.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	switch {
	case opts.Quiet:
		o.Verbosity = out.Quiet
	case opts.Verbose:
		o.Verbosity = out.Verbose
	}
	o.ShowProgress = !opts.Quiet && isatty.IsTerminal(os.Stdout.Fd())

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening state database", err)
	}

	d := db.New()
	if err := s.Load(cmd.Context(), d); err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "loading state", err)
	}
	cfg.Apply(d)
	d.IndexReverseDependencies()

	return &app{cfg: cfg, store: s, d: d, out: o, log: log}, nil
}

func (a *app) Close() {
	a.store.Close()
	a.d.Close()
}

// commitWorld solves for the target world and commits the result. On
// solver failure the diagnostic report is printed and the command exits
// with ExitUnsatisfiable.
func (a *app) commitWorld(ctx context.Context, world []db.Dependency, flags solver.Flags, opts *RootOptions) error {
	cs, err := solver.Greedy{}.Solve(a.d, world, flags)
	if err != nil {
		var unsat *solver.Unsatisfiable
		if errors.As(err, &unsat) {
			diag.Report(a.out, a.d, unsat.Tentative, world)
			return NewExitError(ExitUnsatisfiable, "unable to select packages")
		}
		return WrapExitError(ExitCommandError, "solving constraints", err)
	}

	copts := commit.Options{
		Simulate:         opts.Simulate,
		Interactive:      opts.Interactive,
		NoScripts:        opts.NoScripts,
		ForceBrokenWorld: opts.Force,
		HookDir:          a.cfg.HookDir,
		Confirm:          a.confirm,
		Persist:          a.store.SaveState,
		Journal: func(ctx context.Context, txn string, changes, errs int) error {
			return a.store.RecordTransaction(ctx, txn,
				time.Now().UTC().Format(time.RFC3339), changes, errs)
		},
		Out:              a.out,
		Logger:           a.log,
	}
	errs, err := commit.Apply(ctx, a.d, cs, world, copts)
	switch {
	case errors.Is(err, commit.ErrDeclined):
		return NewExitError(ExitFailure, "aborted by user")
	case errors.Is(err, commit.ErrBrokenWorld):
		return NewExitError(ExitCommandError, "world is broken; use --force-broken-world to commit anyway")
	case errors.Is(err, commit.ErrHookVeto):
		return WrapExitError(ExitCommandError, "commit refused", err)
	case err != nil:
		return WrapExitError(ExitCommandError, "commit", err)
	}
	if errs > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d error(s) during commit", errs))
	}
	return nil
}

// confirm asks the yes/no question on a terminal. Non-terminal input
// answers yes so scripted runs are not blocked; scripts wanting a dry run
// use --simulate.
func (a *app) confirm() bool {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return true
	}
	fmt.Fprint(a.out.W, "Do you want to continue? [Y/n] ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true
	}
	return false
}

// mergeWorld returns the world with dep added, replacing any existing
// entry for the same name.
func mergeWorld(world []db.Dependency, dep db.Dependency) []db.Dependency {
	for i := range world {
		if world[i].Name == dep.Name {
			world[i] = dep
			return world
		}
	}
	return append(world, dep)
}
