package commit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/keelpm/keel/internal/db"
	"github.com/keelpm/keel/internal/out"
)

// Installer is the external primitive that materializes or removes one
// package's directories and files. The engine owns all database
// bookkeeping around these calls; an Installer touches the filesystem
// only.
type Installer interface {
	Install(ctx context.Context, d *db.Database, ipkg *db.InstalledPackage) error
	Remove(ctx context.Context, d *db.Database, ipkg *db.InstalledPackage) error
}

// NopInstaller performs no filesystem work. Database bookkeeping still
// happens, which is what index-only operation and tests need.
type NopInstaller struct{}

func (NopInstaller) Install(context.Context, *db.Database, *db.InstalledPackage) error { return nil }
func (NopInstaller) Remove(context.Context, *db.Database, *db.InstalledPackage) error  { return nil }

// HookFunc executes one commit hook as (path, phase).
type HookFunc func(ctx context.Context, path, phase string) error

// TriggerFunc runs one package's trigger script with the accumulated
// directory list as arguments.
type TriggerFunc func(ctx context.Context, ipkg *db.InstalledPackage, dirs []string) error

// PersistFunc writes the world and installed state after the apply loop.
// It runs even when changes failed: the retained world is always the
// target, never the partially-applied one.
type PersistFunc func(ctx context.Context, d *db.Database) error

// Options configures one commit run.
type Options struct {
	// Simulate skips every filesystem mutation and every script. The
	// summary then reports the precomputed deltas.
	Simulate bool

	// Interactive renders the change diff and asks Confirm before
	// mutating anything.
	Interactive bool

	// NoScripts suppresses hooks and trigger scripts.
	NoScripts bool

	// ForceBrokenWorld commits even when the world references an
	// unconfigured repository tag.
	ForceBrokenWorld bool

	// HookDir holds the pre-commit/post-commit hook executables. Empty
	// disables hooks.
	HookDir string

	// Confirm is the injected yes/no capability used in interactive
	// mode. Nil means yes.
	Confirm func() bool

	Installer Installer
	ExecHook  HookFunc
	RunTrig   TriggerFunc
	Persist   PersistFunc

	// Journal records the transaction outcome (id, change count, error
	// count). Journaling failures are reported, not counted.
	Journal func(ctx context.Context, txn string, changes, errs int) error

	Out    *out.Output
	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Installer == nil {
		o.Installer = NopInstaller{}
	}
	if o.ExecHook == nil {
		o.ExecHook = execHook
	}
	if o.Out == nil {
		o.Out = out.New(os.Stdout, os.Stderr)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

func execHook(ctx context.Context, path, phase string) error {
	cmd := exec.CommandContext(ctx, path, phase)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
