// Package commit applies a changeset to the installed set: the apply loop,
// hook and trigger execution, world persistence and the human-facing
// progress and summary output.
//
// The engine is best-effort over the whole changeset. Once the apply loop
// starts it runs to completion; failures are counted and reported, never
// used to abort or roll back. Everything that can abort does so before the
// first mutation and is returned as a typed error.
package commit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/keelpm/keel/internal/db"
	"github.com/keelpm/keel/internal/out"
)

// Apply commits the changeset against the target world.
//
// A non-nil error means the commit aborted before any mutation:
// ErrBrokenWorld, ErrDeclined or ErrHookVeto. The int return is the count
// of best-effort failures during application (failed changes, trigger and
// persistence errors, directory-update errors); callers must not treat a
// nonzero count as fatal.
func Apply(ctx context.Context, d *db.Database, cs *db.Changeset, world []db.Dependency, opts Options) (int, error) {
	opts.setDefaults()
	txn := uuid.New()
	log := opts.Logger.With("txn", txn.String())

	if bad := d.CheckWorld(world); len(bad) > 0 {
		for _, dep := range bad {
			if opts.ForceBrokenWorld {
				opts.Out.Warn("%s references an unconfigured repository tag", d.DepString(dep))
			} else {
				opts.Out.Err("%s references an unconfigured repository tag", d.DepString(dep))
			}
		}
		if !opts.ForceBrokenWorld {
			return 0, ErrBrokenWorld
		}
	}

	st := countChanges(d, cs)
	log.Info("commit start",
		"changes", st.Changes,
		"packageDelta", st.PackageDelta,
		"byteDelta", st.ByteDelta,
		"downloadSize", st.DownloadSize)

	if opts.Interactive && !opts.Simulate && st.Changes > 0 {
		DumpDiff(opts.Out, d, cs, st)
		if opts.Confirm != nil && !opts.Confirm() {
			return 0, ErrDeclined
		}
	}

	if err := runHooks(ctx, &opts, PhasePreCommit, true); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHookVeto, err)
	}

	errs := 0
	d.DirUpdateErrors = 0
	if !opts.Simulate {
		d.ClearModified()
	}

	// Apply in changeset order. The diff above is sorted for humans; the
	// application order is the solver's.
	var done uint64
	applied := 0
	for i := range cs.Changes {
		c := &cs.Changes[i]
		kind := classify(c)
		if kind == kindNone {
			c.State = db.ChangeSkipped
			continue
		}
		applied++

		units := uint64(perPackageUnits)
		if c.NewPkg != nil {
			units += c.NewPkg.Size
		}

		if kind == kindReinstall && !c.NewPkg.Available(d) {
			opts.Out.Msg("(%*d/%d) [unavailable, skipped] Reinstalling %s",
				st.Digits, applied, st.Changes, describeChange(d, c, kind))
			c.State = db.ChangeSkipped
			done += units
			opts.Out.Progress(done, st.TotalUnits)
			continue
		}

		opts.Out.Msg("(%*d/%d) %s %s",
			st.Digits, applied, st.Changes, kind.verb(), describeChange(d, c, kind))

		if opts.Simulate {
			c.State = db.ChangeApplied
			done += units
			opts.Out.Progress(done, st.TotalUnits)
			continue
		}

		log.Debug("applying change", "kind", kind.verb(), "name", c.ChangeName().Name)
		if err := applyChange(ctx, d, c, kind, opts.Installer); err != nil {
			errs++
			c.State = db.ChangeFailed
			opts.Out.Err("%s: %v", c.ChangeName().Name, err)
			log.Error("change failed", "name", c.ChangeName().Name, "err", err)
		} else {
			c.State = db.ChangeApplied
		}
		done += units
		opts.Out.Progress(done, st.TotalUnits)
	}

	errs += d.DirUpdateErrors

	if !opts.Simulate {
		errs += flushTriggers(ctx, d, &opts, log)
		d.ClearModified()

		// The retained world is always the target, even after failures.
		d.World = append(d.World[:0:0], world...)
		if opts.Persist != nil {
			if err := opts.Persist(ctx, d); err != nil {
				errs++
				opts.Out.Err("saving state: %v", err)
				log.Error("persist failed", "err", err)
			}
		}
	}

	if err := runHooks(ctx, &opts, PhasePostCommit, false); err != nil {
		opts.Out.Warn("post-commit hooks: %v", err)
	}

	if !opts.Simulate && opts.Journal != nil {
		if err := opts.Journal(ctx, txn.String(), st.Changes, errs); err != nil {
			opts.Out.Warn("recording transaction: %v", err)
		}
	}

	summarize(opts.Out, d, errs, st, opts.Simulate)
	log.Info("commit done", "errors", errs)
	return errs, nil
}

// applyChange performs one change's database bookkeeping around the
// installer calls. The installer touches the filesystem; everything else
// is here.
func applyChange(ctx context.Context, d *db.Database, c *db.Change, kind changeKind, inst Installer) error {
	switch kind {
	case kindPurge:
		if err := inst.Remove(ctx, d, c.OldPkg.Ipkg); err != nil {
			return err
		}
		d.DropInstalled(c.OldPkg, db.RemoveDir)
		return nil

	case kindRepin:
		c.OldPkg.Ipkg.Tag = c.NewTag
		return nil

	case kindReinstall:
		return inst.Install(ctx, d, c.OldPkg.Ipkg)

	default:
		// Install, upgrade, downgrade: the new package is materialized
		// first, then the old record (if any) leaves the bookkeeping. Its
		// directories are kept; shared paths now belong to the new
		// package.
		ipkg := d.NewInstalled(c.NewPkg)
		ipkg.Tag = c.NewTag
		if err := inst.Install(ctx, d, ipkg); err != nil {
			d.DropInstalled(c.NewPkg, db.KeepDir)
			return err
		}
		if c.OldPkg != nil && c.OldPkg != c.NewPkg {
			d.DropInstalled(c.OldPkg, db.KeepDir)
		}
		return nil
	}
}

// describeChange renders the status-line subject: "name (version)" with
// the repository tag attached to the name when the change pins one.
func describeChange(d *db.Database, c *db.Change, kind changeKind) string {
	name := c.ChangeName().Name
	tag := c.NewTag
	if kind == kindPurge {
		tag = c.OldTag
	}
	if tag > 0 && tag < len(d.RepoTags) {
		name += "@" + d.RepoTags[tag].Tag
	}
	switch kind {
	case kindPurge:
		return fmt.Sprintf("%s (%s)", name, c.OldPkg.Version)
	case kindUpgrade, kindDowngrade:
		return fmt.Sprintf("%s (%s -> %s)", name, c.OldPkg.Version, c.NewPkg.Version)
	default:
		return fmt.Sprintf("%s (%s)", name, c.NewPkg.Version)
	}
}

// flushTriggers matches pending trigger patterns, runs one script
// invocation per package with the accumulated directory list and clears
// the pending list whether or not the script succeeded.
func flushTriggers(ctx context.Context, d *db.Database, opts *Options, log *slog.Logger) int {
	errs := 0
	d.FireTriggers()
	for _, pkg := range d.InstalledPackages() {
		ipkg := pkg.Ipkg
		if len(ipkg.PendingTriggers) == 0 {
			continue
		}
		if !opts.NoScripts && opts.RunTrig != nil {
			if err := opts.RunTrig(ctx, ipkg, ipkg.PendingTriggers); err != nil {
				errs++
				opts.Out.Err("%s: trigger: %v", pkg.Name.Name, err)
				log.Error("trigger failed", "name", pkg.Name.Name, "err", err)
			}
		}
		ipkg.PendingTriggers = nil
	}
	return errs
}

// summarize prints the final status line. Real runs report the live
// installed statistics; simulate runs report the precomputed deltas since
// nothing actually moved.
func summarize(o *out.Output, d *db.Database, errs int, st stats, simulate bool) {
	stats := d.Installed
	if simulate {
		stats.Packages += st.PackageDelta
		stats.Bytes = uint64(int64(stats.Bytes) + st.ByteDelta)
	}
	status := "OK:"
	if errs > 0 {
		status = fmt.Sprintf("%d error(s);", errs)
	}
	if o.Verbosity >= out.Verbose {
		o.Msg("%s %d packages, %d dirs, %d files, %d MiB",
			status, stats.Packages, stats.Dirs, stats.Files, out.MiB(stats.Bytes))
	} else {
		o.Msg("%s %d MiB in %d packages", status, out.MiB(stats.Bytes), stats.Packages)
	}
}
