package commit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelpm/keel/internal/db"
	"github.com/keelpm/keel/internal/out"
	"github.com/keelpm/keel/internal/testutil"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	d := db.New()
	d.AvailableRepos = db.Bit(1)
	d.RepoTags[0].AllowedRepos = db.Bit(1)
	return d
}

func addPkg(t *testing.T, d *db.Database, name, ver string, size, installedSize uint64) *db.Package {
	t.Helper()
	pkg, err := d.AddPackage(&db.PackageTmpl{
		Digest:        digest.FromString(name + "-" + ver),
		Name:          name,
		Version:       ver,
		Size:          size,
		InstalledSize: installedSize,
		Repos:         db.Bit(1),
	})
	require.NoError(t, err)
	return pkg
}

func testOutput() (*out.Output, *bytes.Buffer) {
	var buf bytes.Buffer
	return out.New(&buf, &buf), &buf
}

func world(t *testing.T, d *db.Database, spec string) []db.Dependency {
	t.Helper()
	deps, err := d.ParseDependencies(spec)
	require.NoError(t, err)
	return deps
}

func TestApply_InstallSinglePackage(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	o, buf := testOutput()

	cs := &db.Changeset{Changes: []db.Change{{NewPkg: a}}}
	errs, err := Apply(context.Background(), d, cs, world(t, d, "A"), Options{Out: o})

	require.NoError(t, err)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 1, d.Installed.Packages)
	assert.Equal(t, uint64(1000), d.Installed.Bytes)
	assert.Equal(t, db.ChangeApplied, cs.Changes[0].State)
	assert.Contains(t, buf.String(), "(1/1) Installing A (1.0)")
	assert.Contains(t, buf.String(), "OK:")
	assert.Equal(t, "A", db.DepsString(d.World))
}

func TestApply_NoopChangeIsInvisible(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	d.NewInstalled(a)
	before := d.Installed
	o, buf := testOutput()

	cs := &db.Changeset{Changes: []db.Change{{OldPkg: a, NewPkg: a}}}
	errs, err := Apply(context.Background(), d, cs, world(t, d, "A"), Options{Out: o})

	require.NoError(t, err)
	assert.Equal(t, 0, errs)
	assert.Equal(t, before, d.Installed, "a no-op change must not move statistics")
	assert.Equal(t, db.ChangeSkipped, cs.Changes[0].State)
	assert.NotContains(t, buf.String(), "(1/", "a no-op change must not show in progress")
}

func TestApply_PurgeReleasesPackage(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	d.NewInstalled(a)
	o, buf := testOutput()

	cs := &db.Changeset{Changes: []db.Change{{OldPkg: a}}}
	errs, err := Apply(context.Background(), d, cs, nil, Options{Out: o})

	require.NoError(t, err)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 0, d.Installed.Packages)
	assert.Nil(t, a.Ipkg)
	assert.Contains(t, buf.String(), "(1/1) Purging A (1.0)")
}

func TestApply_UpgradeSwapsRecords(t *testing.T) {
	d := newTestDB(t)
	a1 := addPkg(t, d, "A", "1.0", 100, 1000)
	a2 := addPkg(t, d, "A", "2.0", 100, 3000)
	d.IndexReverseDependencies()
	d.NewInstalled(a1)
	o, buf := testOutput()

	cs := &db.Changeset{Changes: []db.Change{{OldPkg: a1, NewPkg: a2}}}
	errs, err := Apply(context.Background(), d, cs, world(t, d, "A"), Options{Out: o})

	require.NoError(t, err)
	assert.Equal(t, 0, errs)
	assert.Nil(t, a1.Ipkg)
	assert.NotNil(t, a2.Ipkg)
	assert.Equal(t, 1, d.Installed.Packages)
	assert.Equal(t, uint64(3000), d.Installed.Bytes)
	assert.Contains(t, buf.String(), "Upgrading A (1.0 -> 2.0)")
}

// A same-version change between two builds of the same name swaps the
// records in place and reports as a replace, not an upgrade.
func TestApply_ReplaceSwapsEqualVersionBuild(t *testing.T) {
	d := newTestDB(t)
	mkBuild := func(build string) *db.Package {
		pkg, err := d.AddPackage(&db.PackageTmpl{
			Digest:        digest.FromString("ssl-1.0-" + build),
			Name:          "ssl",
			Version:       "1.0",
			Size:          100,
			InstalledSize: 1000,
			Repos:         db.Bit(1),
		})
		require.NoError(t, err)
		return pkg
	}
	old := mkBuild("r1")
	repl := mkBuild("r2")
	d.IndexReverseDependencies()
	d.NewInstalled(old)
	o, buf := testOutput()

	cs := &db.Changeset{Changes: []db.Change{{OldPkg: old, NewPkg: repl}}}
	errs, err := Apply(context.Background(), d, cs, world(t, d, "ssl"), Options{Out: o})

	require.NoError(t, err)
	assert.Equal(t, 0, errs)
	assert.Nil(t, old.Ipkg)
	assert.NotNil(t, repl.Ipkg)
	assert.Equal(t, 1, d.Installed.Packages)
	assert.Contains(t, buf.String(), "(1/1) Replacing ssl (1.0)")
}

func TestApply_BrokenWorldAborts(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	o, _ := testOutput()

	// @edge has no configured repositories.
	w := world(t, d, "A@edge")
	cs := &db.Changeset{Changes: []db.Change{{NewPkg: a}}}

	_, err := Apply(context.Background(), d, cs, w, Options{Out: o})
	require.ErrorIs(t, err, ErrBrokenWorld)
	assert.Equal(t, 0, d.Installed.Packages, "abort must not mutate")

	errs, err := Apply(context.Background(), d, cs, w, Options{Out: o, ForceBrokenWorld: true})
	require.NoError(t, err)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 1, d.Installed.Packages)
}

func TestApply_DeclinedConfirmationAborts(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	o, _ := testOutput()

	cs := &db.Changeset{Changes: []db.Change{{NewPkg: a}}}
	opts := Options{
		Out:         o,
		Interactive: true,
		Confirm:     func() bool { return false },
	}
	_, err := Apply(context.Background(), d, cs, world(t, d, "A"), opts)

	require.ErrorIs(t, err, ErrDeclined)
	assert.Equal(t, 0, d.Installed.Packages)
	assert.Equal(t, db.ChangePending, cs.Changes[0].State)
}

func TestApply_PreCommitHookVetoAborts(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	o, _ := testOutput()

	hookDir := t.TempDir()
	for _, name := range []string{"10-check", ".hidden"} {
		require.NoError(t, os.WriteFile(filepath.Join(hookDir, name), []byte("#!/bin/sh\n"), 0o755))
	}

	var calls []string
	opts := Options{
		Out:     o,
		HookDir: hookDir,
		ExecHook: func(_ context.Context, path, phase string) error {
			calls = append(calls, filepath.Base(path)+":"+phase)
			if phase == PhasePreCommit {
				return errors.New("refused")
			}
			return nil
		},
	}
	cs := &db.Changeset{Changes: []db.Change{{NewPkg: a}}}
	_, err := Apply(context.Background(), d, cs, world(t, d, "A"), opts)

	require.ErrorIs(t, err, ErrHookVeto)
	assert.Equal(t, 0, d.Installed.Packages, "veto must happen before any mutation")
	assert.Equal(t, []string{"10-check:pre-commit"}, calls, "hidden entries skipped, veto stops iteration")
}

func TestApply_PostCommitHookFailureNonFatal(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	o, _ := testOutput()

	hookDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "notify"), []byte("#!/bin/sh\n"), 0o755))

	opts := Options{
		Out:     o,
		HookDir: hookDir,
		ExecHook: func(_ context.Context, _, phase string) error {
			if phase == PhasePostCommit {
				return errors.New("boom")
			}
			return nil
		},
	}
	cs := &db.Changeset{Changes: []db.Change{{NewPkg: a}}}
	errs, err := Apply(context.Background(), d, cs, world(t, d, "A"), opts)

	require.NoError(t, err)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 1, d.Installed.Packages)
}

type failingInstaller struct {
	failName string
}

func (f failingInstaller) Install(_ context.Context, _ *db.Database, ipkg *db.InstalledPackage) error {
	if ipkg.Pkg.Name.Name == f.failName {
		return fmt.Errorf("no space left")
	}
	return nil
}

func (failingInstaller) Remove(context.Context, *db.Database, *db.InstalledPackage) error {
	return nil
}

// A failing change is counted but does not stop the loop, and its
// bookkeeping is rolled back.
func TestApply_BestEffortPastFailures(t *testing.T) {
	d := newTestDB(t)
	bad := addPkg(t, d, "bad", "1.0", 100, 1000)
	good := addPkg(t, d, "good", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	o, buf := testOutput()

	cs := &db.Changeset{Changes: []db.Change{{NewPkg: bad}, {NewPkg: good}}}
	opts := Options{Out: o, Installer: failingInstaller{failName: "bad"}}
	errs, err := Apply(context.Background(), d, cs, world(t, d, "bad good"), opts)

	require.NoError(t, err)
	assert.Equal(t, 1, errs)
	assert.Equal(t, db.ChangeFailed, cs.Changes[0].State)
	assert.Equal(t, db.ChangeApplied, cs.Changes[1].State)
	assert.Nil(t, bad.Ipkg)
	assert.NotNil(t, good.Ipkg)
	assert.Equal(t, 1, d.Installed.Packages)
	assert.Contains(t, buf.String(), "1 error(s);")
	assert.Equal(t, "bad good", db.DepsString(d.World),
		"the target world is retained even after failures")
}

func TestApply_SimulateMutatesNothing(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	o, buf := testOutput()

	cs := &db.Changeset{Changes: []db.Change{{NewPkg: a}}}
	errs, err := Apply(context.Background(), d, cs, world(t, d, "A"), Options{Out: o, Simulate: true})

	require.NoError(t, err)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 0, d.Installed.Packages)
	assert.Nil(t, a.Ipkg)
	assert.Empty(t, d.World)
	assert.Contains(t, buf.String(), "(1/1) Installing A (1.0)")
	assert.Contains(t, buf.String(), "OK: 0 MiB in 1 packages",
		"simulate summary reports the precomputed deltas")
}

// A dry run never prompts, even with Interactive set; a declined Confirm
// must not abort it.
func TestApply_SimulateSkipsConfirmation(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	o, buf := testOutput()

	asked := false
	opts := Options{
		Out:         o,
		Simulate:    true,
		Interactive: true,
		Confirm:     func() bool { asked = true; return false },
	}
	cs := &db.Changeset{Changes: []db.Change{{NewPkg: a}}}
	errs, err := Apply(context.Background(), d, cs, world(t, d, "A"), opts)

	require.NoError(t, err)
	assert.Equal(t, 0, errs)
	assert.False(t, asked)
	assert.NotContains(t, buf.String(), "NEW packages")
	assert.Contains(t, buf.String(), "(1/1) Installing A (1.0)")
}

// Reordering independent changes yields identical final statistics.
func TestApply_StatisticsOrderIndependent(t *testing.T) {
	run := func(t *testing.T, reversed bool) db.InstalledStats {
		d := newTestDB(t)
		a := addPkg(t, d, "A", "1.0", 100, 1000)
		b := addPkg(t, d, "B", "1.0", 200, 2000)
		d.IndexReverseDependencies()
		o, _ := testOutput()

		changes := []db.Change{{NewPkg: a}, {NewPkg: b}}
		if reversed {
			changes[0], changes[1] = changes[1], changes[0]
		}
		_, err := Apply(context.Background(), d, &db.Changeset{Changes: changes},
			world(t, d, "A B"), Options{Out: o})
		require.NoError(t, err)
		return d.Installed
	}

	assert.Equal(t, run(t, false), run(t, true))
}

type dirMakingInstaller struct {
	paths []string
}

func (m dirMakingInstaller) Install(_ context.Context, d *db.Database, ipkg *db.InstalledPackage) error {
	for _, p := range m.paths {
		d.AddDirectoryInstance(ipkg, p, db.ACL{Mode: 0o755})
	}
	return nil
}

func (dirMakingInstaller) Remove(context.Context, *db.Database, *db.InstalledPackage) error {
	return nil
}

// Pending triggers are flushed as one invocation per package and cleared
// unconditionally, even when the script fails.
func TestApply_TriggersFlushedOncePerPackage(t *testing.T) {
	d := newTestDB(t)
	watcher := addPkg(t, d, "watcher", "1.0", 100, 1000)
	tool := addPkg(t, d, "tool", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	d.NewInstalled(watcher).TriggerPatterns = []string{"/usr/*"}
	o, _ := testOutput()

	var invocations [][]string
	opts := Options{
		Out:       o,
		Installer: dirMakingInstaller{paths: []string{"usr/bin", "usr/lib"}},
		RunTrig: func(_ context.Context, ipkg *db.InstalledPackage, dirs []string) error {
			invocations = append(invocations, append([]string{ipkg.Pkg.Name.Name}, dirs...))
			return errors.New("script failed")
		},
	}
	cs := &db.Changeset{Changes: []db.Change{{NewPkg: tool}}}
	errs, err := Apply(context.Background(), d, cs, world(t, d, "tool watcher"), opts)

	require.NoError(t, err)
	assert.Equal(t, 1, errs, "trigger script failure is counted")
	require.Len(t, invocations, 1, "one invocation per package")
	assert.Equal(t, "watcher", invocations[0][0])
	assert.ElementsMatch(t, []string{"/usr/bin", "/usr/lib"}, invocations[0][1:])
	assert.Empty(t, watcher.Ipkg.PendingTriggers, "cleared even on script failure")
}

func TestApply_RepinOnlyUpdatesTag(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	edge := d.TagIndex("edge")
	d.RepoTags[edge].AllowedRepos = db.Bit(1)
	d.IndexReverseDependencies()
	d.NewInstalled(a)
	before := d.Installed
	o, buf := testOutput()

	cs := &db.Changeset{Changes: []db.Change{{OldPkg: a, NewPkg: a, NewTag: edge}}}
	errs, err := Apply(context.Background(), d, cs, world(t, d, "A@edge"), Options{Out: o})

	require.NoError(t, err)
	assert.Equal(t, 0, errs)
	assert.Equal(t, edge, a.Ipkg.Tag)
	assert.Equal(t, before, d.Installed)
	assert.Contains(t, buf.String(), "Updating pinning A@edge (1.0)")
}

func TestApply_JournalsTransaction(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	d.IndexReverseDependencies()
	o, _ := testOutput()

	var txn string
	var gotChanges, gotErrs int
	opts := Options{
		Out: o,
		Journal: func(_ context.Context, id string, changes, errs int) error {
			txn = id
			gotChanges, gotErrs = changes, errs
			return nil
		},
	}
	cs := &db.Changeset{Changes: []db.Change{{NewPkg: a}}}
	errs, err := Apply(context.Background(), d, cs, world(t, d, "A"), opts)

	require.NoError(t, err)
	assert.Equal(t, 0, errs)
	assert.NotEmpty(t, txn)
	assert.Equal(t, 1, gotChanges)
	assert.Equal(t, 0, gotErrs)
}

func TestDumpDiff(t *testing.T) {
	d := newTestDB(t)
	bar := addPkg(t, d, "bar", "1.0", 0, 512)
	alpha := addPkg(t, d, "alpha", "1.0", 2048, 4096)
	zeta := addPkg(t, d, "zeta", "0.5", 1024, 2048)
	core1 := addPkg(t, d, "core", "1.0", 0, 8192)
	core2 := addPkg(t, d, "core", "2.0", 4096, 16384)
	d.IndexReverseDependencies()
	d.NewInstalled(bar)
	d.NewInstalled(core1)

	cs := &db.Changeset{Changes: []db.Change{
		{OldPkg: bar},
		{NewPkg: alpha},
		{OldPkg: core1, NewPkg: core2},
		{NewPkg: zeta},
	}}
	st := countChanges(d, cs)

	var buf bytes.Buffer
	o := out.New(&buf, &buf)
	DumpDiff(o, d, cs, st)

	testutil.AssertGolden(t, "diff_dump", buf.Bytes())
}

func TestCountChanges(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	b := addPkg(t, d, "B", "1.0", 200, 2000)
	old := addPkg(t, d, "C", "1.0", 0, 500)
	d.IndexReverseDependencies()
	d.NewInstalled(old)

	cs := &db.Changeset{Changes: []db.Change{
		{NewPkg: a},
		{NewPkg: b},
		{OldPkg: old},
		{OldPkg: old, NewPkg: old}, // no-op, must not count
	}}
	st := countChanges(d, cs)

	assert.Equal(t, 3, st.Changes)
	assert.Equal(t, 1, st.Digits)
	assert.Equal(t, 1, st.PackageDelta)
	assert.Equal(t, int64(1000+2000-500), st.ByteDelta)
	assert.Equal(t, uint64(300), st.DownloadSize)
}

// Changes that keep the installed package object fetch nothing.
func TestCountChanges_KeptPackagesNotDownloaded(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", 100, 1000)
	b := addPkg(t, d, "B", "1.0", 200, 2000)
	edge := d.TagIndex("edge")
	d.IndexReverseDependencies()
	d.NewInstalled(a)
	d.NewInstalled(b)

	cs := &db.Changeset{Changes: []db.Change{
		{OldPkg: a, NewPkg: a, NewTag: edge},
		{OldPkg: b, NewPkg: b, Reinstall: true},
	}}
	st := countChanges(d, cs)

	assert.Equal(t, 2, st.Changes)
	assert.Equal(t, uint64(0), st.DownloadSize)
	assert.Equal(t, int64(0), st.ByteDelta)
}
