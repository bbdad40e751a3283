package solver

import (
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelpm/keel/internal/db"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	d := db.New()
	d.AvailableRepos = db.Bit(1)
	d.RepoTags[0].AllowedRepos = db.Bit(1)
	return d
}

func addPkg(t *testing.T, d *db.Database, name, ver, depends, provides string) *db.Package {
	t.Helper()
	deps, err := d.ParseDependencies(depends)
	require.NoError(t, err)
	provs, err := d.ParseDependencies(provides)
	require.NoError(t, err)
	pkg, err := d.AddPackage(&db.PackageTmpl{
		Digest:   digest.FromString(name + "-" + ver),
		Name:     name,
		Version:  ver,
		Depends:  deps,
		Provides: provs,
		Repos:    db.Bit(1),
	})
	require.NoError(t, err)
	return pkg
}

func solve(t *testing.T, d *db.Database, worldSpec string, flags Flags) (*db.Changeset, error) {
	t.Helper()
	world, err := d.ParseDependencies(worldSpec)
	require.NoError(t, err)
	return Greedy{}.Solve(d, world, flags)
}

func changeNames(cs *db.Changeset) []string {
	var out []string
	for i := range cs.Changes {
		c := &cs.Changes[i]
		s := ""
		if c.OldPkg != nil {
			s = c.OldPkg.DisplayName()
		}
		s += "->"
		if c.NewPkg != nil {
			s += c.NewPkg.DisplayName()
		}
		out = append(out, s)
	}
	return out
}

func TestSolve_InstallSinglePackage(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", "", "")
	d.IndexReverseDependencies()

	cs, err := solve(t, d, "A", 0)
	require.NoError(t, err)

	require.Len(t, cs.Changes, 1)
	assert.Nil(t, cs.Changes[0].OldPkg)
	assert.Same(t, a, cs.Changes[0].NewPkg)
}

func TestSolve_PicksHighestVersion(t *testing.T) {
	d := newTestDB(t)
	addPkg(t, d, "A", "1.0", "", "")
	a2 := addPkg(t, d, "A", "2.0", "", "")
	d.IndexReverseDependencies()

	cs, err := solve(t, d, "A", 0)
	require.NoError(t, err)

	require.Len(t, cs.Changes, 1)
	assert.Same(t, a2, cs.Changes[0].NewPkg)
}

func TestSolve_RecursesDependencies(t *testing.T) {
	d := newTestDB(t)
	addPkg(t, d, "app", "1.0", "libfoo>=2", "")
	addPkg(t, d, "libfoo", "2.1", "", "")
	d.IndexReverseDependencies()

	cs, err := solve(t, d, "app", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"->app-1.0", "->libfoo-2.1"}, changeNames(cs))
}

func TestSolve_KeepsInstalledWithoutUpgrade(t *testing.T) {
	d := newTestDB(t)
	a1 := addPkg(t, d, "A", "1.0", "", "")
	addPkg(t, d, "A", "2.0", "", "")
	d.IndexReverseDependencies()
	d.NewInstalled(a1)

	cs, err := solve(t, d, "A", 0)
	require.NoError(t, err)
	assert.Empty(t, cs.Changes, "satisfied installed package stays put")
}

func TestSolve_UpgradeFlagMovesToNewest(t *testing.T) {
	d := newTestDB(t)
	a1 := addPkg(t, d, "A", "1.0", "", "")
	a2 := addPkg(t, d, "A", "2.0", "", "")
	d.IndexReverseDependencies()
	d.NewInstalled(a1)

	cs, err := solve(t, d, "A", Upgrade)
	require.NoError(t, err)

	require.Len(t, cs.Changes, 1)
	assert.Same(t, a1, cs.Changes[0].OldPkg)
	assert.Same(t, a2, cs.Changes[0].NewPkg)
}

func TestSolve_RemovesUnlistedInstalled(t *testing.T) {
	d := newTestDB(t)
	a := addPkg(t, d, "A", "1.0", "", "")
	b := addPkg(t, d, "B", "1.0", "", "")
	d.IndexReverseDependencies()
	d.NewInstalled(a)
	d.NewInstalled(b)

	cs, err := solve(t, d, "A", 0)
	require.NoError(t, err)

	require.Len(t, cs.Changes, 1)
	assert.Same(t, b, cs.Changes[0].OldPkg)
	assert.Nil(t, cs.Changes[0].NewPkg)
}

func TestSolve_SingleVirtualProviderAccepted(t *testing.T) {
	d := newTestDB(t)
	impl := addPkg(t, d, "impl", "3.0", "", "virt")
	d.IndexReverseDependencies()

	cs, err := solve(t, d, "virt", 0)
	require.NoError(t, err)

	require.Len(t, cs.Changes, 1)
	assert.Same(t, impl, cs.Changes[0].NewPkg)
}

// Two versionless providers of the same name are ambiguous; the solver
// refuses to pick and hands both to the reporter via the tentative set.
func TestSolve_AmbiguousVirtualProvidersFail(t *testing.T) {
	d := newTestDB(t)
	p1 := addPkg(t, d, "pkg1", "1", "", "V")
	p2 := addPkg(t, d, "pkg2", "2", "", "V")
	d.IndexReverseDependencies()

	world, err := d.ParseDependencies("V")
	require.NoError(t, err)
	_, serr := Greedy{}.Solve(d, world, 0)

	var unsat *Unsatisfiable
	require.ErrorAs(t, serr, &unsat)
	assert.True(t, world[0].Broken)

	var tentative []*db.Package
	for i := range unsat.Tentative.Changes {
		tentative = append(tentative, unsat.Tentative.Changes[i].NewPkg)
	}
	assert.ElementsMatch(t, []*db.Package{p1, p2}, tentative)
}

func TestSolve_MissingDependencyFails(t *testing.T) {
	d := newTestDB(t)
	app := addPkg(t, d, "app", "1.0", "libz>=2", "")
	d.IndexReverseDependencies()

	world, err := d.ParseDependencies("app")
	require.NoError(t, err)
	_, serr := Greedy{}.Solve(d, world, 0)

	var unsat *Unsatisfiable
	require.ErrorAs(t, serr, &unsat)
	assert.True(t, app.Depends[0].Broken)
	require.Len(t, unsat.Tentative.Changes, 1)
	assert.Same(t, app, unsat.Tentative.Changes[0].NewPkg)
}

func TestSolve_ConflictBlocksSelection(t *testing.T) {
	d := newTestDB(t)
	addPkg(t, d, "A", "1.0", "", "")
	d.IndexReverseDependencies()

	_, err := solve(t, d, "!A A", 0)
	var unsat *Unsatisfiable
	require.ErrorAs(t, err, &unsat)
}

func TestSolve_InstallIfPulledWhenConditionsHold(t *testing.T) {
	d := newTestDB(t)
	addPkg(t, d, "base", "1.0", "", "")
	extras, err := d.AddPackage(&db.PackageTmpl{
		Digest:    digest.FromString("extras-1.0"),
		Name:      "extras",
		Version:   "1.0",
		InstallIf: mustDeps(t, d, "base"),
		Repos:     db.Bit(1),
	})
	require.NoError(t, err)
	d.IndexReverseDependencies()

	cs, cerr := solve(t, d, "base", 0)
	require.NoError(t, cerr)

	var names []string
	for i := range cs.Changes {
		names = append(names, cs.Changes[i].NewPkg.Name.Name)
	}
	assert.Contains(t, names, "extras")
	_ = extras
}

func TestSolve_InstallIfNotPulledWhenConditionMissing(t *testing.T) {
	d := newTestDB(t)
	addPkg(t, d, "base", "1.0", "", "")
	addPkg(t, d, "other", "1.0", "", "")
	_, err := d.AddPackage(&db.PackageTmpl{
		Digest:    digest.FromString("extras-1.0"),
		Name:      "extras",
		Version:   "1.0",
		InstallIf: mustDeps(t, d, "base other"),
		Repos:     db.Bit(1),
	})
	require.NoError(t, err)
	d.IndexReverseDependencies()

	cs, cerr := solve(t, d, "base", 0)
	require.NoError(t, cerr)

	for i := range cs.Changes {
		assert.NotEqual(t, "extras", cs.Changes[i].NewPkg.Name.Name,
			"all install_if conditions must hold")
	}
}

func mustDeps(t *testing.T, d *db.Database, s string) []db.Dependency {
	t.Helper()
	deps, err := d.ParseDependencies(s)
	require.NoError(t, err)
	return deps
}
