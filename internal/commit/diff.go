package commit

import (
	"sort"

	"github.com/keelpm/keel/internal/db"
	"github.com/keelpm/keel/internal/out"
)

// diffGroup binds a dump heading to the change kinds it collects.
type diffGroup struct {
	heading string
	kinds   []changeKind
}

var diffGroups = []diffGroup{
	{"The following packages will be REMOVED:", []changeKind{kindPurge}},
	{"The following packages will be DOWNGRADED:", []changeKind{kindDowngrade}},
	{"The following NEW packages will be installed:", []changeKind{kindInstall}},
	{"The following packages will be upgraded:", []changeKind{kindUpgrade}},
	{"The following packages will be reinstalled:", []changeKind{kindReinstall, kindReplace}},
}

// DumpDiff renders the human change diff: one group per action with the
// affected packages sorted by display name, followed by the download and
// disk-space impact lines. Application order is not affected; only this
// printout is grouped and sorted.
func DumpDiff(o *out.Output, d *db.Database, cs *db.Changeset, st stats) {
	in := out.NewIndent(o.W)
	in.Width = 72

	for _, g := range diffGroups {
		var pkgs []*db.Package
		for i := range cs.Changes {
			c := &cs.Changes[i]
			kind := classify(c)
			for _, want := range g.kinds {
				if kind != want {
					continue
				}
				if kind == kindPurge {
					pkgs = append(pkgs, c.OldPkg)
				} else {
					pkgs = append(pkgs, c.NewPkg)
				}
			}
		}
		if len(pkgs) == 0 {
			continue
		}
		sort.SliceStable(pkgs, func(i, j int) bool {
			return db.ComparePackageDisplay(pkgs[i], pkgs[j]) < 0
		})
		in.Line("%s", g.heading)
		in.Group(2, " ")
		for _, pkg := range pkgs {
			in.Item(pkg.Name.Name)
		}
		in.End()
	}

	if st.DownloadSize > 0 {
		n, unit := out.HumanSize(st.DownloadSize)
		in.Line("Need to download %d %s of packages.", n, unit)
	}
	switch {
	case st.ByteDelta > 0:
		n, unit := out.HumanSize(uint64(st.ByteDelta))
		in.Line("After this operation, %d %s of additional disk space will be used.", n, unit)
	case st.ByteDelta < 0:
		n, unit := out.HumanSize(uint64(-st.ByteDelta))
		in.Line("After this operation, %d %s of disk space will be freed.", n, unit)
	}
}
