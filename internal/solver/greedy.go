package solver

import (
	"sort"

	"github.com/keelpm/keel/internal/db"
	"github.com/keelpm/keel/internal/version"
)

// Greedy is a small reference solver: it picks the best eligible provider
// per required name and recurses through dependencies. It performs no
// backtracking search; a choice that later turns out wrong is reported as
// unsatisfiable rather than reconsidered. It exists so the binary works
// end to end and so the diagnostic path has a realistic producer of
// partial selections.
type Greedy struct{}

type greedyState struct {
	d         *db.Database
	flags     Flags
	selected  map[*db.Name]*db.Package
	forbidden map[*db.Name]bool
	order     []*db.Package // distinct selections in pick order
	tentative []*db.Package // extra candidates recorded on failure
	failed    bool
}

// Solve implements Solver.
func (Greedy) Solve(d *db.Database, world []db.Dependency, flags Flags) (*db.Changeset, error) {
	s := &greedyState{
		d:         d,
		flags:     flags,
		selected:  make(map[*db.Name]*db.Package),
		forbidden: make(map[*db.Name]bool),
	}

	for i := range world {
		s.require(&world[i])
	}
	s.pullConditional()

	if s.failed {
		return nil, &Unsatisfiable{Tentative: s.tentativeChangeset(world)}
	}
	return s.changeset(world), nil
}

func (s *greedyState) fail(dep *db.Dependency) {
	dep.Broken = true
	s.failed = true
}

func (s *greedyState) require(dep *db.Dependency) {
	name := dep.Name
	if dep.Conflict {
		s.forbidden[name] = true
		if pkg := s.selected[name]; pkg != nil {
			s.fail(dep)
		}
		return
	}
	if pkg := s.selected[name]; pkg != nil {
		if !dep.Satisfies(pkg) {
			s.fail(dep)
		}
		return
	}
	if s.forbidden[name] {
		s.fail(dep)
		return
	}

	pkg := s.choose(name, dep)
	if pkg == nil {
		s.fail(dep)
		return
	}
	s.selectPackage(pkg, dep)
}

// choose picks the provider to satisfy dep: the highest eligible concrete
// provider wins; a single versionless provider is accepted, while several
// distinct versionless providers are ambiguous and fail (the report then
// asks the user to pick one explicitly).
func (s *greedyState) choose(name *db.Name, dep *db.Dependency) *db.Package {
	var concrete *db.Package
	var virtual []*db.Package
	for _, p := range name.SortedProviders() {
		pkg := p.Pkg
		if !s.eligible(pkg) || !dep.Satisfies(pkg) {
			continue
		}
		if p.Version.IsZero() && pkg.Name != name {
			virtual = append(virtual, pkg)
			continue
		}
		if concrete == nil || version.Compare(pkg.Version, concrete.Version) > 0 {
			concrete = pkg
		}
	}
	if concrete != nil {
		if s.flags&Upgrade == 0 {
			// Keep the installed provider when it still satisfies.
			for _, p := range name.Providers {
				if p.Pkg.Ipkg != nil && s.eligible(p.Pkg) && dep.Satisfies(p.Pkg) {
					return p.Pkg
				}
			}
		}
		return concrete
	}
	switch len(virtual) {
	case 0:
		return nil
	case 1:
		return virtual[0]
	default:
		s.tentative = append(s.tentative, virtual...)
		return nil
	}
}

func (s *greedyState) eligible(pkg *db.Package) bool {
	if pkg.Ipkg != nil {
		return true
	}
	return pkg.Available(s.d) && s.d.ArchCompatible(pkg.Arch)
}

func (s *greedyState) selectPackage(pkg *db.Package, via *db.Dependency) {
	for _, name := range pkg.ProvidedNames() {
		if other := s.selected[name]; other != nil && other != pkg {
			s.fail(via)
			s.tentative = append(s.tentative, pkg)
			return
		}
		if s.forbidden[name] {
			s.fail(via)
			s.tentative = append(s.tentative, pkg)
			return
		}
	}
	for _, name := range pkg.ProvidedNames() {
		s.selected[name] = pkg
	}
	s.order = append(s.order, pkg)
	for i := range pkg.Depends {
		s.require(&pkg.Depends[i])
	}
}

// pullConditional runs one qualification pass over the conditional reverse
// edges of everything selected: a package whose install_if conditions all
// hold against the selection is added too. One pass only; chains of
// conditionals settle over repeated solves, which matches the best-effort
// nature of this solver.
func (s *greedyState) pullConditional() {
	for _, pkg := range append([]*db.Package(nil), s.order...) {
		for _, name := range pkg.ProvidedNames() {
			for _, rname := range name.RInstallIf {
				for _, p := range rname.Providers {
					cand := p.Pkg
					if !s.eligible(cand) || len(cand.InstallIf) == 0 {
						continue
					}
					if s.selected[cand.Name] != nil {
						continue
					}
					if s.conditionsHold(cand) {
						s.selectPackage(cand, &cand.InstallIf[0])
					}
				}
			}
		}
	}
}

func (s *greedyState) conditionsHold(cand *db.Package) bool {
	for i := range cand.InstallIf {
		cond := &cand.InstallIf[i]
		present := s.selected[cond.Name] != nil
		if cond.Conflict == present {
			return false
		}
	}
	return true
}

// changeset renders the selection as per-name transitions against the
// installed set, ordered by display name, removals last.
func (s *greedyState) changeset(world []db.Dependency) *db.Changeset {
	targets := append([]*db.Package(nil), s.order...)
	sort.SliceStable(targets, func(i, j int) bool {
		return db.ComparePackageDisplay(targets[i], targets[j]) < 0
	})

	tagFor := func(name *db.Name) int {
		for i := range world {
			if world[i].Name == name && !world[i].Conflict {
				return world[i].Tag
			}
		}
		return 0
	}

	cs := &db.Changeset{}
	byName := make(map[*db.Name]*db.Package)
	for _, pkg := range s.d.InstalledPackages() {
		byName[pkg.Name] = pkg
	}
	for _, pkg := range targets {
		old := byName[pkg.Name]
		newTag := tagFor(pkg.Name)
		switch {
		case old == nil:
			cs.Changes = append(cs.Changes, db.Change{NewPkg: pkg, NewTag: newTag})
		case old != pkg:
			cs.Changes = append(cs.Changes, db.Change{
				OldPkg: old, NewPkg: pkg,
				OldTag: old.Ipkg.Tag, NewTag: newTag,
			})
		case old.Ipkg.Tag != newTag:
			cs.Changes = append(cs.Changes, db.Change{
				OldPkg: old, NewPkg: pkg,
				OldTag: old.Ipkg.Tag, NewTag: newTag,
			})
		}
	}
	for _, pkg := range s.d.InstalledPackages() {
		if selectedPkg := s.selected[pkg.Name]; selectedPkg == nil {
			cs.Changes = append(cs.Changes, db.Change{OldPkg: pkg, OldTag: pkg.Ipkg.Tag})
		}
	}
	return cs
}

// tentativeChangeset shapes the partial selection for the diagnostic
// reporter.
func (s *greedyState) tentativeChangeset(world []db.Dependency) *db.Changeset {
	cs := &db.Changeset{}
	for _, pkg := range s.order {
		cs.Changes = append(cs.Changes, db.Change{NewPkg: pkg, NewTag: tagOf(world, pkg.Name)})
	}
	for _, pkg := range s.tentative {
		cs.Changes = append(cs.Changes, db.Change{NewPkg: pkg, NewTag: tagOf(world, pkg.Name)})
	}
	return cs
}

func tagOf(world []db.Dependency, name *db.Name) int {
	for i := range world {
		if world[i].Name == name && !world[i].Conflict {
			return world[i].Tag
		}
	}
	return 0
}
