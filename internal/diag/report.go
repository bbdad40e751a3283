package diag

import (
	"fmt"
	"sort"

	"github.com/keelpm/keel/internal/db"
	"github.com/keelpm/keel/internal/version"
)

func (r *reporter) labelStart(text string) {
	if r.label != "" {
		r.in.Line("  %s:", r.label)
		r.label = ""
		r.numLabels++
	}
	if !r.in.Open() {
		r.in.Group(4, "    %s", text)
	}
}

func (r *reporter) labelEnd() {
	r.in.End()
}

// analyzeDeps reports every required-but-unmarked name exactly once.
func (r *reporter) analyzeDeps(deps []db.Dependency) {
	for i := range deps {
		dep := &deps[i]
		if dep.Conflict {
			continue
		}
		if r.nameState(dep.Name)&(InstallIf|Present|Missing) != 0 {
			continue
		}
		dep.Name.OrMark(r.gen, uint32(Missing))
		r.analyzeMissingName(dep.Name)
	}
}

func (r *reporter) analyzeMissingName(name *db.Name) {
	if len(name.Providers) != 0 {
		r.label = fmt.Sprintf("%s (virtual)", name.Name)

		r.labelStart("note:")
		r.in.Item("please select one of the 'provided by' packages explicitly")
		r.labelEnd()

		// Group providers: a providing name whose packages were all
		// referenced prints as the bare name, otherwise the individual
		// package-versions print. The transient counter subfield of the
		// scratch mark does the bookkeeping.
		r.labelStart("provided by:")
		for _, p := range name.Providers {
			n0 := p.Pkg.Name
			n0.SetMark(r.gen, n0.Mark(r.gen)+1)
		}
		for _, p := range name.Providers {
			n0 := p.Pkg.Name
			refs := int(State(n0.Mark(r.gen)) & countMask)
			switch {
			case refs == len(n0.Providers):
				r.in.Item(n0.Name)
				n0.SetMark(r.gen, n0.Mark(r.gen)&^uint32(countMask))
			case refs > 0:
				r.in.Item(p.Pkg.DisplayName())
				n0.SetMark(r.gen, n0.Mark(r.gen)-1)
			}
		}
		r.labelEnd()
	} else {
		r.label = fmt.Sprintf("%s (no such package)", name.Name)
	}

	r.labelStart("required by:")
	for i := range r.world {
		dep := &r.world[i]
		if dep.Name != name || dep.Conflict {
			continue
		}
		r.in.Item(fmt.Sprintf("world[%s]", r.d.DepString(*dep)))
	}
	vgen := r.d.NextVisitGeneration()
	for _, rname := range name.RDepends {
		for _, p := range rname.Providers {
			if !p.Pkg.Marked {
				continue
			}
			if !p.Pkg.VisitOnce(vgen) {
				continue
			}
			for j := range p.Pkg.Depends {
				dep := &p.Pkg.Depends[j]
				if dep.Name != name || dep.Conflict {
					continue
				}
				r.in.Item(fmt.Sprintf("%s[%s]", p.Pkg.DisplayName(), dep))
				break
			}
			break
		}
	}
	r.labelEnd()
}

func (r *reporter) analyzePackage(pkg *db.Package, tag int) {
	r.label = pkg.DisplayName()

	if pkg.Uninstallable {
		r.labelStart("error:")
		r.in.Item("uninstallable")
		r.labelEnd()
		if !r.d.ArchCompatible(pkg.Arch) {
			r.labelStart("arch:")
			r.in.Item(pkg.Arch)
			r.labelEnd()
		}
		r.printBrokenDeps(pkg.Depends, "depends:")
		r.printBrokenDeps(pkg.Provides, "provides:")
		r.printBrokenDeps(pkg.InstallIf, "install_if:")
	}

	r.printPinningErrors(pkg, tag)
	r.printConflicts(pkg)
	r.printDeps(pkg, false)
	if r.label == "" {
		r.printDeps(pkg, true)
	}
}

func (r *reporter) printBrokenDeps(deps []db.Dependency, label string) {
	for i := range deps {
		if !deps[i].Broken {
			continue
		}
		r.labelStart(label)
		r.in.Item(deps[i].String())
	}
	r.labelEnd()
}

// printPinningErrors explains why an uninstalled package is unavailable:
// network-disabled, layer-masked, cache-only, or excluded by every
// configured repository tag.
func (r *reporter) printPinningErrors(pkg *db.Package, tag int) {
	if pkg.Ipkg != nil {
		return
	}
	switch {
	case pkg.Repos&r.d.AvailableRepos == 0:
		r.labelStart("masked in:")
		r.in.Item("--no-network")
	case db.Bit(int(pkg.Layer))&db.RepoMask(r.d.ActiveLayers) == 0:
		r.labelStart("masked in:")
		r.in.Item("layer")
	case pkg.Repos == db.Bit(db.CacheRepository) && pkg.Filename == "":
		r.labelStart("masked in:")
		r.in.Item("cache")
	default:
		if pkg.Repos&r.d.PinningMask(tag) != 0 {
			return
		}
		for i := range r.d.RepoTags {
			if pkg.Repos&r.d.RepoTags[i].AllowedRepos != 0 {
				r.labelStart("masked in:")
				r.in.Item(r.d.RepoTags[i].Tag)
			}
		}
	}
	r.labelEnd()
}

// printConflicts lists marked packages providing one of pkg's names with a
// clashing identity.
func (r *reporter) printConflicts(pkg *db.Package) {
	for _, p := range pkg.Name.Providers {
		if p.Pkg == pkg || !p.Pkg.Marked {
			continue
		}
		r.labelStart("conflicts:")
		r.in.Item(p.Pkg.DisplayName())
	}
	for i := range pkg.Provides {
		dep := &pkg.Provides[i]
		once := true
		for _, p := range dep.Name.Providers {
			if !p.Pkg.Marked {
				continue
			}
			if once && p.Pkg == pkg && version.Compare(p.Version, dep.Constraint.Version) == 0 {
				once = false
				continue
			}
			r.labelStart("conflicts:")
			r.in.Item(fmt.Sprintf("%s[%s]", p.Pkg.DisplayName(), dep))
		}
	}
	r.labelEnd()
}

type matchedDep struct {
	pkg *db.Package // nil for direct world entries
	dep db.Dependency
}

// printDeps reports dependencies whose constraint is (satisfies=true) or
// is not (breaks) met by pkg under the current marked selection, gathered
// from the world and from marked reverse-dependency packages, deduplicated
// by package and operator.
func (r *reporter) printDeps(pkg *db.Package, satisfies bool) {
	label := "breaks:"
	if satisfies {
		label = "satisfies:"
	}

	var deps []matchedDep
	seen := make(map[string]bool)
	add := func(from *db.Package, dep db.Dependency) {
		if !dep.AppliesTo(pkg) || dep.Satisfies(pkg) != satisfies {
			return
		}
		key := dep.Constraint.Op.String() + "\x00" + dep.Name.Name
		if from != nil {
			key = from.DisplayName() + "\x00" + key
		}
		if seen[key] {
			return
		}
		seen[key] = true
		deps = append(deps, matchedDep{pkg: from, dep: dep})
	}

	for i := range r.world {
		add(nil, r.world[i])
	}
	vgen := r.d.NextVisitGeneration()
	for _, name := range pkg.ProvidedNames() {
		for _, rname := range name.RDepends {
			for _, p := range rname.Providers {
				if !p.Pkg.Marked || !p.Pkg.VisitOnce(vgen) {
					continue
				}
				for j := range p.Pkg.Depends {
					add(p.Pkg, p.Pkg.Depends[j])
				}
			}
		}
	}

	sort.SliceStable(deps, func(i, j int) bool {
		return compareMatched(deps[i], deps[j]) < 0
	})
	for _, m := range deps {
		r.labelStart(label)
		if m.pkg == nil {
			r.in.Item(fmt.Sprintf("world[%s]", r.d.DepString(m.dep)))
		} else {
			r.in.Item(fmt.Sprintf("%s[%s]", m.pkg.DisplayName(), m.dep))
		}
	}
	r.labelEnd()
}

// compareMatched orders world entries first, then by package display name,
// then by operator.
func compareMatched(a, b matchedDep) int {
	switch {
	case a.pkg == nil && b.pkg != nil:
		return -1
	case a.pkg != nil && b.pkg == nil:
		return 1
	case a.pkg != nil && b.pkg != nil:
		if r := db.ComparePackageDisplay(a.pkg, b.pkg); r != 0 {
			return r
		}
	}
	return int(a.dep.Constraint.Op) - int(b.dep.Constraint.Op)
}
