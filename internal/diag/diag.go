// Package diag explains why no valid changeset exists. It is invoked only
// when the solver reports an unsatisfiable world, and turns the solver's
// tentative package selection plus the provider/dependency graph into a
// structured, human-readable report without re-running the search.
package diag

import (
	"github.com/keelpm/keel/internal/db"
	"github.com/keelpm/keel/internal/out"
)

// State is the per-entity diagnostic mark. The states are informative, not
// exclusive: a name can be both reachable through a virtual provider and
// missing a concrete one. The low-order bits double as a transient counter
// used for virtual-provider disambiguation while reporting.
type State uint32

const (
	// Present marks reachability as a concrete selection.
	Present State = 1 << 31
	// Missing marks a name that is required but has no usable provider.
	Missing State = 1 << 30
	// VirtualOnly marks reachability only through a versionless provider.
	VirtualOnly State = 1 << 29
	// InstallIf marks names pulled in via a conditional reverse
	// dependency only.
	InstallIf State = 1 << 28

	countMask State = 0x0000ffff
)

// effectiveState applies the downgrade rule: a Present or InstallIf
// reachability collapses to VirtualOnly when the package has no
// higher-priority concrete identity for the name it was reached through.
func effectiveState(pkg *db.Package, name *db.Name, state State) State {
	if state != Present && state != InstallIf {
		return state
	}
	if pkg.Priority == 0 && !isNameConcrete(pkg, name) {
		return VirtualOnly
	}
	return state
}

// isNameConcrete reports whether pkg carries a concrete (versioned)
// identity for name: it is the package's own name, or a versioned provide.
func isNameConcrete(pkg *db.Package, name *db.Name) bool {
	if pkg.Name == name {
		return true
	}
	for i := range pkg.Provides {
		p := &pkg.Provides[i]
		if p.Name != name {
			continue
		}
		if !p.Constraint.Version.IsZero() {
			return true
		}
	}
	return false
}

type reporter struct {
	d     *db.Database
	world []db.Dependency
	in    *out.Indent
	gen   uint32

	// label is the pending per-entity header line, printed lazily by the
	// first labelStart under it so entities with nothing to report stay
	// silent.
	label     string
	numLabels int
}

func (r *reporter) nameState(n *db.Name) State   { return State(n.Mark(r.gen)) }
func (r *reporter) pkgState(p *db.Package) State { return State(p.Mark(r.gen)) }

// discoverDeps marks everything reachable from the given non-conflict
// dependencies.
func (r *reporter) discoverDeps(deps []db.Dependency) {
	for i := range deps {
		if deps[i].Conflict {
			continue
		}
		r.discoverName(deps[i].Name, Present)
	}
}

// discoverName marks every still-candidate provider of name with the
// effective state, then recursively marks provided and depended-on names.
// Idempotence comes from the bit-test-and-set on the package mark, which
// keeps the traversal polynomial across diamond dependencies.
func (r *reporter) discoverName(name *db.Name, pkgState State) {
	for _, p := range name.Providers {
		if !p.Pkg.Marked {
			continue
		}
		state := effectiveState(p.Pkg, name, pkgState)
		if r.pkgState(p.Pkg)&state != 0 {
			continue
		}
		p.Pkg.OrMark(r.gen, uint32(state))

		p.Pkg.Name.OrMark(r.gen, uint32(state))
		for i := range p.Pkg.Provides {
			dep := &p.Pkg.Provides[i]
			depState := state
			if depState == InstallIf && dep.Constraint.Version.IsZero() {
				depState = VirtualOnly
			}
			dep.Name.OrMark(r.gen, uint32(depState))
		}

		r.discoverDeps(p.Pkg.Depends)
		if state == Present || state == InstallIf {
			r.discoverReverseInstallIf(p.Pkg.Name)
			for i := range p.Pkg.Provides {
				r.discoverReverseInstallIf(p.Pkg.Provides[i].Name)
			}
		}
	}
}

// discoverReverseInstallIf re-evaluates every conditional reverse edge of
// name: a package whose install_if conditions are all satisfied against the
// current marks qualifies and is marked InstallIf.
func (r *reporter) discoverReverseInstallIf(name *db.Name) {
	for _, rname := range name.RInstallIf {
		for _, p := range rname.Providers {
			if !p.Pkg.Marked || len(p.Pkg.InstallIf) == 0 {
				continue
			}
			ok := true
			for i := range p.Pkg.InstallIf {
				cond := &p.Pkg.InstallIf[i]
				present := r.nameState(cond.Name)&(Present|InstallIf) != 0
				if cond.Conflict == present {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}
			r.discoverName(p.Pkg.Name, InstallIf)
			for i := range p.Pkg.Provides {
				r.discoverName(p.Pkg.Provides[i].Name, InstallIf)
			}
		}
	}
}

// Report prints the unsatisfiable-world explanation to o's error stream.
// Packages tentatively selected by the failed changeset must carry the
// marked bit; Report sets it for the changeset's new packages.
func Report(o *out.Output, d *db.Database, cs *db.Changeset, world []db.Dependency) {
	for i := range cs.Changes {
		if pkg := cs.Changes[i].NewPkg; pkg != nil {
			pkg.Marked = true
		}
	}

	r := &reporter{
		d:     d,
		world: world,
		in:    out.NewIndent(o.ErrW),
		gen:   d.NextGeneration(),
	}
	r.discoverDeps(world)

	o.Err("unable to select packages:")
	r.analyzeDeps(world)
	for i := range cs.Changes {
		pkg := cs.Changes[i].NewPkg
		if pkg == nil {
			continue
		}
		r.analyzePackage(pkg, cs.Changes[i].NewTag)
		r.analyzeDeps(pkg.Depends)
	}

	if r.numLabels == 0 {
		r.in.Line("  The dependency graph shows no broken constraints; this is likely a solver defect.")
	}
}
