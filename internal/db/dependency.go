package db

import (
	"fmt"
	"strings"

	"github.com/keelpm/keel/internal/version"
)

// Dependency is a (name, version constraint, conflict) edge. A conflict
// dependency is satisfied by the *absence* of the name; that polarity must
// survive every traversal that tests satisfaction.
type Dependency struct {
	Name       *Name
	Constraint version.Constraint
	Conflict   bool

	// Tag pins a world dependency to a repository tag. 0 is untagged.
	Tag int

	// Broken is set by the solver on edges it could not satisfy.
	Broken bool
}

// String renders the dependency in "!name", "name", "name@tag" or
// "name>=1.2" form. Tags are rendered only when the dependency belongs to a
// database (see Database.DepString); a bare Dependency prints the tag
// index-free form.
func (dep Dependency) String() string {
	var sb strings.Builder
	if dep.Conflict {
		sb.WriteByte('!')
	}
	sb.WriteString(dep.Name.Name)
	sb.WriteString(dep.Constraint.String())
	return sb.String()
}

// DepString renders dep including its repository tag label.
func (d *Database) DepString(dep Dependency) string {
	if dep.Tag <= 0 || dep.Tag >= len(d.RepoTags) {
		return dep.String()
	}
	var sb strings.Builder
	if dep.Conflict {
		sb.WriteByte('!')
	}
	sb.WriteString(dep.Name.Name)
	sb.WriteByte('@')
	sb.WriteString(d.RepoTags[dep.Tag].Tag)
	sb.WriteString(dep.Constraint.String())
	return sb.String()
}

// ParseDependency parses "name", "!name", "name@tag" and operator forms
// such as "name>=1.2" or "name@tag<2". The referenced name and tag are
// created on demand.
func (d *Database) ParseDependency(s string) (Dependency, error) {
	var dep Dependency
	if strings.HasPrefix(s, "!") {
		dep.Conflict = true
		s = s[1:]
	}
	i := strings.IndexAny(s, "<>=~")
	rest := ""
	if i >= 0 {
		rest = s[i:]
		s = s[:i]
	}
	if at := strings.IndexByte(s, '@'); at >= 0 {
		dep.Tag = d.TagIndex(s[at+1:])
		s = s[:at]
	}
	if s == "" {
		return Dependency{}, fmt.Errorf("db: empty dependency name in %q", s+rest)
	}
	dep.Name = d.GetOrCreateName(s)
	dep.Constraint = version.ParseConstraint(rest)
	return dep, nil
}

// ParseDependencies parses a whitespace-separated dependency list.
func (d *Database) ParseDependencies(s string) ([]Dependency, error) {
	var deps []Dependency
	for _, field := range strings.Fields(s) {
		dep, err := d.ParseDependency(field)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// DepsString renders a dependency list in the format ParseDependencies
// accepts.
func DepsString(deps []Dependency) string {
	parts := make([]string, len(deps))
	for i, dep := range deps {
		parts[i] = dep.String()
	}
	return strings.Join(parts, " ")
}

// Satisfies reports whether pkg satisfies dep when selected: the
// dependency names the package (directly or via provides) with a matching
// version, inverted for conflict dependencies.
func (dep Dependency) Satisfies(pkg *Package) bool {
	return dep.Conflict != dep.matchesProvider(pkg)
}

// AppliesTo reports whether dep refers to pkg at all, through its own name
// or one of its provided names.
func (dep Dependency) AppliesTo(pkg *Package) bool {
	if dep.Name == pkg.Name {
		return true
	}
	for i := range pkg.Provides {
		if pkg.Provides[i].Name == dep.Name {
			return true
		}
	}
	return false
}

func (dep Dependency) matchesProvider(pkg *Package) bool {
	if dep.Name == pkg.Name {
		return dep.Constraint.Match(pkg.Version)
	}
	for i := range pkg.Provides {
		p := &pkg.Provides[i]
		if p.Name != dep.Name {
			continue
		}
		if dep.Constraint.Match(p.Constraint.Version) {
			return true
		}
	}
	return false
}
