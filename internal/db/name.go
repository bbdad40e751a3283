package db

import (
	"sort"

	"github.com/keelpm/keel/internal/version"
)

// Provider asserts that a package satisfies a name, under the version the
// package carries for it. A zero Version marks the virtual "any version"
// case.
type Provider struct {
	Pkg     *Package
	Version version.Version
}

// Name is a unique, case-sensitive dependency name. Names are arena-owned
// and never freed once created.
//
// A Name with zero providers and a nonzero reverse-dependency list is a
// missing dependency target.
type Name struct {
	Name string

	// Providers lists the packages satisfying this name, lazily sorted
	// into display order on first query that needs stable ordering.
	Providers []Provider

	// RDepends and RInstallIf are the transpose of every package's
	// depends/install_if edges. They exist for graph traversal only and
	// never imply ownership.
	RDepends   []*Name
	RInstallIf []*Name

	// IsDependency is set once any package depends on this name
	// non-negatively.
	IsDependency bool

	providersSorted bool
	mark            markWord
}

func (n *Name) addProvider(p Provider) {
	n.Providers = append(n.Providers, p)
	n.providersSorted = false
}

// SortedProviders returns the providers in display order: provider package
// name case-insensitively, case-sensitive tiebreak, then descending
// version. The sort is performed lazily and cached until the provider set
// changes.
func (n *Name) SortedProviders() []Provider {
	if !n.providersSorted {
		sort.SliceStable(n.Providers, func(i, j int) bool {
			return compareProviderDisplay(n.Providers[i], n.Providers[j]) < 0
		})
		n.providersSorted = true
	}
	return n.Providers
}

func compareProviderDisplay(a, b Provider) int {
	if r := compareDisplay(a.Pkg.Name.Name, b.Pkg.Name.Name); r != 0 {
		return r
	}
	// Higher versions first within a name.
	return version.Compare(b.Pkg.Version, a.Pkg.Version)
}

func sortStrings(a []string) { sort.Strings(a) }
