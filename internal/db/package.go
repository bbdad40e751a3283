package db

import (
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/keelpm/keel/internal/version"
)

// Package is a package identified by its content digest. The object itself
// persists for the process lifetime; only the optional InstalledPackage
// sub-record follows the install/remove lifecycle.
type Package struct {
	Digest  digest.Digest
	Name    *Name
	Version version.Version

	Depends   []Dependency
	Provides  []Dependency
	InstallIf []Dependency

	// Size is the download size, InstalledSize the on-disk footprint.
	Size          uint64
	InstalledSize uint64

	// Repos is the union of repository indices offering this exact
	// digest.
	Repos RepoMask

	Layer    uint8
	Priority uint16
	Arch     string
	Filename string

	// Ipkg exists only while the package is installed.
	Ipkg *InstalledPackage

	// Marked flags a tentative solver selection; set before diagnosis.
	Marked bool
	// Uninstallable is set by the solver when no repository or
	// architecture allows this package.
	Uninstallable bool

	mark  markWord
	visit markWord
}

// DisplayName renders "name-version" for human-facing listings.
func (p *Package) DisplayName() string {
	return fmt.Sprintf("%s-%s", p.Name.Name, p.Version)
}

// ProvidedNames returns pkg's own name followed by every name it provides.
func (p *Package) ProvidedNames() []*Name {
	names := make([]*Name, 0, 1+len(p.Provides))
	names = append(names, p.Name)
	for i := range p.Provides {
		names = append(names, p.Provides[i].Name)
	}
	return names
}

// Available reports whether the package can be fetched from any repository
// the database currently has access to.
func (p *Package) Available(d *Database) bool {
	return p.Repos&d.AvailableRepos != 0
}

// ComparePackageDisplay orders packages for human-facing listings: name
// case-insensitively with case-sensitive tiebreak, then version.
func ComparePackageDisplay(a, b *Package) int {
	if r := compareDisplay(a.Name.Name, b.Name.Name); r != 0 {
		return r
	}
	return version.Compare(a.Version, b.Version)
}

// InstalledPackage is the installed-state record owned by a Package while
// it is installed. It owns the package's directory instances and the
// pending trigger list.
type InstalledPackage struct {
	Pkg  *Package
	Tag  int // repository tag the package was pinned from
	Dirs []*DirectoryInstance

	// TriggerPatterns are the path patterns this package watches;
	// PendingTriggers accumulates matched directories until the commit
	// flushes them in one script invocation.
	TriggerPatterns []string
	PendingTriggers []string

	BrokenFiles  bool
	BrokenScript bool
}

// NewInstalled creates the InstalledPackage record for pkg and accounts it
// into the installed statistics. Idempotent for an already-installed
// package.
func (d *Database) NewInstalled(pkg *Package) *InstalledPackage {
	if pkg.Ipkg != nil {
		return pkg.Ipkg
	}
	ipkg := &InstalledPackage{Pkg: pkg}
	pkg.Ipkg = ipkg
	d.Installed.Packages++
	d.Installed.Bytes += pkg.InstalledSize
	d.installedList = append(d.installedList, pkg)
	return ipkg
}

// DropInstalled destroys pkg's installed record: its files leave the file
// index, its directory references are released (physically removing
// directories when allowed and their reference count reaches zero) and the
// installed statistics are adjusted.
func (d *Database) DropInstalled(pkg *Package, mode RemoveMode) {
	ipkg := pkg.Ipkg
	if ipkg == nil {
		return
	}
	for _, diri := range ipkg.Dirs {
		for _, f := range diri.Files {
			delete(d.files, fileKey{dir: diri.Dir.Path, name: f.Name})
			d.Installed.Files--
		}
		diri.Files = nil
		d.dropDirInstance(diri, mode)
	}
	ipkg.Dirs = nil
	pkg.Ipkg = nil
	d.Installed.Packages--
	d.Installed.Bytes -= pkg.InstalledSize
	for i, p := range d.installedList {
		if p == pkg {
			d.installedList = append(d.installedList[:i], d.installedList[i+1:]...)
			break
		}
	}
}

// InstalledPackages returns the installed set in install order.
func (d *Database) InstalledPackages() []*Package {
	return d.installedList
}
