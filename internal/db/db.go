// Package db implements the in-memory content-addressed package database:
// names, packages, providers, directories and files, plus the reverse
// dependency indexes and the generation-guarded scratch marks shared by the
// solver and the diagnostic reporter.
//
// The store is single-writer. Entities are owned by typed pools with
// database lifetime; nothing is freed individually except directories,
// which are reference-counted because they are shared across packages.
package db

import (
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/keelpm/keel/internal/arena"
	"github.com/keelpm/keel/internal/version"
)

// RepoMask is a bitmask of repository indices. Bit 0 is reserved for the
// local package cache.
type RepoMask uint32

// CacheRepository is the repository index of the local cache.
const CacheRepository = 0

// Bit returns the mask with only the given repository index set.
func Bit(repo int) RepoMask { return 1 << uint(repo) }

// RepoTag is a pinning label grouping repositories. Tag index 0 is the
// untagged default.
type RepoTag struct {
	Tag          string
	AllowedRepos RepoMask
}

// InstalledStats tracks the aggregate installed state.
type InstalledStats struct {
	Packages int
	Dirs     int
	Files    int
	Bytes    uint64
}

type fileKey struct {
	dir  string
	name string
}

// Database is the entity store.
type Database struct {
	names    map[string]*Name
	packages map[digest.Digest]*Package
	dirs     map[string]*Directory
	files    map[fileKey]*File

	namePool *arena.Pool[Name]
	pkgPool  *arena.Pool[Package]
	dirPool  *arena.Pool[Directory]
	filePool *arena.Pool[File]

	// World is the current target dependency set.
	World []Dependency

	RepoTags       []RepoTag
	AvailableRepos RepoMask
	LocalRepos     RepoMask
	ActiveLayers   uint32
	Arches         []string

	Installed InstalledStats
	// DirUpdateErrors counts directory permission/update failures
	// accumulated while applying a changeset.
	DirUpdateErrors int

	installedList []*Package // install order
	dirList       []*Directory
	removeDir     RemoveDirFunc

	gen      uint32
	visitGen uint32

	openComplete bool
}

// New creates an empty Database with the untagged default repository tag
// and every layer active.
func New() *Database {
	return &Database{
		names:        make(map[string]*Name),
		packages:     make(map[digest.Digest]*Package),
		dirs:         make(map[string]*Directory),
		files:        make(map[fileKey]*File),
		namePool:     arena.NewPool[Name](256),
		pkgPool:      arena.NewPool[Package](256),
		dirPool:      arena.NewPool[Directory](256),
		filePool:     arena.NewPool[File](1024),
		RepoTags:     []RepoTag{{}},
		ActiveLayers: ^uint32(0),
		LocalRepos:   Bit(CacheRepository),
	}
}

// Close releases all entity memory at once. The Database must not be used
// afterwards.
func (d *Database) Close() {
	d.namePool.Release()
	d.pkgPool.Release()
	d.dirPool.Release()
	d.filePool.Release()
	d.names = nil
	d.packages = nil
	d.dirs = nil
	d.files = nil
}

// QueryName returns the Name for key, or nil if it was never created.
func (d *Database) QueryName(key string) *Name {
	return d.names[key]
}

// GetOrCreateName returns the Name for key, creating it on first use.
// Names are never freed: the world of names only grows during a process
// lifetime.
func (d *Database) GetOrCreateName(key string) *Name {
	if n := d.names[key]; n != nil {
		return n
	}
	n := d.namePool.New()
	n.Name = key
	d.names[key] = n
	return n
}

// NameCount reports how many names exist.
func (d *Database) NameCount() int { return len(d.names) }

// PackageCount reports how many packages exist.
func (d *Database) PackageCount() int { return len(d.packages) }

// QueryPackage returns the package with the given content digest, or nil.
func (d *Database) QueryPackage(id digest.Digest) *Package {
	return d.packages[id]
}

// PackageTmpl carries the attributes of a package observed in a repository
// index or the installed database. AddPackage copies what it needs; the
// template can be reused.
type PackageTmpl struct {
	Digest        digest.Digest
	Name          string
	Version       string
	Depends       []Dependency
	Provides      []Dependency
	InstallIf     []Dependency
	Size          uint64
	InstalledSize uint64
	Repos         RepoMask
	Layer         uint8
	Priority      uint16
	Arch          string
	Filename      string
}

// AddPackage inserts the package described by tmpl, deduplicating by
// content digest: two entries with equal digest are the same package
// object. On first insertion the package is registered as a provider of its
// own name and of every name it provides, and the reverse dependency
// indexes are extended once the store is open-complete. Re-insertion only
// merges the repository bitmask.
func (d *Database) AddPackage(tmpl *PackageTmpl) (*Package, error) {
	if tmpl.Name == "" || tmpl.Version == "" || tmpl.Digest == "" {
		return nil, fmt.Errorf("db: package template missing name, version or digest")
	}

	repos := tmpl.Repos
	if tmpl.Filename != "" {
		repos |= Bit(CacheRepository)
	}

	if pkg := d.packages[tmpl.Digest]; pkg != nil {
		pkg.Repos |= repos
		if pkg.Filename == "" {
			pkg.Filename = tmpl.Filename
		}
		return pkg, nil
	}

	pkg := d.pkgPool.New()
	*pkg = Package{
		Digest:        tmpl.Digest,
		Name:          d.GetOrCreateName(tmpl.Name),
		Version:       version.Parse(tmpl.Version),
		Depends:       append([]Dependency(nil), tmpl.Depends...),
		Provides:      append([]Dependency(nil), tmpl.Provides...),
		InstallIf:     append([]Dependency(nil), tmpl.InstallIf...),
		Size:          tmpl.Size,
		InstalledSize: tmpl.InstalledSize,
		Repos:         repos,
		Layer:         tmpl.Layer,
		Priority:      tmpl.Priority,
		Arch:          tmpl.Arch,
		Filename:      tmpl.Filename,
	}
	d.packages[pkg.Digest] = pkg

	pkg.Name.addProvider(Provider{Pkg: pkg, Version: pkg.Version})
	for i := range pkg.Provides {
		dep := &pkg.Provides[i]
		dep.Name.addProvider(Provider{Pkg: pkg, Version: dep.Constraint.Version})
	}
	if d.openComplete {
		d.addReverseDeps(pkg)
	}
	return pkg, nil
}

// addReverseDeps appends pkg's owning name to the reverse indexes of every
// name its depends/install_if lists reference. This transposes the forward
// edges so diagnostics can walk "who needs this" in O(1) per name.
func (d *Database) addReverseDeps(pkg *Package) {
	for i := range pkg.Depends {
		dep := &pkg.Depends[i]
		dep.Name.IsDependency = dep.Name.IsDependency || !dep.Conflict
		appendNameOnce(&dep.Name.RDepends, pkg.Name)
	}
	for i := range pkg.InstallIf {
		appendNameOnce(&pkg.InstallIf[i].Name.RInstallIf, pkg.Name)
	}
}

func appendNameOnce(a *[]*Name, n *Name) {
	for _, have := range *a {
		if have == n {
			return
		}
	}
	*a = append(*a, n)
}

// IndexReverseDependencies builds the full reverse index after bulk load
// and marks the store open-complete, after which AddPackage maintains the
// index incrementally. Names are walked in sorted order so the index (and
// everything reported from it) is deterministic.
func (d *Database) IndexReverseDependencies() {
	for _, name := range d.sortedNames() {
		for _, p := range name.Providers {
			d.addReverseDeps(p.Pkg)
		}
	}
	d.openComplete = true
}

func (d *Database) sortedNames() []*Name {
	keys := make([]string, 0, len(d.names))
	for k := range d.names {
		keys = append(keys, k)
	}
	sortStrings(keys)
	names := make([]*Name, len(keys))
	for i, k := range keys {
		names[i] = d.names[k]
	}
	return names
}

// TagIndex returns the index of the named repository tag, creating it on
// first use. The empty tag is index 0.
func (d *Database) TagIndex(tag string) int {
	for i := range d.RepoTags {
		if d.RepoTags[i].Tag == tag {
			return i
		}
	}
	d.RepoTags = append(d.RepoTags, RepoTag{Tag: tag})
	return len(d.RepoTags) - 1
}

// CheckWorld counts world dependencies that reference a repository tag with
// no configured repositories. A nonzero result means the world cannot be
// committed without an override.
func (d *Database) CheckWorld(world []Dependency) []Dependency {
	var bad []Dependency
	for _, dep := range world {
		if dep.Tag <= 0 || dep.Tag >= len(d.RepoTags) {
			continue
		}
		if d.RepoTags[dep.Tag].AllowedRepos == 0 {
			bad = append(bad, dep)
		}
	}
	return bad
}

// PinningMask returns the union of repositories allowed by the default tag
// and the given tag.
func (d *Database) PinningMask(tag int) RepoMask {
	mask := d.RepoTags[0].AllowedRepos
	if tag > 0 && tag < len(d.RepoTags) {
		mask |= d.RepoTags[tag].AllowedRepos
	}
	return mask
}

// ArchCompatible reports whether a package architecture can be installed.
// An empty architecture means "noarch" and is always compatible.
func (d *Database) ArchCompatible(arch string) bool {
	if arch == "" {
		return true
	}
	for _, a := range d.Arches {
		if a == arch {
			return true
		}
	}
	return false
}

var displayCollator = collate.New(language.Und, collate.IgnoreCase)

// compareDisplay orders strings case-insensitively with a case-sensitive
// tiebreak, the ordering used for all human-facing listings.
func compareDisplay(a, b string) int {
	if r := displayCollator.CompareString(a, b); r != 0 {
		return r
	}
	return strings.Compare(a, b)
}
