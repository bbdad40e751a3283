package db

import (
	"path"
	"strings"

	"github.com/opencontainers/go-digest"
)

// ACL carries the ownership and permission bits recorded for a directory
// instance or file.
type ACL struct {
	Mode uint32
	UID  uint32
	GID  uint32
}

// RemoveMode controls whether releasing the last reference to a directory
// may remove it physically.
type RemoveMode int

const (
	// KeepDir releases bookkeeping only.
	KeepDir RemoveMode = iota
	// RemoveDir also removes the directory through the removal hook when
	// the reference count reaches zero.
	RemoveDir
)

// Directory is a canonical path node, reference-counted across the
// packages that create it. It is removable only when both its reference
// count and its owned-file list are empty.
type Directory struct {
	Path   string
	Parent *Directory
	Refs   int

	// Instances are the per-package views currently referencing this
	// directory. Owner is the instance whose ACL currently applies.
	Instances []*DirectoryInstance
	Owner     *DirectoryInstance

	// Modified is set when the directory's contents changed during the
	// current commit; trigger matching scans modified directories only.
	Modified bool
}

// DirectoryInstance is one package's view of a shared Directory, carrying
// the ACL that package declares for it.
type DirectoryInstance struct {
	Dir   *Directory
	Pkg   *Package
	ACL   ACL
	Files []*File
}

// File belongs to exactly one DirectoryInstance, which must belong to a
// currently-installed package.
type File struct {
	Name   string
	Diri   *DirectoryInstance
	Digest digest.Digest
	ACL    ACL
}

// Path renders the file's full path.
func (f *File) Path() string {
	if f.Diri.Dir.Path == "" {
		return f.Name
	}
	return f.Diri.Dir.Path + "/" + f.Name
}

// RemoveDirFunc is the external primitive invoked to physically remove a
// directory; filesystem mechanics live outside this package.
type RemoveDirFunc func(path string) error

// SetRemoveDirFunc installs the removal primitive called for each
// directory physically removed by UnrefDirectory. A failure is accounted
// into DirUpdateErrors.
func (d *Database) SetRemoveDirFunc(fn RemoveDirFunc) { d.removeDir = fn }

// GetDirectory returns the Directory for the given path, creating it and
// its parent chain on demand. Every call takes one reference; trailing
// slashes are ignored. The root directory has the empty path.
func (d *Database) GetDirectory(p string) *Directory {
	p = strings.TrimSuffix(p, "/")
	dir := d.dirs[p]
	if dir != nil && dir.Refs > 0 {
		dir.Refs++
		return dir
	}
	if dir == nil {
		dir = d.dirPool.New()
		dir.Path = p
		d.dirs[p] = dir
		d.dirList = append(d.dirList, dir)
	}
	dir.Refs = 1
	dir.Instances = nil
	d.Installed.Dirs++

	if p != "" {
		parent := ""
		if i := strings.LastIndexByte(p, '/'); i >= 0 {
			parent = p[:i]
		}
		dir.Parent = d.GetDirectory(parent)
	}
	return dir
}

// QueryDirectory returns the Directory for path without taking a
// reference, or nil.
func (d *Database) QueryDirectory(p string) *Directory {
	dir := d.dirs[strings.TrimSuffix(p, "/")]
	if dir == nil || dir.Refs == 0 {
		return nil
	}
	return dir
}

// UnrefDirectory drops one reference to dir. When the count reaches zero
// the directory leaves the installed statistics, is physically removed if
// mode allows, and releases its own reference on the parent chain.
func (d *Database) UnrefDirectory(dir *Directory, mode RemoveMode) {
	dir.Refs--
	if dir.Refs > 0 {
		return
	}
	d.Installed.Dirs--
	if dir.Path != "" {
		if mode == RemoveDir {
			dir.Modified = true
			if d.removeDir != nil {
				if err := d.removeDir(dir.Path); err != nil {
					d.DirUpdateErrors++
				}
			}
		}
		d.UnrefDirectory(dir.Parent, mode)
		dir.Parent = nil
	}
	dir.Owner = nil
}

// AddDirectoryInstance records that ipkg's package creates the directory,
// taking a directory reference and attaching the per-package ACL view.
func (d *Database) AddDirectoryInstance(ipkg *InstalledPackage, p string, acl ACL) *DirectoryInstance {
	dir := d.GetDirectory(p)
	diri := &DirectoryInstance{Dir: dir, Pkg: ipkg.Pkg, ACL: acl}
	dir.Instances = append(dir.Instances, diri)
	if dir.Owner == nil {
		dir.Owner = diri
	}
	dir.Modified = true
	ipkg.Dirs = append(ipkg.Dirs, diri)
	return diri
}

// dropDirInstance detaches diri from its directory, electing a new owning
// instance when the owner goes away, and releases the directory reference.
func (d *Database) dropDirInstance(diri *DirectoryInstance, mode RemoveMode) {
	dir := diri.Dir
	for i, have := range dir.Instances {
		if have == diri {
			dir.Instances = append(dir.Instances[:i], dir.Instances[i+1:]...)
			break
		}
	}
	if dir.Owner == diri {
		dir.Owner = nil
		if len(dir.Instances) > 0 {
			dir.Owner = dir.Instances[0]
		}
	}
	d.UnrefDirectory(dir, mode)
}

// AddFile records a file owned by diri and indexes it by (directory path,
// base name).
func (d *Database) AddFile(diri *DirectoryInstance, name string, dig digest.Digest, acl ACL) *File {
	f := d.filePool.New()
	f.Name = name
	f.Diri = diri
	f.Digest = dig
	f.ACL = acl
	diri.Files = append(diri.Files, f)
	d.files[fileKey{dir: diri.Dir.Path, name: name}] = f
	d.Installed.Files++
	diri.Dir.Modified = true
	return f
}

// QueryFile looks up a file by directory path and base name. Trailing
// slashes on the directory are ignored.
func (d *Database) QueryFile(dirPath, name string) *File {
	return d.files[fileKey{dir: strings.TrimSuffix(dirPath, "/"), name: name}]
}

// FireTriggers matches every installed package's trigger patterns against
// the directories modified during this commit and queues the matches as
// pending trigger arguments. Returns the number of packages with pending
// triggers.
func (d *Database) FireTriggers() int {
	pending := 0
	for _, pkg := range d.installedList {
		ipkg := pkg.Ipkg
		if len(ipkg.TriggerPatterns) == 0 {
			continue
		}
		for _, dir := range d.dirList {
			if !dir.Modified || dir.Refs == 0 {
				continue
			}
			rooted := "/" + dir.Path
			for _, pattern := range ipkg.TriggerPatterns {
				ok, err := path.Match(pattern, rooted)
				if err == nil && ok {
					ipkg.PendingTriggers = append(ipkg.PendingTriggers, rooted)
					break
				}
			}
		}
		if len(ipkg.PendingTriggers) > 0 {
			pending++
		}
	}
	return pending
}

// ClearModified resets the per-commit directory modification marks.
func (d *Database) ClearModified() {
	for _, dir := range d.dirList {
		dir.Modified = false
	}
}
