package store

import (
	"context"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/keelpm/keel/internal/db"
)

// Load rebuilds the in-memory world and installed state. Call it on a
// fresh Database before repository indexes are added; the caller finishes
// with IndexReverseDependencies once every source is loaded.
func (s *Store) Load(ctx context.Context, d *db.Database) error {
	if err := s.loadWorld(ctx, d); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if err := s.loadInstalled(ctx, d); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	d.ClearModified()
	return nil
}

func (s *Store) loadWorld(ctx context.Context, d *db.Database) error {
	rows, err := s.db.QueryContext(ctx, `SELECT dep FROM world ORDER BY pos ASC`)
	if err != nil {
		return fmt.Errorf("read world: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return fmt.Errorf("read world: %w", err)
		}
		dep, err := d.ParseDependency(text)
		if err != nil {
			return fmt.Errorf("world entry %q: %w", text, err)
		}
		d.World = append(d.World, dep)
	}
	return rows.Err()
}

func (s *Store) loadInstalled(ctx context.Context, d *db.Database) error {
	byDigest := make(map[string]*db.InstalledPackage)

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.digest, p.name, p.version, p.depends, p.provides, p.install_if,
		       p.size, p.installed_size, p.layer, p.priority, p.arch, p.filename,
		       i.tag
		FROM installed i JOIN packages p ON p.digest = i.digest
		ORDER BY i.pos ASC
	`)
	if err != nil {
		return fmt.Errorf("read installed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			dig, name, ver, depends, provides, installIf string
			arch, filename, tag                          string
			layer                                        uint8
			priority                                     uint16
			size, installedSize                          uint64
		)
		if err := rows.Scan(&dig, &name, &ver, &depends, &provides, &installIf,
			&size, &installedSize, &layer, &priority, &arch, &filename, &tag); err != nil {
			return fmt.Errorf("read installed: %w", err)
		}

		tmpl := db.PackageTmpl{
			Digest:        digest.Digest(dig),
			Name:          name,
			Version:       ver,
			Size:          size,
			InstalledSize: installedSize,
			Layer:         layer,
			Priority:      priority,
			Arch:          arch,
			Filename:      filename,
		}
		if tmpl.Depends, err = d.ParseDependencies(depends); err != nil {
			return fmt.Errorf("package %s depends: %w", name, err)
		}
		if tmpl.Provides, err = d.ParseDependencies(provides); err != nil {
			return fmt.Errorf("package %s provides: %w", name, err)
		}
		if tmpl.InstallIf, err = d.ParseDependencies(installIf); err != nil {
			return fmt.Errorf("package %s install_if: %w", name, err)
		}

		pkg, err := d.AddPackage(&tmpl)
		if err != nil {
			return fmt.Errorf("package %s: %w", name, err)
		}
		ipkg := d.NewInstalled(pkg)
		if tag != "" {
			ipkg.Tag = d.TagIndex(tag)
		}
		byDigest[dig] = ipkg
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	if err := s.loadTriggers(ctx, byDigest); err != nil {
		return err
	}
	return s.loadDirs(ctx, d, byDigest)
}

func (s *Store) loadTriggers(ctx context.Context, byDigest map[string]*db.InstalledPackage) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT digest, pattern FROM triggers ORDER BY digest ASC, pattern ASC`)
	if err != nil {
		return fmt.Errorf("read triggers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dig, pattern string
		if err := rows.Scan(&dig, &pattern); err != nil {
			return fmt.Errorf("read triggers: %w", err)
		}
		if ipkg := byDigest[dig]; ipkg != nil {
			ipkg.TriggerPatterns = append(ipkg.TriggerPatterns, pattern)
		}
	}
	return rows.Err()
}

func (s *Store) loadDirs(ctx context.Context, d *db.Database, byDigest map[string]*db.InstalledPackage) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, digest, path, mode, uid, gid FROM dirs ORDER BY id ASC
	`)
	if err != nil {
		return fmt.Errorf("read dirs: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*db.DirectoryInstance)
	for rows.Next() {
		var (
			id        int64
			dig, path string
			acl       db.ACL
		)
		if err := rows.Scan(&id, &dig, &path, &acl.Mode, &acl.UID, &acl.GID); err != nil {
			return fmt.Errorf("read dirs: %w", err)
		}
		ipkg := byDigest[dig]
		if ipkg == nil {
			continue
		}
		byID[id] = d.AddDirectoryInstance(ipkg, path, acl)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	frows, err := s.db.QueryContext(ctx, `
		SELECT dir_id, name, file_digest, mode, uid, gid
		FROM files ORDER BY dir_id ASC, name ASC
	`)
	if err != nil {
		return fmt.Errorf("read files: %w", err)
	}
	defer frows.Close()

	for frows.Next() {
		var (
			dirID     int64
			name, dig string
			acl       db.ACL
		)
		if err := frows.Scan(&dirID, &name, &dig, &acl.Mode, &acl.UID, &acl.GID); err != nil {
			return fmt.Errorf("read files: %w", err)
		}
		diri := byID[dirID]
		if diri == nil {
			continue
		}
		d.AddFile(diri, name, digest.Digest(dig), acl)
	}
	return frows.Err()
}
