package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keelpm/keel/internal/db"
)

// SaveState replaces the persisted world and installed set with the
// database's current state in one transaction. This runs at the end of a
// commit regardless of counted errors: the stored world is always the
// target world.
func (s *Store) SaveState(ctx context.Context, d *db.Database) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save state: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := saveWorld(ctx, tx, d); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := saveInstalled(ctx, tx, d); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save state: commit: %w", err)
	}
	return nil
}

func saveWorld(ctx context.Context, tx *sql.Tx, d *db.Database) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM world`); err != nil {
		return fmt.Errorf("clear world: %w", err)
	}
	for i, dep := range d.World {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO world (pos, dep) VALUES (?, ?)`,
			i, d.DepString(dep))
		if err != nil {
			return fmt.Errorf("write world entry %q: %w", d.DepString(dep), err)
		}
	}
	return nil
}

func saveInstalled(ctx context.Context, tx *sql.Tx, d *db.Database) error {
	// Children first so the foreign keys stay satisfied.
	for _, table := range []string{"files", "dirs", "triggers", "installed"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for pos, pkg := range d.InstalledPackages() {
		ipkg := pkg.Ipkg

		_, err := tx.ExecContext(ctx, `
			INSERT INTO packages
			(digest, name, version, depends, provides, install_if,
			 size, installed_size, layer, priority, arch, filename)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(digest) DO NOTHING
		`,
			string(pkg.Digest),
			pkg.Name.Name,
			pkg.Version.String(),
			db.DepsString(pkg.Depends),
			db.DepsString(pkg.Provides),
			db.DepsString(pkg.InstallIf),
			pkg.Size,
			pkg.InstalledSize,
			pkg.Layer,
			pkg.Priority,
			pkg.Arch,
			pkg.Filename,
		)
		if err != nil {
			return fmt.Errorf("write package %s: %w", pkg.DisplayName(), err)
		}

		tag := ""
		if ipkg.Tag > 0 && ipkg.Tag < len(d.RepoTags) {
			tag = d.RepoTags[ipkg.Tag].Tag
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO installed (digest, tag, pos) VALUES (?, ?, ?)`,
			string(pkg.Digest), tag, pos)
		if err != nil {
			return fmt.Errorf("write installed %s: %w", pkg.DisplayName(), err)
		}

		for _, pattern := range ipkg.TriggerPatterns {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO triggers (digest, pattern) VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, string(pkg.Digest), pattern)
			if err != nil {
				return fmt.Errorf("write trigger for %s: %w", pkg.DisplayName(), err)
			}
		}

		for _, diri := range ipkg.Dirs {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO dirs (digest, path, mode, uid, gid)
				VALUES (?, ?, ?, ?, ?)
			`, string(pkg.Digest), diri.Dir.Path, diri.ACL.Mode, diri.ACL.UID, diri.ACL.GID)
			if err != nil {
				return fmt.Errorf("write dir %s: %w", diri.Dir.Path, err)
			}
			dirID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("write dir %s: %w", diri.Dir.Path, err)
			}
			for _, f := range diri.Files {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO files (dir_id, name, file_digest, mode, uid, gid)
					VALUES (?, ?, ?, ?, ?, ?)
				`, dirID, f.Name, string(f.Digest), f.ACL.Mode, f.ACL.UID, f.ACL.GID)
				if err != nil {
					return fmt.Errorf("write file %s: %w", f.Path(), err)
				}
			}
		}
	}
	return nil
}
