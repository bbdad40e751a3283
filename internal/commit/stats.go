package commit

import (
	"strconv"

	"github.com/keelpm/keel/internal/db"
	"github.com/keelpm/keel/internal/version"
)

// changeKind classifies one change for the status line and the diff dump.
type changeKind int

const (
	kindNone changeKind = iota // no visible action
	kindInstall
	kindPurge
	kindReinstall
	kindRepin
	kindReplace
	kindDowngrade
	kindUpgrade
)

// classify determines what a change does by comparing old and new package
// identity and version. A change whose old and new sides are the same
// package at the same tag, without a forced reinstall, is a no-op and
// invisible everywhere: progress, diff, statistics.
func classify(c *db.Change) changeKind {
	switch {
	case c.OldPkg == nil && c.NewPkg == nil:
		return kindNone
	case c.OldPkg == nil:
		return kindInstall
	case c.NewPkg == nil:
		return kindPurge
	case c.OldPkg == c.NewPkg:
		switch {
		case c.Reinstall:
			return kindReinstall
		case c.OldTag != c.NewTag:
			return kindRepin
		default:
			return kindNone
		}
	default:
		switch cmp := version.Compare(c.NewPkg.Version, c.OldPkg.Version); {
		case cmp < 0:
			return kindDowngrade
		case cmp > 0:
			return kindUpgrade
		default:
			// Same version, different package identity: a rebuild of the
			// same name swapping in place.
			return kindReplace
		}
	}
}

func (k changeKind) verb() string {
	switch k {
	case kindInstall:
		return "Installing"
	case kindPurge:
		return "Purging"
	case kindReinstall:
		return "Reinstalling"
	case kindRepin:
		return "Updating pinning"
	case kindReplace:
		return "Replacing"
	case kindDowngrade:
		return "Downgrading"
	case kindUpgrade:
		return "Upgrading"
	}
	return ""
}

// perPackageUnits pads progress accounting so a run of tiny packages still
// advances the bar.
const perPackageUnits = 1 << 15

// stats are the aggregates precomputed over a changeset before anything is
// applied. ByteDelta and PackageDelta feed the simulate-mode summary;
// TotalUnits feeds progress; Digits aligns the "(i/n)" status prefix.
type stats struct {
	Changes      int
	PackageDelta int
	ByteDelta    int64
	DownloadSize uint64
	TotalUnits   uint64
	Digits       int
}

func countChanges(d *db.Database, cs *db.Changeset) stats {
	var st stats
	for i := range cs.Changes {
		c := &cs.Changes[i]
		kind := classify(c)
		if kind == kindNone {
			continue
		}
		st.Changes++
		if c.OldPkg != nil {
			st.ByteDelta -= int64(c.OldPkg.InstalledSize)
			if c.NewPkg == nil {
				st.PackageDelta--
			}
		}
		if c.NewPkg != nil {
			st.ByteDelta += int64(c.NewPkg.InstalledSize)
			if c.OldPkg == nil {
				st.PackageDelta++
			}
			st.TotalUnits += c.NewPkg.Size
			// Repins and reinstalls keep the installed package; nothing to
			// fetch for them.
			if c.NewPkg != c.OldPkg && c.NewPkg.Repos&d.LocalRepos == 0 {
				st.DownloadSize += c.NewPkg.Size
			}
		}
		st.TotalUnits += perPackageUnits
	}
	st.Digits = len(strconv.Itoa(st.Changes))
	return st
}
