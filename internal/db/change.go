package db

// ChangeState is the per-change outcome of a commit.
type ChangeState int

const (
	ChangePending ChangeState = iota
	ChangeSkipped
	ChangeApplied
	ChangeFailed
)

func (s ChangeState) String() string {
	switch s {
	case ChangePending:
		return "pending"
	case ChangeSkipped:
		return "skipped"
	case ChangeApplied:
		return "applied"
	case ChangeFailed:
		return "failed"
	}
	return "unknown"
}

// Change is one per-name transition of a changeset. At least one of OldPkg
// and NewPkg is non-nil.
type Change struct {
	OldPkg    *Package
	NewPkg    *Package
	Reinstall bool
	OldTag    int
	NewTag    int

	// State is updated by the commit engine so callers can retry failed
	// changes individually.
	State ChangeState
}

// ChangeName returns the name this change is about.
func (c *Change) ChangeName() *Name {
	if c.NewPkg != nil {
		return c.NewPkg.Name
	}
	return c.OldPkg.Name
}

// Changeset is the ordered list of changes moving the installed set toward
// a world, at most one change per name.
type Changeset struct {
	Changes []Change
}
