// Package solver defines the contract between the database and whatever
// computes changesets from a world. The commit path consumes a Solver
// opaquely; on failure the diagnostic reporter takes over with the
// solver's tentative selection.
package solver

import (
	"github.com/keelpm/keel/internal/db"
)

// Flags adjust a solve request.
type Flags uint

const (
	// Upgrade prefers the best available version over the installed one.
	Upgrade Flags = 1 << iota
)

// Solver computes the changeset moving the installed set to a world.
type Solver interface {
	Solve(d *db.Database, world []db.Dependency, flags Flags) (*db.Changeset, error)
}

// Unsatisfiable reports that no valid changeset exists. Tentative carries
// the packages the solver had selected when it gave up, shaped as a
// changeset so the diagnostic reporter can mark and analyze them.
type Unsatisfiable struct {
	Tentative *db.Changeset
}

func (e *Unsatisfiable) Error() string {
	return "solver: constraints unsatisfiable"
}
