package commit

import "errors"

// Abort errors: returned by Apply before any mutation happens. Everything
// that goes wrong after mutation starts is counted, not returned.
var (
	// ErrBrokenWorld means the world references a repository tag with no
	// configured repositories.
	ErrBrokenWorld = errors.New("commit: world references an unconfigured repository tag")

	// ErrDeclined means the user answered no at the confirmation prompt.
	ErrDeclined = errors.New("commit: declined by user")

	// ErrHookVeto means a pre-commit hook failed.
	ErrHookVeto = errors.New("commit: vetoed by pre-commit hook")
)
