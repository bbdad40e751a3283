// Package version implements package version ordering and dependency
// constraints.
//
// Versions are parsed as (coerced) semantic versions via
// github.com/Masterminds/semver. Index entries whose version does not parse
// are never rejected: they fall back to byte-wise ordering so the entity
// store can always hold what a repository publishes.
package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a parsed package version. The zero value is the "no version"
// marker used by virtual providers.
type Version struct {
	raw string
	sv  *semver.Version // nil when raw is not semver-ish
}

// Parse returns the Version for s. An empty s is the zero Version.
func Parse(s string) Version {
	if s == "" {
		return Version{}
	}
	sv, err := semver.NewVersion(s)
	if err != nil {
		return Version{raw: s}
	}
	return Version{raw: s, sv: sv}
}

// String returns the original version text.
func (v Version) String() string { return v.raw }

// IsZero reports whether v is the "no version" marker.
func (v Version) IsZero() bool { return v.raw == "" }

// Compare orders a against b: -1, 0 or +1. Zero versions sort first.
// Mixed or unparseable versions compare byte-wise.
func Compare(a, b Version) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return -1
	case b.IsZero():
		return 1
	}
	if a.sv != nil && b.sv != nil {
		return a.sv.Compare(b.sv)
	}
	return strings.Compare(a.raw, b.raw)
}

// Op is a constraint operator.
type Op uint8

const (
	// OpAny matches every version, including the zero version.
	OpAny Op = iota
	OpEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	// OpFuzzy matches versions sharing the constraint's release prefix
	// (">=1.2, <1.3" style).
	OpFuzzy
)

var opText = map[Op]string{
	OpAny:          "",
	OpEqual:        "=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpFuzzy:        "~",
}

func (op Op) String() string { return opText[op] }

// ParseOp recognizes a leading constraint operator in s and returns the
// operator plus the remaining version text. No operator means OpEqual when
// a version follows, OpAny otherwise.
func ParseOp(s string) (Op, string) {
	switch {
	case strings.HasPrefix(s, "<="):
		return OpLessEqual, s[2:]
	case strings.HasPrefix(s, ">="):
		return OpGreaterEqual, s[2:]
	case strings.HasPrefix(s, "<"):
		return OpLess, s[1:]
	case strings.HasPrefix(s, ">"):
		return OpGreater, s[1:]
	case strings.HasPrefix(s, "~"):
		return OpFuzzy, s[1:]
	case strings.HasPrefix(s, "="):
		return OpEqual, s[1:]
	case s == "":
		return OpAny, ""
	default:
		return OpEqual, s
	}
}

// Constraint is an (operator, version) pair.
type Constraint struct {
	Op      Op
	Version Version
}

// ParseConstraint parses an operator-prefixed version such as ">=1.2".
func ParseConstraint(s string) Constraint {
	op, rest := ParseOp(s)
	return Constraint{Op: op, Version: Parse(rest)}
}

// String renders the constraint in operator-prefixed form.
func (c Constraint) String() string {
	if c.Op == OpAny {
		return ""
	}
	return c.Op.String() + c.Version.raw
}

// IsAny reports whether the constraint matches every version.
func (c Constraint) IsAny() bool { return c.Op == OpAny }

// Match reports whether v satisfies the constraint. A zero v satisfies only
// OpAny: a virtual (versionless) provider never satisfies a versioned
// constraint.
func (c Constraint) Match(v Version) bool {
	if c.Op == OpAny {
		return true
	}
	if v.IsZero() {
		return false
	}
	if c.Op == OpFuzzy {
		return matchFuzzy(c.Version, v)
	}
	r := Compare(v, c.Version)
	switch c.Op {
	case OpEqual:
		return r == 0
	case OpLess:
		return r < 0
	case OpLessEqual:
		return r <= 0
	case OpGreater:
		return r > 0
	case OpGreaterEqual:
		return r >= 0
	}
	return false
}

// matchFuzzy implements the release-prefix match: ~1.2 accepts any 1.2.x.
func matchFuzzy(want, v Version) bool {
	if want.sv != nil && v.sv != nil {
		c, err := semver.NewConstraint("~" + want.raw)
		if err == nil {
			return c.Check(v.sv)
		}
	}
	return v.raw == want.raw || strings.HasPrefix(v.raw, want.raw+".")
}
