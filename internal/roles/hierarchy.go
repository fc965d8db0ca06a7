// Package roles defines the static role hierarchy used by every
// authorization decision in the platform. It is the single source of
// truth for role ranking; other packages must consult it rather than
// compare roles directly.
package roles

// Role identifies a privilege level.
type Role string

// Platform roles, lowest to highest privilege. Manager and SuperAdmin
// share the top rank but both carry the admin override.
const (
	Viewer     Role = "VIEWER"
	Technician Role = "TECHNICIAN"
	ITAdmin    Role = "IT_ADMIN"
	Manager    Role = "MANAGER"
	SuperAdmin Role = "SUPERADMIN"
)

var ranks = map[Role]int{
	Viewer:     1,
	Technician: 2,
	ITAdmin:    3,
	Manager:    4,
	SuperAdmin: 4,
}

var displayNames = map[Role]string{
	Viewer:     "Viewer",
	Technician: "Technician",
	ITAdmin:    "IT Administrator",
	Manager:    "Manager",
	SuperAdmin: "Super Administrator",
}

// Rank returns the numeric rank for a role. Unknown roles rank 0,
// below every valid role.
func Rank(r Role) int {
	return ranks[r]
}

// Valid reports whether r is a known role.
func Valid(r Role) bool {
	_, ok := ranks[r]
	return ok
}

// IsAdmin reports whether the role carries the admin override:
// Manager and SuperAdmin bypass ownership and rank checks entirely.
func IsAdmin(r Role) bool {
	return r == Manager || r == SuperAdmin
}

// HasHigherOrEqual reports whether actor ranks at least as high as target.
func HasHigherOrEqual(actor, target Role) bool {
	return Rank(actor) >= Rank(target)
}

// HasStrictlyHigher reports whether actor outranks target. Manager and
// SuperAdmin are equal rank, so neither strictly outranks the other.
func HasStrictlyHigher(actor, target Role) bool {
	return Rank(actor) > Rank(target)
}

// Compare returns -1, 0, or 1 as a ranks below, equal to, or above b.
func Compare(a, b Role) int {
	ra, rb := Rank(a), Rank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// DisplayName returns the human-readable name for a role. Unknown roles
// are returned verbatim.
func DisplayName(r Role) string {
	if name, ok := displayNames[r]; ok {
		return name
	}
	return string(r)
}

// Hierarchy returns all roles ordered lowest to highest rank.
func Hierarchy() []Role {
	return []Role{Viewer, Technician, ITAdmin, Manager, SuperAdmin}
}
