// Package identity models the acting principal passed explicitly through
// every authorization check. The engine never consults ambient state for
// "who is acting"; callers thread an Actor through each call.
package identity

import "github.com/opsdeck/opsdeck/internal/roles"

// Kind distinguishes human users from the platform itself.
type Kind string

const (
	KindUser   Kind = "user"
	KindSystem Kind = "system"
)

// Actor is the identity performing an action. It carries exactly the
// fields the authorization engine needs, never the full persisted user
// record.
type Actor struct {
	ID       int64
	Username string
	Role     roles.Role
	Kind     Kind
}

// NewActor builds a user actor.
func NewActor(id int64, username string, role roles.Role) Actor {
	return Actor{ID: id, Username: username, Role: role, Kind: KindUser}
}

// SystemActor is the explicit sentinel for actions performed by the
// platform itself (scheduled jobs, automated escalations). It replaces
// any implicit fallback to a privileged user account.
func SystemActor() Actor {
	return Actor{ID: 0, Username: "system", Role: roles.SuperAdmin, Kind: KindSystem}
}

// IsSystem reports whether the actor is the system sentinel.
func (a Actor) IsSystem() bool {
	return a.Kind == KindSystem
}

// Same reports whether two actors are the same principal. Identity is
// compared by kind and ID, never by username.
func Same(a, b Actor) bool {
	return a.Kind == b.Kind && a.ID == b.ID
}
