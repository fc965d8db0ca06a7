// Package authz implements the resource-agnostic authorization engine.
// All predicates are pure and total over an (actor, owner) pair plus the
// role hierarchy; resource-specific services layer their exceptions on
// top of these primitives.
package authz

import (
	"fmt"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

// Decision is the outcome of an authorization check. It is always
// produced explicitly so callers can surface the reason for a denial.
type Decision struct {
	Allowed bool
	Reason  string
}

// CanView reports whether actor may view a resource owned by owner.
// Read access is permissive: self, admin override, or higher-or-equal
// rank all qualify.
func CanView(actor, owner identity.Actor) bool {
	if roles.IsAdmin(actor.Role) {
		return true
	}
	if identity.Same(actor, owner) {
		return true
	}
	return roles.HasHigherOrEqual(actor.Role, owner.Role)
}

// CanModify reports whether actor may modify a resource owned by owner.
// Write access is strict: equal-rank non-admins may not modify each
// other, while two admins of equal rank can via the admin override.
func CanModify(actor, owner identity.Actor) bool {
	if roles.IsAdmin(actor.Role) {
		return true
	}
	if identity.Same(actor, owner) {
		return true
	}
	return roles.HasStrictlyHigher(actor.Role, owner.Role)
}

// CanDelete reports whether actor may delete a resource owned by owner.
// The generic engine applies the same rules as CanModify; stricter
// per-resource delete rules live in the resource authority services.
func CanDelete(actor, owner identity.Actor) bool {
	return CanModify(actor, owner)
}

// DecideView is CanView with an explicit reason.
func DecideView(actor, owner identity.Actor) Decision {
	return decide(CanView(actor, owner), actor, owner, "view")
}

// DecideModify is CanModify with an explicit reason.
func DecideModify(actor, owner identity.Actor) Decision {
	return decide(CanModify(actor, owner), actor, owner, "modify")
}

// DecideDelete is CanDelete with an explicit reason.
func DecideDelete(actor, owner identity.Actor) Decision {
	return decide(CanDelete(actor, owner), actor, owner, "delete")
}

func decide(allowed bool, actor, owner identity.Actor, verb string) Decision {
	if allowed {
		return Decision{Allowed: true, Reason: "authorized"}
	}
	return Decision{Allowed: false, Reason: (&Error{Actor: actor.Username, Owner: owner.Username, Verb: verb}).Error()}
}

// Error is returned when an actor lacks permission for an action. It
// always carries the actor and, for owned resources, the owner username.
type Error struct {
	Actor string
	Owner string
	Verb  string
}

func (e *Error) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("User '%s' is not authorized to %s", e.Actor, e.Verb)
	}
	return fmt.Sprintf("User '%s' is not authorized to %s resource owned by '%s'", e.Actor, e.Verb, e.Owner)
}

// Denied builds an authorization error for a resource-level action that
// has no meaningful owner (for example a role-gated state transition).
func Denied(actor identity.Actor, verb string) *Error {
	return &Error{Actor: actor.Username, Verb: verb}
}

// AssertCanView returns an *Error when CanView denies.
func AssertCanView(actor, owner identity.Actor) error {
	if !CanView(actor, owner) {
		return &Error{Actor: actor.Username, Owner: owner.Username, Verb: "view"}
	}
	return nil
}

// AssertCanModify returns an *Error when CanModify denies.
func AssertCanModify(actor, owner identity.Actor) error {
	if !CanModify(actor, owner) {
		return &Error{Actor: actor.Username, Owner: owner.Username, Verb: "modify"}
	}
	return nil
}

// AssertCanDelete returns an *Error when CanDelete denies.
func AssertCanDelete(actor, owner identity.Actor) error {
	if !CanDelete(actor, owner) {
		return &Error{Actor: actor.Username, Owner: owner.Username, Verb: "delete"}
	}
	return nil
}
