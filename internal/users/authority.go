package users

import (
	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

// PermissionSet aggregates the per-target predicates so callers can
// render capability flags without duplicating policy.
type PermissionSet struct {
	CanView       bool `json:"can_view"`
	CanUpdate     bool `json:"can_update"`
	CanChangeRole bool `json:"can_change_role"`
	CanDeactivate bool `json:"can_deactivate"`
	CanDelete     bool `json:"can_delete"`
}

// CanView defers to the generic engine: user records follow the same
// read rules as any owned resource.
func CanView(actor identity.Actor, target User) bool {
	return authz.CanView(actor, target.Actor())
}

// CanUpdate reports whether actor may edit target's profile.
// Self-service is always allowed. SUPERADMIN edits anyone, MANAGER
// anyone below SUPERADMIN, IT_ADMIN only TECHNICIAN and VIEWER.
func CanUpdate(actor identity.Actor, target User) bool {
	if actor.ID == target.ID {
		return true
	}
	switch actor.Role {
	case roles.SuperAdmin:
		return true
	case roles.Manager:
		return target.Role != roles.SuperAdmin
	case roles.ITAdmin:
		return target.Role == roles.Technician || target.Role == roles.Viewer
	default:
		return false
	}
}

// CanChangeRole reports whether actor may set target's role to newRole.
// Self-promotion is never allowed, and nobody may grant a role at or
// above their own rank.
func CanChangeRole(actor identity.Actor, target User, newRole roles.Role) bool {
	if actor.ID == target.ID {
		return false
	}
	if !roles.Valid(newRole) {
		return false
	}
	if roles.Rank(newRole) >= roles.Rank(actor.Role) {
		return false
	}
	return CanUpdate(actor, target)
}

// CanDeactivate reports whether actor may deactivate target. Nobody
// deactivates themself; SUPERADMIN may deactivate anyone, MANAGER and
// IT_ADMIN only strictly lower ranks.
func CanDeactivate(actor identity.Actor, target User) bool {
	if actor.ID == target.ID {
		return false
	}
	switch actor.Role {
	case roles.SuperAdmin:
		return true
	case roles.Manager, roles.ITAdmin:
		return roles.HasStrictlyHigher(actor.Role, target.Role)
	default:
		return false
	}
}

// CanDelete reports whether actor may delete target. Only SUPERADMIN,
// and never self.
func CanDelete(actor identity.Actor, target User) bool {
	if actor.ID == target.ID {
		return false
	}
	return actor.Role == roles.SuperAdmin
}

// Permissions aggregates every predicate for one actor/target pair.
// CanChangeRole here means "some role change is possible", which holds
// exactly when the actor outranks rank 1 and may update the target.
func Permissions(actor identity.Actor, target User) PermissionSet {
	return PermissionSet{
		CanView:       CanView(actor, target),
		CanUpdate:     CanUpdate(actor, target),
		CanChangeRole: actor.ID != target.ID && roles.Rank(actor.Role) > roles.Rank(roles.Viewer) && CanUpdate(actor, target),
		CanDeactivate: CanDeactivate(actor, target),
		CanDelete:     CanDelete(actor, target),
	}
}

// AssertCanView returns an authorization error when CanView denies.
func AssertCanView(actor identity.Actor, target User) error {
	if !CanView(actor, target) {
		return &authz.Error{Actor: actor.Username, Owner: target.Username, Verb: "view"}
	}
	return nil
}

// AssertCanUpdate returns an authorization error when CanUpdate denies.
func AssertCanUpdate(actor identity.Actor, target User) error {
	if !CanUpdate(actor, target) {
		return &authz.Error{Actor: actor.Username, Owner: target.Username, Verb: "modify"}
	}
	return nil
}

// AssertCanChangeRole returns an authorization error when CanChangeRole denies.
func AssertCanChangeRole(actor identity.Actor, target User, newRole roles.Role) error {
	if !CanChangeRole(actor, target, newRole) {
		return &authz.Error{Actor: actor.Username, Owner: target.Username, Verb: "change the role of"}
	}
	return nil
}

// AssertCanDeactivate returns an authorization error when CanDeactivate denies.
func AssertCanDeactivate(actor identity.Actor, target User) error {
	if !CanDeactivate(actor, target) {
		return &authz.Error{Actor: actor.Username, Owner: target.Username, Verb: "deactivate"}
	}
	return nil
}

// AssertCanDelete returns an authorization error when CanDelete denies.
func AssertCanDelete(actor identity.Actor, target User) error {
	if !CanDelete(actor, target) {
		return &authz.Error{Actor: actor.Username, Owner: target.Username, Verb: "delete"}
	}
	return nil
}
