package assets

import (
	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

// CanView is open: every authenticated role may read the register.
func CanView(actor identity.Actor) bool {
	return roles.Valid(actor.Role)
}

// CanCreate requires more than read-only access.
func CanCreate(actor identity.Actor) bool {
	return roles.Rank(actor.Role) > roles.Rank(roles.Viewer)
}

// CanModify applies the generic rule against the current owner.
func CanModify(actor identity.Actor, a Asset) bool {
	return authz.CanModify(actor, a.Owner())
}

// CanDelete is stricter than the generic rule: holding the asset is not
// enough, deletion takes admin rank or a strictly higher rank than the
// owner.
func CanDelete(actor identity.Actor, a Asset) bool {
	if roles.IsAdmin(actor.Role) {
		return true
	}
	return roles.HasStrictlyHigher(actor.Role, a.Owner().Role)
}

// CanAssign reports whether actor may hand the asset to target.
// Self-checkout of an unassigned ACTIVE asset is open to any writing
// role; any other self-assignment falls back to the generic modify
// check against the current owner; assigning someone else takes
// IT_ADMIN or above.
func CanAssign(actor identity.Actor, a Asset, target identity.Actor) bool {
	if identity.Same(actor, target) {
		if a.Assignee == nil && a.Status == StatusActive {
			return CanCreate(actor)
		}
		return authz.CanModify(actor, a.Owner())
	}
	return roles.Rank(actor.Role) >= roles.Rank(roles.ITAdmin)
}

// AssertCanCreate returns an authorization error when CanCreate denies.
func AssertCanCreate(actor identity.Actor) error {
	if !CanCreate(actor) {
		return authz.Denied(actor, "register assets")
	}
	return nil
}

// AssertCanModify returns an authorization error when CanModify denies.
func AssertCanModify(actor identity.Actor, a Asset) error {
	if !CanModify(actor, a) {
		return &authz.Error{Actor: actor.Username, Owner: a.Owner().Username, Verb: "modify"}
	}
	return nil
}

// AssertCanDelete returns an authorization error when CanDelete denies.
func AssertCanDelete(actor identity.Actor, a Asset) error {
	if !CanDelete(actor, a) {
		return &authz.Error{Actor: actor.Username, Owner: a.Owner().Username, Verb: "delete"}
	}
	return nil
}

// AssertCanAssign returns an authorization error when CanAssign denies.
func AssertCanAssign(actor identity.Actor, a Asset, target identity.Actor) error {
	if !CanAssign(actor, a, target) {
		return &authz.Error{Actor: actor.Username, Owner: target.Username, Verb: "assign"}
	}
	return nil
}
