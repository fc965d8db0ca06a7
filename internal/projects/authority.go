package projects

import (
	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

// PermissionSet aggregates the project predicates for capability flags.
type PermissionSet struct {
	CanView          bool `json:"can_view"`
	CanEdit          bool `json:"can_edit"`
	CanCreate        bool `json:"can_create"`
	CanDelete        bool `json:"can_delete"`
	CanManageMembers bool `json:"can_manage_members"`
}

// CanView excludes VIEWER; TECHNICIAN and up read projects.
func CanView(actor identity.Actor) bool {
	return roles.Rank(actor.Role) >= roles.Rank(roles.Technician)
}

// CanEdit starts at IT_ADMIN.
func CanEdit(actor identity.Actor) bool {
	return roles.Rank(actor.Role) >= roles.Rank(roles.ITAdmin)
}

// CanCreate is reserved for admins.
func CanCreate(actor identity.Actor) bool {
	return roles.IsAdmin(actor.Role)
}

// CanDelete is reserved for admins.
func CanDelete(actor identity.Actor) bool {
	return roles.IsAdmin(actor.Role)
}

// CanManageMembers starts at IT_ADMIN.
func CanManageMembers(actor identity.Actor) bool {
	return roles.Rank(actor.Role) >= roles.Rank(roles.ITAdmin)
}

// Permissions aggregates every predicate for one actor.
func Permissions(actor identity.Actor) PermissionSet {
	return PermissionSet{
		CanView:          CanView(actor),
		CanEdit:          CanEdit(actor),
		CanCreate:        CanCreate(actor),
		CanDelete:        CanDelete(actor),
		CanManageMembers: CanManageMembers(actor),
	}
}

// AssertCanView returns an authorization error when CanView denies.
func AssertCanView(actor identity.Actor) error {
	if !CanView(actor) {
		return authz.Denied(actor, "view projects")
	}
	return nil
}

// AssertCanEdit returns an authorization error when CanEdit denies.
func AssertCanEdit(actor identity.Actor) error {
	if !CanEdit(actor) {
		return authz.Denied(actor, "edit projects")
	}
	return nil
}

// AssertCanCreate returns an authorization error when CanCreate denies.
func AssertCanCreate(actor identity.Actor) error {
	if !CanCreate(actor) {
		return authz.Denied(actor, "create projects")
	}
	return nil
}

// AssertCanDelete returns an authorization error when CanDelete denies.
func AssertCanDelete(actor identity.Actor) error {
	if !CanDelete(actor) {
		return authz.Denied(actor, "delete projects")
	}
	return nil
}

// AssertCanManageMembers returns an authorization error when membership
// management is denied.
func AssertCanManageMembers(actor identity.Actor) error {
	if !CanManageMembers(actor) {
		return authz.Denied(actor, "manage project members")
	}
	return nil
}
