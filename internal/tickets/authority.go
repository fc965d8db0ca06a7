package tickets

import (
	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

// CanView reports whether actor may read tickets at all. VIEWER has no
// ticket access; everyone from TECHNICIAN up may read the queue.
func CanView(actor identity.Actor) bool {
	return roles.Rank(actor.Role) >= roles.Rank(roles.Technician)
}

// CanCreate mirrors CanView: any ticket-facing role may open tickets.
func CanCreate(actor identity.Actor) bool {
	return CanView(actor)
}

// CanModify layers ticket ownership over the generic engine. A
// technician owns a ticket through assignment, not creation.
func CanModify(actor identity.Actor, t Ticket) bool {
	if actor.Role == roles.Viewer {
		return false
	}
	return authz.CanModify(actor, t.Owner())
}

// CanDelete applies the generic delete rule against the owner.
func CanDelete(actor identity.Actor, t Ticket) bool {
	if actor.Role == roles.Viewer {
		return false
	}
	return authz.CanDelete(actor, t.Owner())
}

// CanAssign reports whether actor may assign the ticket to target.
// A technician may only pick up an unassigned ticket for themself;
// assigning anyone else takes IT_ADMIN or above.
func CanAssign(actor identity.Actor, t Ticket, target identity.Actor) bool {
	if roles.Rank(actor.Role) >= roles.Rank(roles.ITAdmin) {
		return true
	}
	if actor.Role != roles.Technician {
		return false
	}
	return identity.Same(actor, target) && t.Assignee == nil
}

// CanChangePriority restricts priority edits to IT_ADMIN and above.
func CanChangePriority(actor identity.Actor) bool {
	return roles.Rank(actor.Role) >= roles.Rank(roles.ITAdmin)
}

// AssertCanView returns an authorization error when CanView denies.
func AssertCanView(actor identity.Actor) error {
	if !CanView(actor) {
		return authz.Denied(actor, "view tickets")
	}
	return nil
}

// AssertCanModify returns an authorization error when CanModify denies.
func AssertCanModify(actor identity.Actor, t Ticket) error {
	if !CanModify(actor, t) {
		return &authz.Error{Actor: actor.Username, Owner: t.Owner().Username, Verb: "modify"}
	}
	return nil
}

// AssertCanDelete returns an authorization error when CanDelete denies.
func AssertCanDelete(actor identity.Actor, t Ticket) error {
	if !CanDelete(actor, t) {
		return &authz.Error{Actor: actor.Username, Owner: t.Owner().Username, Verb: "delete"}
	}
	return nil
}

// AssertCanAssign returns an authorization error when CanAssign denies.
func AssertCanAssign(actor identity.Actor, t Ticket, target identity.Actor) error {
	if !CanAssign(actor, t, target) {
		return &authz.Error{Actor: actor.Username, Owner: target.Username, Verb: "assign"}
	}
	return nil
}

// AssertCanChangePriority returns an authorization error when priority
// edits are denied.
func AssertCanChangePriority(actor identity.Actor) error {
	if !CanChangePriority(actor) {
		return authz.Denied(actor, "change ticket priority")
	}
	return nil
}
