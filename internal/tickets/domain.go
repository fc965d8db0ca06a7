// Package tickets implements the support ticket lifecycle: a finite,
// role-gated state machine layered over the generic authorization
// engine.
package tickets

import (
	"fmt"
	"net/http"
	"time"

	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

// Status is a ticket lifecycle state.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPending    Status = "PENDING"
	StatusResolved   Status = "RESOLVED"
	StatusClosed     Status = "CLOSED"
	StatusCancelled  Status = "CANCELLED"
)

// Priority orders tickets for triage.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
	PriorityUrgent   Priority = "URGENT"
)

var priorities = map[Priority]int{
	PriorityLow:      1,
	PriorityMedium:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
	PriorityUrgent:   5,
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	_, ok := priorities[p]
	return ok
}

// PriorityWeight returns the triage ordering of p, 0 for unknown.
func PriorityWeight(p Priority) int {
	return priorities[p]
}

// transitions is the full transition table, independent of role.
// CLOSED and CANCELLED are terminal.
var transitions = map[Status][]Status{
	StatusNew:        {StatusOpen, StatusCancelled},
	StatusOpen:       {StatusInProgress, StatusPending, StatusCancelled},
	StatusInProgress: {StatusPending, StatusResolved, StatusCancelled},
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusResolved:   {StatusClosed, StatusOpen},
	StatusClosed:     {},
	StatusCancelled:  {},
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// NextStatuses returns the states reachable from s.
func NextStatuses(s Status) []Status {
	return transitions[s]
}

func transitionAllowed(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal state change. It is distinct from
// an authorization error: the actor may be fully authorized while the
// move itself is off the table.
type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("tickets: transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("tickets: transition %s -> %s is not allowed", e.From, e.To)
}

// HTTPStatus maps illegal transitions to 409.
func (e *TransitionError) HTTPStatus() int {
	return http.StatusConflict
}

// Ticket is a support ticket. Creator and Assignee carry identity
// snapshots so authority checks never need a second lookup.
type Ticket struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      Status          `json:"status"`
	Priority    Priority        `json:"priority"`
	Creator     identity.Actor  `json:"creator"`
	Assignee    *identity.Actor `json:"assignee,omitempty"`
	SLADueAt    *time.Time      `json:"sla_due_at,omitempty"`
	SLABreached bool            `json:"sla_breached"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Owner is the identity authority checks compare against: the assignee
// when one is set, the creator otherwise.
func (t Ticket) Owner() identity.Actor {
	if t.Assignee != nil {
		return *t.Assignee
	}
	return t.Creator
}

// Terminal reports whether the ticket can no longer move.
func (t Ticket) Terminal() bool {
	return len(transitions[t.Status]) == 0
}

// ApplyTransition validates and applies a status change in place,
// stamping the resolution and closure timestamps. A same-state request
// is rejected, never silently accepted.
func (t *Ticket) ApplyTransition(actor identity.Actor, to Status, at time.Time) error {
	if !ValidStatus(to) {
		return &TransitionError{From: t.Status, To: to, Reason: "unknown status"}
	}
	if to == t.Status {
		return &TransitionError{From: t.Status, To: to, Reason: "redundant transition"}
	}
	if !transitionAllowed(t.Status, to) {
		return &TransitionError{From: t.Status, To: to}
	}
	if actor.Role == roles.Technician && (to == StatusClosed || to == StatusCancelled) {
		return authz.Denied(actor, fmt.Sprintf("transition ticket to %s", to))
	}
	from := t.Status
	switch {
	case to == StatusResolved:
		stamp := at
		t.ResolvedAt = &stamp
	case from == StatusResolved && to != StatusClosed:
		t.ResolvedAt = nil
	}
	if to == StatusClosed {
		stamp := at
		t.ClosedAt = &stamp
	}
	t.Status = to
	t.UpdatedAt = at
	return nil
}
