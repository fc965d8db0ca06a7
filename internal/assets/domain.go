// Package assets implements the asset lifecycle: hardware and software
// inventory with a finite status machine and license seat accounting.
package assets

import (
	"fmt"
	"net/http"
	"time"

	"github.com/opsdeck/opsdeck/internal/identity"
)

// Status is an asset lifecycle state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusInRepair Status = "IN_REPAIR"
	StatusRetired  Status = "RETIRED"
	StatusDisposed Status = "DISPOSED"
	StatusMissing  Status = "MISSING"
)

// Category separates seat-tracked software from physical stock.
type Category string

const (
	CategoryHardware Category = "HARDWARE"
	CategorySoftware Category = "SOFTWARE"
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	return c == CategoryHardware || c == CategorySoftware
}

// transitions is the lifecycle table. RETIRED and DISPOSED are
// terminal; a MISSING asset can only come back as ACTIVE.
var transitions = map[Status][]Status{
	StatusActive:   {StatusInRepair, StatusInactive, StatusRetired, StatusDisposed, StatusMissing},
	StatusInRepair: {StatusActive, StatusRetired, StatusDisposed, StatusMissing},
	StatusInactive: {StatusActive, StatusRetired, StatusDisposed, StatusMissing},
	StatusMissing:  {StatusActive},
	StatusRetired:  {},
	StatusDisposed: {},
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

func transitionAllowed(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal lifecycle change.
type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("assets: transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("assets: transition %s -> %s is not allowed", e.From, e.To)
}

// HTTPStatus maps illegal transitions to 409.
func (e *TransitionError) HTTPStatus() int {
	return http.StatusConflict
}

// CapacityError reports a license seat allocation beyond capacity. It
// is never clamped silently.
type CapacityError struct {
	Seats int
	Used  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("assets: license seats exhausted (%d/%d in use)", e.Used, e.Seats)
}

// HTTPStatus maps capacity violations to 422.
func (e *CapacityError) HTTPStatus() int {
	return http.StatusUnprocessableEntity
}

// Asset is one inventory item. RegisteredBy and Assignee carry
// identity snapshots for authority checks.
type Asset struct {
	ID           int64           `json:"id"`
	Tag          string          `json:"tag"`
	Name         string          `json:"name"`
	Category     Category        `json:"category"`
	Status       Status          `json:"status"`
	RegisteredBy identity.Actor  `json:"registered_by"`
	Assignee     *identity.Actor `json:"assignee,omitempty"`
	LicenseSeats int             `json:"license_seats,omitempty"`
	SeatsUsed    int             `json:"seats_used,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Owner is the identity authority checks compare against: the assignee
// when one is set, otherwise whoever registered the asset.
func (a Asset) Owner() identity.Actor {
	if a.Assignee != nil {
		return *a.Assignee
	}
	return a.RegisteredBy
}

// Terminal reports whether the asset can no longer change status.
func (a Asset) Terminal() bool {
	return len(transitions[a.Status]) == 0
}

// ApplyTransition validates and applies a status change in place.
// Entering RETIRED or DISPOSED clears the assignee as part of the same
// change, never as a separate step.
func (a *Asset) ApplyTransition(to Status, at time.Time) error {
	if !ValidStatus(to) {
		return &TransitionError{From: a.Status, To: to, Reason: "unknown status"}
	}
	if to == a.Status {
		return &TransitionError{From: a.Status, To: to, Reason: "redundant transition"}
	}
	if !transitionAllowed(a.Status, to) {
		return &TransitionError{From: a.Status, To: to}
	}
	a.Status = to
	if to == StatusRetired || to == StatusDisposed {
		a.Assignee = nil
	}
	a.UpdatedAt = at
	return nil
}

// AllocateSeat takes one license seat, rejecting allocations beyond
// capacity.
func (a *Asset) AllocateSeat() error {
	if a.Category != CategorySoftware || a.LicenseSeats == 0 {
		return &TransitionError{From: a.Status, To: a.Status, Reason: "asset is not seat-tracked"}
	}
	if a.SeatsUsed >= a.LicenseSeats {
		return &CapacityError{Seats: a.LicenseSeats, Used: a.SeatsUsed}
	}
	a.SeatsUsed++
	return nil
}

// ReleaseSeat returns one license seat. Releasing below zero is an
// integrity error, not a floor.
func (a *Asset) ReleaseSeat() error {
	if a.Category != CategorySoftware || a.LicenseSeats == 0 {
		return &TransitionError{From: a.Status, To: a.Status, Reason: "asset is not seat-tracked"}
	}
	if a.SeatsUsed == 0 {
		return &TransitionError{From: a.Status, To: a.Status, Reason: "no seats in use"}
	}
	a.SeatsUsed--
	return nil
}
