// Package audit produces the immutable audit trail. Every authorized
// mutation in the platform writes exactly one record, inside the same
// transaction as the mutation itself.
package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

// ErrImmutableRecord is returned on any attempt to update or delete a
// persisted record. The trail is append-only; a violation is an
// integrity error, never silently ignored.
var ErrImmutableRecord = errors.New("audit: records are append-only")

// Snapshot captures the acting identity by value at write time, so the
// record stays meaningful after the actor is deleted.
type Snapshot struct {
	ID       int64      `json:"id"`
	Username string     `json:"username"`
	Role     roles.Role `json:"role"`
}

// Record is one persisted audit trail entry.
type Record struct {
	ID           uuid.UUID      `json:"id"`
	Actor        Snapshot       `json:"actor"`
	ActorType    identity.Kind  `json:"actor_type"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	OldValues    map[string]any `json:"old_values,omitempty"`
	NewValues    map[string]any `json:"new_values,omitempty"`
	ParentID     *uuid.UUID     `json:"parent_id,omitempty"`
	ChainDepth   int            `json:"chain_depth"`
	At           time.Time      `json:"at"`
}

// Entry is the input to Emit. ParentID links the record into a causal
// chain (asset failure -> ticket created -> escalation); chain depth is
// derived from the parent, callers only pass the reference.
type Entry struct {
	Actor        identity.Actor
	Action       string
	ResourceType string
	ResourceID   string
	OldValues    map[string]any
	NewValues    map[string]any
	ParentID     *uuid.UUID
}

func snapshotOf(actor identity.Actor) Snapshot {
	return Snapshot{ID: actor.ID, Username: actor.Username, Role: actor.Role}
}
