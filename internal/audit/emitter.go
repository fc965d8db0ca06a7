package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sink persists records inside the caller's transaction. Domain
// transaction repositories embed a Sink so the mutation and its audit
// record commit or roll back together.
type Sink interface {
	InsertRecord(ctx context.Context, rec Record) error
	RecordDepth(ctx context.Context, id uuid.UUID) (int, error)
}

// Emit writes one record through the given sink. The record inherits
// chain depth from its parent when a parent reference is supplied.
func Emit(ctx context.Context, sink Sink, entry Entry, at time.Time) (Record, error) {
	if entry.Action == "" || entry.ResourceType == "" || entry.ResourceID == "" {
		return Record{}, errors.New("audit: entry requires action, resource type and resource id")
	}
	depth := 0
	if entry.ParentID != nil {
		parentDepth, err := sink.RecordDepth(ctx, *entry.ParentID)
		if err != nil {
			return Record{}, fmt.Errorf("audit: resolve parent %s: %w", entry.ParentID, err)
		}
		depth = parentDepth + 1
	}
	rec := Record{
		ID:           uuid.New(),
		Actor:        snapshotOf(entry.Actor),
		ActorType:    entry.Actor.Kind,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		OldValues:    entry.OldValues,
		NewValues:    entry.NewValues,
		ParentID:     entry.ParentID,
		ChainDepth:   depth,
		At:           at.UTC(),
	}
	if err := sink.InsertRecord(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
