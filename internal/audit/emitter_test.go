package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
	"github.com/opsdeck/opsdeck/internal/shared"
)

type memSink struct {
	records map[uuid.UUID]Record
	order   []uuid.UUID
}

func newMemSink() *memSink {
	return &memSink{records: map[uuid.UUID]Record{}}
}

func (m *memSink) InsertRecord(_ context.Context, rec Record) error {
	m.records[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *memSink) RecordDepth(_ context.Context, id uuid.UUID) (int, error) {
	rec, ok := m.records[id]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return rec.ChainDepth, nil
}

func testActor() identity.Actor {
	return identity.NewActor(7, "marge", roles.ITAdmin)
}

func TestEmitRequiresCoreFields(t *testing.T) {
	sink := newMemSink()
	_, err := Emit(context.Background(), sink, Entry{
		Actor:        testActor(),
		ResourceType: "ticket",
		ResourceID:   "42",
	}, time.Now())
	require.Error(t, err)
	require.Empty(t, sink.records)
}

func TestEmitStampsSnapshotAndDepth(t *testing.T) {
	sink := newMemSink()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	root, err := Emit(context.Background(), sink, Entry{
		Actor:        testActor(),
		Action:       "TICKET_CREATED",
		ResourceType: "ticket",
		ResourceID:   "42",
		NewValues:    map[string]any{"status": "NEW"},
	}, at)
	require.NoError(t, err)
	require.Equal(t, 0, root.ChainDepth)
	require.Equal(t, "marge", root.Actor.Username)
	require.Equal(t, roles.ITAdmin, root.Actor.Role)
	require.Equal(t, identity.KindUser, root.ActorType)
	require.Equal(t, at, root.At)

	child, err := Emit(context.Background(), sink, Entry{
		Actor:        identity.SystemActor(),
		Action:       "SLA_BREACHED",
		ResourceType: "ticket",
		ResourceID:   "42",
		ParentID:     &root.ID,
	}, at.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, child.ChainDepth)
	require.Equal(t, identity.KindSystem, child.ActorType)

	grandchild, err := Emit(context.Background(), sink, Entry{
		Actor:        identity.SystemActor(),
		Action:       "SLA_ESCALATED",
		ResourceType: "ticket",
		ResourceID:   "42",
		ParentID:     &child.ID,
	}, at.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, grandchild.ChainDepth)
}

func TestEmitRejectsUnknownParent(t *testing.T) {
	sink := newMemSink()
	missing := uuid.New()
	_, err := Emit(context.Background(), sink, Entry{
		Actor:        testActor(),
		Action:       "TICKET_UPDATED",
		ResourceType: "ticket",
		ResourceID:   "42",
		ParentID:     &missing,
	}, time.Now())
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, sink.records)
}

func TestRepositoryRefusesMutation(t *testing.T) {
	repo := &Repository{}
	require.ErrorIs(t, repo.Update(context.Background(), Record{}), ErrImmutableRecord)
	require.ErrorIs(t, repo.Delete(context.Background(), uuid.New()), ErrImmutableRecord)
}
