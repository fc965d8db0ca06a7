package audit

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
	"github.com/opsdeck/opsdeck/internal/shared"
)

type memAuditRepo struct {
	sink *memSink
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{sink: newMemSink()}
}

func (m *memAuditRepo) WithTx(ctx context.Context, fn func(context.Context, Sink) error) error {
	return fn(ctx, m.sink)
}

func (m *memAuditRepo) Get(_ context.Context, id uuid.UUID) (Record, error) {
	rec, ok := m.sink.records[id]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func (m *memAuditRepo) Timeline(_ context.Context, filters TimelineFilters) ([]Record, error) {
	var records []Record
	for _, id := range m.sink.order {
		rec := m.sink.records[id]
		if filters.Actor != "" && rec.Actor.Username != filters.Actor {
			continue
		}
		if filters.Action != "" && rec.Action != filters.Action {
			continue
		}
		if filters.ResourceType != "" && rec.ResourceType != filters.ResourceType {
			continue
		}
		if !filters.From.IsZero() && rec.At.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && rec.At.After(filters.To) {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].At.After(records[j].At) })
	if filters.OffsetRows > 0 {
		if filters.OffsetRows >= len(records) {
			return nil, nil
		}
		records = records[filters.OffsetRows:]
	}
	if filters.LimitRows > 0 && len(records) > filters.LimitRows {
		records = records[:filters.LimitRows]
	}
	return records, nil
}

func seedRecords(t *testing.T, svc *Service, n int) []Record {
	t.Helper()
	actor := identity.NewActor(3, "homer", roles.Manager)
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	var out []Record
	for i := 0; i < n; i++ {
		svc.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		rec, err := svc.Emit(context.Background(), Entry{
			Actor:        actor,
			Action:       "ASSET_UPDATED",
			ResourceType: "asset",
			ResourceID:   fmt.Sprintf("%d", i+1),
		})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestTimelinePaging(t *testing.T) {
	repo := newMemAuditRepo()
	svc := NewService(repo)
	seedRecords(t, svc, 25)

	first, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, first.Records, 10)
	require.True(t, first.Paging.HasNext)
	require.Equal(t, 2, first.Paging.NextPage)
	require.Zero(t, first.Paging.PrevPage)
	// Newest first.
	require.Equal(t, "25", first.Records[0].ResourceID)

	last, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, last.Records, 5)
	require.False(t, last.Paging.HasNext)
	require.Equal(t, 2, last.Paging.PrevPage)
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := newMemAuditRepo()
	svc := NewService(repo)
	seedRecords(t, svc, 60)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 500})
	require.NoError(t, err)
	require.Len(t, result.Records, 50)
	require.Equal(t, 50, result.Paging.PageSize)
}

func TestTimelineFiltersByActor(t *testing.T) {
	repo := newMemAuditRepo()
	svc := NewService(repo)
	seedRecords(t, svc, 3)
	_, err := svc.Emit(context.Background(), Entry{
		Actor:        identity.NewActor(9, "lisa", roles.Technician),
		Action:       "TICKET_UPDATED",
		ResourceType: "ticket",
		ResourceID:   "77",
	})
	require.NoError(t, err)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Actor: "lisa"})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	require.Equal(t, "TICKET_UPDATED", result.Records[0].Action)
}

func TestChainWalksToRoot(t *testing.T) {
	repo := newMemAuditRepo()
	svc := NewService(repo)

	root, err := svc.Emit(context.Background(), Entry{
		Actor:        identity.NewActor(3, "homer", roles.Manager),
		Action:       "TICKET_CREATED",
		ResourceType: "ticket",
		ResourceID:   "8",
	})
	require.NoError(t, err)
	breach, err := svc.Emit(context.Background(), Entry{
		Actor:        identity.SystemActor(),
		Action:       "SLA_BREACHED",
		ResourceType: "ticket",
		ResourceID:   "8",
		ParentID:     &root.ID,
	})
	require.NoError(t, err)
	escalated, err := svc.Emit(context.Background(), Entry{
		Actor:        identity.SystemActor(),
		Action:       "SLA_ESCALATED",
		ResourceType: "ticket",
		ResourceID:   "8",
		ParentID:     &breach.ID,
	})
	require.NoError(t, err)

	chain, err := svc.Chain(context.Background(), escalated.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, "SLA_ESCALATED", chain[0].Action)
	require.Equal(t, "SLA_BREACHED", chain[1].Action)
	require.Equal(t, "TICKET_CREATED", chain[2].Action)
	require.Equal(t, 2, chain[0].ChainDepth)
	require.Nil(t, chain[2].ParentID)
}

func TestChainUnknownRecord(t *testing.T) {
	svc := NewService(newMemAuditRepo())
	_, err := svc.Chain(context.Background(), uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}
