package assets

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/audit"
	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
	"github.com/opsdeck/opsdeck/internal/shared"
)

type memAssetRepo struct {
	assets  map[int64]Asset
	nextID  int64
	records []audit.Record
}

func newMemAssetRepo(seed ...Asset) *memAssetRepo {
	repo := &memAssetRepo{assets: map[int64]Asset{}, nextID: 1}
	for _, a := range seed {
		repo.assets[a.ID] = a
		if a.ID >= repo.nextID {
			repo.nextID = a.ID + 1
		}
	}
	return repo
}

func (m *memAssetRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Asset, len(m.assets))
	for k, v := range m.assets {
		snapshot[k] = v
	}
	recorded := len(m.records)
	if err := fn(ctx, (*memAssetTx)(m)); err != nil {
		m.assets = snapshot
		m.records = m.records[:recorded]
		return err
	}
	return nil
}

func (m *memAssetRepo) Get(_ context.Context, id int64) (Asset, error) {
	a, ok := m.assets[id]
	if !ok {
		return Asset{}, shared.ErrNotFound
	}
	return a, nil
}

func (m *memAssetRepo) List(_ context.Context, _ ListFilters) ([]Asset, error) {
	var out []Asset
	for _, a := range m.assets {
		out = append(out, a)
	}
	return out, nil
}

type memAssetTx memAssetRepo

func (m *memAssetTx) GetForUpdate(ctx context.Context, id int64) (Asset, error) {
	return (*memAssetRepo)(m).Get(ctx, id)
}

func (m *memAssetTx) Insert(_ context.Context, a Asset) (Asset, error) {
	a.ID = m.nextID
	m.nextID++
	m.assets[a.ID] = a
	return a, nil
}

func (m *memAssetTx) Update(_ context.Context, a Asset) error {
	if _, ok := m.assets[a.ID]; !ok {
		return shared.ErrNotFound
	}
	m.assets[a.ID] = a
	return nil
}

func (m *memAssetTx) Delete(_ context.Context, id int64) error {
	if _, ok := m.assets[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.assets, id)
	return nil
}

func (m *memAssetTx) InsertRecord(_ context.Context, rec audit.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memAssetTx) RecordDepth(_ context.Context, id uuid.UUID) (int, error) {
	for _, rec := range m.records {
		if rec.ID == id {
			return rec.ChainDepth, nil
		}
	}
	return 0, shared.ErrNotFound
}

type memDirectory map[int64]identity.Actor

func (m memDirectory) Actor(_ context.Context, id int64) (identity.Actor, error) {
	actor, ok := m[id]
	if !ok {
		return identity.Actor{}, shared.ErrNotFound
	}
	return actor, nil
}

func itadmin() identity.Actor {
	return identity.NewActor(3, "carl", roles.ITAdmin)
}

func technician() identity.Actor {
	return identity.NewActor(4, "lenny", roles.Technician)
}

func activeAsset(id int64) Asset {
	return Asset{
		ID:           id,
		Tag:          "LT-0042",
		Name:         "thinkpad",
		Category:     CategoryHardware,
		Status:       StatusActive,
		RegisteredBy: itadmin(),
	}
}

func TestViewerCannotCreate(t *testing.T) {
	svc := NewService(newMemAssetRepo(), memDirectory{})
	viewer := identity.NewActor(6, "ralph", roles.Viewer)
	_, err := svc.Create(context.Background(), viewer, CreateAssetInput{
		Tag: "LT-1", Name: "laptop", Category: CategoryHardware,
	})
	var authzErr *authz.Error
	require.ErrorAs(t, err, &authzErr)
}

func TestRetireUnassignsAtomically(t *testing.T) {
	holder := technician()
	asset := activeAsset(1)
	asset.Assignee = &holder
	repo := newMemAssetRepo(asset)
	svc := NewService(repo, memDirectory{})

	updated, err := svc.Transition(context.Background(), itadmin(), 1, StatusRetired)
	require.NoError(t, err)
	require.Equal(t, StatusRetired, updated.Status)
	require.Nil(t, updated.Assignee)

	require.Len(t, repo.records, 1)
	rec := repo.records[0]
	require.Equal(t, "ASSET_STATUS_CHANGED", rec.Action)
	require.Equal(t, "lenny", rec.OldValues["assignee"])
	require.Nil(t, rec.NewValues["assignee"])
}

func TestSelfCheckoutOnlyWhenUnassignedAndActive(t *testing.T) {
	tech := technician()
	repo := newMemAssetRepo(activeAsset(1))
	svc := NewService(repo, memDirectory{})

	updated, err := svc.AssignToSelf(context.Background(), tech, 1)
	require.NoError(t, err)
	require.Equal(t, tech.ID, updated.Assignee.ID)

	// Another technician cannot take it over.
	peer := identity.NewActor(5, "barney", roles.Technician)
	_, err = svc.AssignToSelf(context.Background(), peer, 1)
	var authzErr *authz.Error
	require.ErrorAs(t, err, &authzErr)

	// Nor check out an asset that is not ACTIVE.
	inRepair := activeAsset(2)
	inRepair.Status = StatusInRepair
	repo2 := newMemAssetRepo(inRepair)
	svc2 := NewService(repo2, memDirectory{})
	_, err = svc2.AssignToSelf(context.Background(), peer, 2)
	require.ErrorAs(t, err, &authzErr)
}

func TestAssignOthersRequiresITAdmin(t *testing.T) {
	tech := technician()
	peer := identity.NewActor(5, "barney", roles.Technician)
	repo := newMemAssetRepo(activeAsset(1))
	svc := NewService(repo, memDirectory{peer.ID: peer})

	_, err := svc.Assign(context.Background(), tech, 1, peer.ID)
	var authzErr *authz.Error
	require.ErrorAs(t, err, &authzErr)

	_, err = svc.Assign(context.Background(), itadmin(), 1, peer.ID)
	require.NoError(t, err)

	_, err = svc.Assign(context.Background(), itadmin(), 1, peer.ID)
	require.ErrorIs(t, err, ErrAlreadyAssigned)
}

func TestDeleteOwnerAloneInsufficient(t *testing.T) {
	holder := technician()
	asset := activeAsset(1)
	asset.Assignee = &holder
	repo := newMemAssetRepo(asset)
	svc := NewService(repo, memDirectory{})

	// The holder owns the asset but holding is not enough to delete.
	err := svc.Delete(context.Background(), holder, 1)
	var authzErr *authz.Error
	require.ErrorAs(t, err, &authzErr)

	// IT_ADMIN outranks the technician holder.
	require.NoError(t, svc.Delete(context.Background(), itadmin(), 1))
	require.Len(t, repo.records, 1)
	require.Equal(t, "ASSET_DELETED", repo.records[0].Action)
}

func TestSeatAllocationRollsBackAtCapacity(t *testing.T) {
	asset := activeAsset(1)
	asset.Category = CategorySoftware
	asset.LicenseSeats = 1
	repo := newMemAssetRepo(asset)
	svc := NewService(repo, memDirectory{})
	actor := itadmin()

	_, err := svc.AllocateSeat(context.Background(), actor, 1)
	require.NoError(t, err)

	_, err = svc.AllocateSeat(context.Background(), actor, 1)
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)

	got, getErr := repo.Get(context.Background(), 1)
	require.NoError(t, getErr)
	require.Equal(t, 1, got.SeatsUsed)
	require.Len(t, repo.records, 1, "rejected allocation must not audit")

	_, err = svc.ReleaseSeat(context.Background(), actor, 1)
	require.NoError(t, err)
	got, getErr = repo.Get(context.Background(), 1)
	require.NoError(t, getErr)
	require.Equal(t, 0, got.SeatsUsed)
}
