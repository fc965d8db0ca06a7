package projects

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/audit"
	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
	"github.com/opsdeck/opsdeck/internal/shared"
)

type memProjectRepo struct {
	projects map[int64]Project
	members  map[int64]map[int64]time.Time
	nextID   int64
	records  []audit.Record
}

func newMemProjectRepo(seed ...Project) *memProjectRepo {
	repo := &memProjectRepo{projects: map[int64]Project{}, members: map[int64]map[int64]time.Time{}, nextID: 1}
	for _, p := range seed {
		repo.projects[p.ID] = p
		if p.ID >= repo.nextID {
			repo.nextID = p.ID + 1
		}
	}
	return repo
}

func (m *memProjectRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Project, len(m.projects))
	for k, v := range m.projects {
		snapshot[k] = v
	}
	memberSnapshot := make(map[int64]map[int64]time.Time, len(m.members))
	for pid, users := range m.members {
		clone := make(map[int64]time.Time, len(users))
		for uid, at := range users {
			clone[uid] = at
		}
		memberSnapshot[pid] = clone
	}
	recorded := len(m.records)
	if err := fn(ctx, (*memProjectTx)(m)); err != nil {
		m.projects = snapshot
		m.members = memberSnapshot
		m.records = m.records[:recorded]
		return err
	}
	return nil
}

func (m *memProjectRepo) Get(_ context.Context, id int64) (Project, error) {
	p, ok := m.projects[id]
	if !ok {
		return Project{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memProjectRepo) List(_ context.Context, _ shared.Pagination) ([]Project, error) {
	var out []Project
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out, nil
}

func (m *memProjectRepo) Members(_ context.Context, projectID int64) ([]Member, error) {
	var out []Member
	for uid, at := range m.members[projectID] {
		out = append(out, Member{ProjectID: projectID, User: identity.Actor{ID: uid}, AddedAt: at})
	}
	return out, nil
}

type memProjectTx memProjectRepo

func (m *memProjectTx) GetForUpdate(ctx context.Context, id int64) (Project, error) {
	return (*memProjectRepo)(m).Get(ctx, id)
}

func (m *memProjectTx) Insert(_ context.Context, p Project) (Project, error) {
	p.ID = m.nextID
	m.nextID++
	m.projects[p.ID] = p
	return p, nil
}

func (m *memProjectTx) Update(_ context.Context, p Project) error {
	if _, ok := m.projects[p.ID]; !ok {
		return shared.ErrNotFound
	}
	m.projects[p.ID] = p
	return nil
}

func (m *memProjectTx) Delete(_ context.Context, id int64) error {
	if _, ok := m.projects[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

func (m *memProjectTx) AddMember(_ context.Context, projectID, userID int64, at time.Time) error {
	users, ok := m.members[projectID]
	if !ok {
		users = map[int64]time.Time{}
		m.members[projectID] = users
	}
	if _, exists := users[userID]; exists {
		return shared.ErrConflict
	}
	users[userID] = at
	return nil
}

func (m *memProjectTx) RemoveMember(_ context.Context, projectID, userID int64) error {
	users := m.members[projectID]
	if _, ok := users[userID]; !ok {
		return shared.ErrNotFound
	}
	delete(users, userID)
	return nil
}

func (m *memProjectTx) InsertRecord(_ context.Context, rec audit.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memProjectTx) RecordDepth(_ context.Context, id uuid.UUID) (int, error) {
	for _, rec := range m.records {
		if rec.ID == id {
			return rec.ChainDepth, nil
		}
	}
	return 0, shared.ErrNotFound
}

type memProjectDirectory map[int64]identity.Actor

func (m memProjectDirectory) Actor(_ context.Context, id int64) (identity.Actor, error) {
	a, ok := m[id]
	if !ok {
		return identity.Actor{}, shared.ErrNotFound
	}
	return a, nil
}

func TestCreateProjectRequiresAdmin(t *testing.T) {
	repo := newMemProjectRepo()
	svc := NewService(repo, memProjectDirectory{})

	_, err := svc.Create(context.Background(), identity.NewActor(3, "ivan", roles.ITAdmin), ProjectInput{Name: "Refresh"})
	var authzErr *authz.Error
	require.ErrorAs(t, err, &authzErr)
	require.Empty(t, repo.projects)

	created, err := svc.Create(context.Background(), identity.NewActor(1, "maya", roles.Manager), ProjectInput{Name: "Refresh"})
	require.NoError(t, err)
	require.Equal(t, "maya", created.Lead.Username)
	require.Len(t, repo.records, 1)
	require.Equal(t, "PROJECT_CREATED", repo.records[0].Action)
}

func TestArchiveProjectIsIdempotentConflict(t *testing.T) {
	manager := identity.NewActor(1, "maya", roles.Manager)
	repo := newMemProjectRepo(Project{ID: 7, Name: "Refresh", Lead: manager})
	svc := NewService(repo, memProjectDirectory{})

	archived, err := svc.Archive(context.Background(), manager, 7)
	require.NoError(t, err)
	require.True(t, archived.Archived)

	_, err = svc.Archive(context.Background(), manager, 7)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Len(t, repo.records, 1, "second archive must not audit")
}

func TestMembershipRoundTrip(t *testing.T) {
	admin := identity.NewActor(3, "ivan", roles.ITAdmin)
	tech := identity.NewActor(4, "tess", roles.Technician)
	repo := newMemProjectRepo(Project{ID: 7, Name: "Refresh", Lead: admin})
	svc := NewService(repo, memProjectDirectory{4: tech})

	require.NoError(t, svc.AddMember(context.Background(), admin, 7, 4))
	members, err := svc.Members(context.Background(), admin, 7)
	require.NoError(t, err)
	require.Len(t, members, 1)

	// Adding the same member twice surfaces the uniqueness conflict and
	// rolls the audit record back.
	err = svc.AddMember(context.Background(), admin, 7, 4)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Len(t, repo.records, 1)

	require.NoError(t, svc.RemoveMember(context.Background(), admin, 7, 4))
	members, err = svc.Members(context.Background(), admin, 7)
	require.NoError(t, err)
	require.Empty(t, members)
	require.Equal(t, "PROJECT_MEMBER_REMOVED", repo.records[len(repo.records)-1].Action)
}

func TestAddMemberRejectsUnknownUser(t *testing.T) {
	admin := identity.NewActor(3, "ivan", roles.ITAdmin)
	repo := newMemProjectRepo(Project{ID: 7, Name: "Refresh", Lead: admin})
	svc := NewService(repo, memProjectDirectory{})

	err := svc.AddMember(context.Background(), admin, 7, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.records)
}

func TestTechnicianCannotManageMembers(t *testing.T) {
	tech := identity.NewActor(4, "tess", roles.Technician)
	repo := newMemProjectRepo(Project{ID: 7, Name: "Refresh"})
	svc := NewService(repo, memProjectDirectory{4: tech})

	err := svc.AddMember(context.Background(), tech, 7, 4)
	var authzErr *authz.Error
	require.ErrorAs(t, err, &authzErr)
}

func TestDeleteProjectAuditsName(t *testing.T) {
	super := identity.NewActor(1, "root", roles.SuperAdmin)
	repo := newMemProjectRepo(Project{ID: 7, Name: "Refresh", Lead: super})
	svc := NewService(repo, memProjectDirectory{})

	require.NoError(t, svc.Delete(context.Background(), super, 7))
	require.Empty(t, repo.projects)
	require.Equal(t, "PROJECT_DELETED", repo.records[0].Action)
	require.Equal(t, map[string]any{"name": "Refresh"}, repo.records[0].OldValues)
}
