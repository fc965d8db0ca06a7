package projects

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/opsdeck/opsdeck/internal/audit"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/shared"
)

const resourceType = "project"

// Directory resolves user IDs to identity snapshots for membership.
type Directory interface {
	Actor(ctx context.Context, id int64) (identity.Actor, error)
}

// RepositoryPort abstracts project persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Project, error)
	List(ctx context.Context, p shared.Pagination) ([]Project, error)
	Members(ctx context.Context, projectID int64) ([]Member, error)
}

// TxRepository is the transactional slice of the port.
type TxRepository interface {
	audit.Sink
	GetForUpdate(ctx context.Context, id int64) (Project, error)
	Insert(ctx context.Context, p Project) (Project, error)
	Update(ctx context.Context, p Project) error
	Delete(ctx context.Context, id int64) error
	AddMember(ctx context.Context, projectID, userID int64, at time.Time) error
	RemoveMember(ctx context.Context, projectID, userID int64) error
}

// ProjectInput carries the editable project fields.
type ProjectInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=4000"`
}

// Service applies project mutations under the project authority rules.
type Service struct {
	repo     RepositoryPort
	users    Directory
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds a Service.
func NewService(repo RepositoryPort, users Directory) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a new project with the actor as lead.
func (s *Service) Create(ctx context.Context, actor identity.Actor, input ProjectInput) (Project, error) {
	if err := AssertCanCreate(actor); err != nil {
		return Project{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return Project{}, err
	}
	var created Project
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		var err error
		created, err = tx.Insert(ctx, Project{
			Name:        input.Name,
			Description: input.Description,
			Lead:        actor,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "PROJECT_CREATED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(created.ID, 10),
			NewValues:    map[string]any{"name": created.Name},
		}, now)
		return err
	})
	if err != nil {
		return Project{}, err
	}
	return created, nil
}

// Get fetches one project.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id int64) (Project, error) {
	if err := AssertCanView(actor); err != nil {
		return Project{}, err
	}
	return s.repo.Get(ctx, id)
}

// List returns one page of projects.
func (s *Service) List(ctx context.Context, actor identity.Actor, p shared.Pagination) ([]Project, error) {
	if err := AssertCanView(actor); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, p)
}

// Members lists a project's membership.
func (s *Service) Members(ctx context.Context, actor identity.Actor, id int64) ([]Member, error) {
	if err := AssertCanView(actor); err != nil {
		return nil, err
	}
	return s.repo.Members(ctx, id)
}

// Update edits a project's fields.
func (s *Service) Update(ctx context.Context, actor identity.Actor, id int64, input ProjectInput) (Project, error) {
	if err := AssertCanEdit(actor); err != nil {
		return Project{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return Project{}, err
	}
	var updated Project
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		old := map[string]any{"name": p.Name, "description": p.Description}
		p.Name = input.Name
		p.Description = input.Description
		p.UpdatedAt = s.now()
		if err := tx.Update(ctx, p); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "PROJECT_UPDATED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(p.ID, 10),
			OldValues:    old,
			NewValues:    map[string]any{"name": p.Name, "description": p.Description},
		}, p.UpdatedAt)
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return Project{}, err
	}
	return updated, nil
}

// Archive retires a project without deleting its history.
func (s *Service) Archive(ctx context.Context, actor identity.Actor, id int64) (Project, error) {
	if err := AssertCanDelete(actor); err != nil {
		return Project{}, err
	}
	var updated Project
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Archived {
			return fmt.Errorf("projects: already archived: %w", shared.ErrConflict)
		}
		p.Archived = true
		p.UpdatedAt = s.now()
		if err := tx.Update(ctx, p); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "PROJECT_ARCHIVED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(p.ID, 10),
			OldValues:    map[string]any{"archived": false},
			NewValues:    map[string]any{"archived": true},
		}, p.UpdatedAt)
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return Project{}, err
	}
	return updated, nil
}

// Delete removes a project.
func (s *Service) Delete(ctx context.Context, actor identity.Actor, id int64) error {
	if err := AssertCanDelete(actor); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, p.ID); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "PROJECT_DELETED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(p.ID, 10),
			OldValues:    map[string]any{"name": p.Name},
		}, s.now())
		return err
	})
}

// AddMember attaches a user to the project.
func (s *Service) AddMember(ctx context.Context, actor identity.Actor, projectID, userID int64) error {
	if err := AssertCanManageMembers(actor); err != nil {
		return err
	}
	member, err := s.users.Actor(ctx, userID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, projectID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.AddMember(ctx, p.ID, member.ID, now); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "PROJECT_MEMBER_ADDED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(p.ID, 10),
			NewValues:    map[string]any{"member": member.Username, "member_id": member.ID},
		}, now)
		return err
	})
}

// RemoveMember detaches a user from the project.
func (s *Service) RemoveMember(ctx context.Context, actor identity.Actor, projectID, userID int64) error {
	if err := AssertCanManageMembers(actor); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, projectID)
		if err != nil {
			return err
		}
		if err := tx.RemoveMember(ctx, p.ID, userID); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "PROJECT_MEMBER_REMOVED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(p.ID, 10),
			OldValues:    map[string]any{"member_id": userID},
		}, s.now())
		return err
	})
}
