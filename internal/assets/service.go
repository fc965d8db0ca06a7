package assets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/opsdeck/opsdeck/internal/audit"
	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
	"github.com/opsdeck/opsdeck/internal/shared"
)

const resourceType = "asset"

// ErrAlreadyAssigned is returned when an assignment races or repeats.
var ErrAlreadyAssigned = fmt.Errorf("assets: already assigned: %w", shared.ErrConflict)

// Directory resolves user IDs to identity snapshots for assignment.
type Directory interface {
	Actor(ctx context.Context, id int64) (identity.Actor, error)
}

// ListFilters narrows asset listings.
type ListFilters struct {
	Status     Status
	Category   Category
	AssigneeID *int64
	Pagination shared.Pagination
}

// RepositoryPort abstracts asset persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Asset, error)
	List(ctx context.Context, f ListFilters) ([]Asset, error)
}

// TxRepository is the transactional slice of the port, carrying the
// audit sink so a mutation and its record share one commit.
type TxRepository interface {
	audit.Sink
	GetForUpdate(ctx context.Context, id int64) (Asset, error)
	Insert(ctx context.Context, a Asset) (Asset, error)
	Update(ctx context.Context, a Asset) error
	Delete(ctx context.Context, id int64) error
}

// CreateAssetInput carries the fields for a new asset.
type CreateAssetInput struct {
	Tag          string   `json:"tag" validate:"required,max=64"`
	Name         string   `json:"name" validate:"required,max=200"`
	Category     Category `json:"category" validate:"required"`
	LicenseSeats int      `json:"license_seats" validate:"min=0"`
}

// UpdateAssetInput carries the editable fields.
type UpdateAssetInput struct {
	Name string `json:"name" validate:"required,max=200"`
}

// Service applies asset mutations under the asset authority rules.
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

// Create registers a new asset as ACTIVE with the actor as registrar.
func (s *Service) Create(ctx context.Context, actor identity.Actor, input CreateAssetInput) (Asset, error) {
	if err := AssertCanCreate(actor); err != nil {
		return Asset{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return Asset{}, err
	}
	if !ValidCategory(input.Category) {
		return Asset{}, fmt.Errorf("assets: unknown category %q: %w", input.Category, shared.ErrConflict)
	}
	if input.LicenseSeats > 0 && input.Category != CategorySoftware {
		return Asset{}, fmt.Errorf("assets: only software carries license seats: %w", shared.ErrConflict)
	}
	var created Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		var err error
		created, err = tx.Insert(ctx, Asset{
			Tag:          input.Tag,
			Name:         input.Name,
			Category:     input.Category,
			Status:       StatusActive,
			RegisteredBy: actor,
			LicenseSeats: input.LicenseSeats,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "ASSET_CREATED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(created.ID, 10),
			NewValues:    map[string]any{"tag": created.Tag, "name": created.Name, "status": string(created.Status)},
		}, now)
		return err
	})
	if err != nil {
		return Asset{}, err
	}
	return created, nil
}

// Get fetches one asset; the register is readable by every role.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id int64) (Asset, error) {
	if !CanView(actor) {
		return Asset{}, authz.Denied(actor, "view assets")
	}
	return s.repo.Get(ctx, id)
}

// List returns one page of assets.
func (s *Service) List(ctx context.Context, actor identity.Actor, f ListFilters) ([]Asset, error) {
	if !CanView(actor) {
		return nil, authz.Denied(actor, "view assets")
	}
	return s.repo.List(ctx, f)
}

// Update edits an asset's descriptive fields.
func (s *Service) Update(ctx context.Context, actor identity.Actor, id int64, input UpdateAssetInput) (Asset, error) {
	if err := s.validate.Struct(input); err != nil {
		return Asset{}, err
	}
	var updated Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := AssertCanModify(actor, a); err != nil {
			return err
		}
		old := map[string]any{"name": a.Name}
		a.Name = input.Name
		a.UpdatedAt = s.now()
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "ASSET_UPDATED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(a.ID, 10),
			OldValues:    old,
			NewValues:    map[string]any{"name": a.Name},
		}, a.UpdatedAt)
		if err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return Asset{}, err
	}
	return updated, nil
}

// Transition moves an asset to a new lifecycle status. Retiring or
// disposing clears the assignee in the same commit.
func (s *Service) Transition(ctx context.Context, actor identity.Actor, id int64, to Status) (Asset, error) {
	var updated Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := AssertCanModify(actor, a); err != nil {
			return err
		}
		old := map[string]any{"status": string(a.Status)}
		if a.Assignee != nil {
			old["assignee"] = a.Assignee.Username
		}
		if err := a.ApplyTransition(to, s.now()); err != nil {
			return err
		}
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		newValues := map[string]any{"status": string(a.Status)}
		if a.Assignee == nil {
			newValues["assignee"] = nil
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "ASSET_STATUS_CHANGED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(a.ID, 10),
			OldValues:    old,
			NewValues:    newValues,
		}, a.UpdatedAt)
		if err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return Asset{}, err
	}
	return updated, nil
}

// Assign hands the asset to another user.
func (s *Service) Assign(ctx context.Context, actor identity.Actor, id, assigneeID int64) (Asset, error) {
	target, err := s.users.Actor(ctx, assigneeID)
	if err != nil {
		return Asset{}, err
	}
	return s.assign(ctx, actor, id, target)
}

// AssignToSelf checks the asset out to the actor.
func (s *Service) AssignToSelf(ctx context.Context, actor identity.Actor, id int64) (Asset, error) {
	return s.assign(ctx, actor, id, actor)
}

func (s *Service) assign(ctx context.Context, actor identity.Actor, id int64, target identity.Actor) (Asset, error) {
	var updated Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Terminal() {
			return &TransitionError{From: a.Status, To: a.Status, Reason: "asset is out of service"}
		}
		if err := AssertCanAssign(actor, a, target); err != nil {
			return err
		}
		if a.Assignee != nil && identity.Same(*a.Assignee, target) {
			return ErrAlreadyAssigned
		}
		old := assigneeValues(a.Assignee)
		assignee := target
		a.Assignee = &assignee
		a.UpdatedAt = s.now()
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "ASSET_ASSIGNED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(a.ID, 10),
			OldValues:    old,
			NewValues:    assigneeValues(a.Assignee),
		}, a.UpdatedAt)
		if err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return Asset{}, err
	}
	return updated, nil
}

// Unassign clears the assignee. The holder may return their own asset;
// anything else takes IT_ADMIN or above.
func (s *Service) Unassign(ctx context.Context, actor identity.Actor, id int64) (Asset, error) {
	var updated Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Assignee == nil {
			return fmt.Errorf("assets: not assigned: %w", shared.ErrConflict)
		}
		selfReturn := identity.Same(actor, *a.Assignee)
		if !selfReturn && roles.Rank(actor.Role) < roles.Rank(roles.ITAdmin) {
			return &authz.Error{Actor: actor.Username, Owner: a.Assignee.Username, Verb: "unassign"}
		}
		old := assigneeValues(a.Assignee)
		a.Assignee = nil
		a.UpdatedAt = s.now()
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "ASSET_UNASSIGNED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(a.ID, 10),
			OldValues:    old,
			NewValues:    assigneeValues(nil),
		}, a.UpdatedAt)
		if err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return Asset{}, err
	}
	return updated, nil
}

// AllocateSeat takes one license seat on a software asset. The seat
// count is re-read under the row lock so concurrent allocations cannot
// oversubscribe.
func (s *Service) AllocateSeat(ctx context.Context, actor identity.Actor, id int64) (Asset, error) {
	return s.adjustSeats(ctx, actor, id, "ASSET_SEAT_ALLOCATED", (*Asset).AllocateSeat)
}

// ReleaseSeat returns one license seat.
func (s *Service) ReleaseSeat(ctx context.Context, actor identity.Actor, id int64) (Asset, error) {
	return s.adjustSeats(ctx, actor, id, "ASSET_SEAT_RELEASED", (*Asset).ReleaseSeat)
}

func (s *Service) adjustSeats(ctx context.Context, actor identity.Actor, id int64, action string, apply func(*Asset) error) (Asset, error) {
	if !CanCreate(actor) {
		return Asset{}, authz.Denied(actor, "manage license seats")
	}
	var updated Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		old := map[string]any{"seats_used": a.SeatsUsed}
		if err := apply(&a); err != nil {
			return err
		}
		a.UpdatedAt = s.now()
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(a.ID, 10),
			OldValues:    old,
			NewValues:    map[string]any{"seats_used": a.SeatsUsed},
		}, a.UpdatedAt)
		if err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return Asset{}, err
	}
	return updated, nil
}

// Delete removes an asset. Holding it is not enough.
func (s *Service) Delete(ctx context.Context, actor identity.Actor, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := AssertCanDelete(actor, a); err != nil {
			return err
		}
		if err := tx.Delete(ctx, a.ID); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "ASSET_DELETED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(a.ID, 10),
			OldValues:    map[string]any{"tag": a.Tag, "name": a.Name, "status": string(a.Status)},
		}, s.now())
		return err
	})
}

func assigneeValues(a *identity.Actor) map[string]any {
	if a == nil {
		return map[string]any{"assignee": nil}
	}
	return map[string]any{"assignee": a.Username, "assignee_id": a.ID}
}
