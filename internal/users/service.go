package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdeck/opsdeck/internal/audit"
	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/platform/cache"
	"github.com/opsdeck/opsdeck/internal/roles"
	"github.com/opsdeck/opsdeck/internal/shared"
)

const resourceType = "user"

// RepositoryPort abstracts persistence for account management.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	List(ctx context.Context, p shared.Pagination) ([]User, error)
}

// TxRepository is the transactional slice of the port. It carries the
// audit sink so a mutation and its record share one commit.
type TxRepository interface {
	audit.Sink
	GetForUpdate(ctx context.Context, id int64) (User, error)
	Insert(ctx context.Context, u User, passwordHash string) (User, error)
	Update(ctx context.Context, u User) error
	Delete(ctx context.Context, id int64) error
}

// CreateUserInput carries the fields for a new account.
type CreateUserInput struct {
	Username string     `json:"username" validate:"required,min=3,max=64"`
	Email    string     `json:"email" validate:"required,email"`
	FullName string     `json:"full_name" validate:"required,max=128"`
	Role     roles.Role `json:"role" validate:"required"`
	Password string     `json:"password" validate:"required,min=8"`
}

// UpdateUserInput carries the editable profile fields.
type UpdateUserInput struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required,max=128"`
}

// Service applies account mutations under the user authority rules.
type Service struct {
	repo     RepositoryPort
	perms    *cache.Cache
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds a Service. perms may be nil to disable the
// permission cache.
func NewService(repo RepositoryPort, perms *cache.Cache) *Service {
	return &Service{
		repo:     repo,
		perms:    perms,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new account. Only IT_ADMIN and above may create
// users, and never with a role at or above their own rank.
func (s *Service) Create(ctx context.Context, actor identity.Actor, input CreateUserInput) (User, error) {
	if err := s.validate.Struct(input); err != nil {
		return User{}, err
	}
	if !roles.Valid(input.Role) {
		return User{}, fmt.Errorf("users: unknown role %q: %w", input.Role, shared.ErrConflict)
	}
	if roles.Rank(actor.Role) < roles.Rank(roles.ITAdmin) {
		return User{}, authz.Denied(actor, "create users")
	}
	if roles.Rank(input.Role) >= roles.Rank(actor.Role) {
		return User{}, authz.Denied(actor, fmt.Sprintf("create a user with role %s", input.Role))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	var created User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		created, err = tx.Insert(ctx, User{
			Username:  input.Username,
			Email:     input.Email,
			FullName:  input.FullName,
			Role:      input.Role,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}, string(hash))
		if err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "USER_CREATED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(created.ID, 10),
			NewValues:    map[string]any{"username": created.Username, "role": string(created.Role)},
		}, now)
		return err
	})
	if err != nil {
		return User{}, err
	}
	return created, nil
}

// Get fetches a user the actor is allowed to view.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id int64) (User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := AssertCanView(actor, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// List returns the page of users visible to the actor.
func (s *Service) List(ctx context.Context, actor identity.Actor, p shared.Pagination) ([]User, error) {
	all, err := s.repo.List(ctx, p)
	if err != nil {
		return nil, err
	}
	visible := make([]User, 0, len(all))
	for _, u := range all {
		if CanView(actor, u) {
			visible = append(visible, u)
		}
	}
	return visible, nil
}

// Update edits a target's profile fields.
func (s *Service) Update(ctx context.Context, actor identity.Actor, id int64, input UpdateUserInput) (User, error) {
	if err := s.validate.Struct(input); err != nil {
		return User{}, err
	}
	var updated User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := AssertCanUpdate(actor, user); err != nil {
			return err
		}
		old := map[string]any{"email": user.Email, "full_name": user.FullName}
		user.Email = input.Email
		user.FullName = input.FullName
		user.UpdatedAt = s.now()
		if err := tx.Update(ctx, user); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "USER_UPDATED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(user.ID, 10),
			OldValues:    old,
			NewValues:    map[string]any{"email": user.Email, "full_name": user.FullName},
		}, user.UpdatedAt)
		if err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		return User{}, err
	}
	s.invalidatePermissions(ctx, actor.ID, id)
	return updated, nil
}

// ChangeRole sets a target's role under the escalation rules.
func (s *Service) ChangeRole(ctx context.Context, actor identity.Actor, id int64, newRole roles.Role) (User, error) {
	if !roles.Valid(newRole) {
		return User{}, fmt.Errorf("users: unknown role %q: %w", newRole, shared.ErrConflict)
	}
	var updated User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := AssertCanChangeRole(actor, user, newRole); err != nil {
			return err
		}
		if user.Role == newRole {
			return fmt.Errorf("users: role is already %s: %w", newRole, shared.ErrConflict)
		}
		oldRole := user.Role
		user.Role = newRole
		user.UpdatedAt = s.now()
		if err := tx.Update(ctx, user); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "USER_ROLE_CHANGED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(user.ID, 10),
			OldValues:    map[string]any{"role": string(oldRole)},
			NewValues:    map[string]any{"role": string(newRole)},
		}, user.UpdatedAt)
		if err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		return User{}, err
	}
	s.invalidatePermissions(ctx, actor.ID, id)
	return updated, nil
}

// Deactivate disables a target account.
func (s *Service) Deactivate(ctx context.Context, actor identity.Actor, id int64) (User, error) {
	return s.setActive(ctx, actor, id, false)
}

// Activate re-enables a target account under the deactivation rules.
func (s *Service) Activate(ctx context.Context, actor identity.Actor, id int64) (User, error) {
	return s.setActive(ctx, actor, id, true)
}

func (s *Service) setActive(ctx context.Context, actor identity.Actor, id int64, active bool) (User, error) {
	action := "USER_DEACTIVATED"
	if active {
		action = "USER_ACTIVATED"
	}
	var updated User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := AssertCanDeactivate(actor, user); err != nil {
			return err
		}
		if user.IsActive == active {
			return fmt.Errorf("users: account already in requested state: %w", shared.ErrConflict)
		}
		user.IsActive = active
		user.UpdatedAt = s.now()
		if err := tx.Update(ctx, user); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(user.ID, 10),
			OldValues:    map[string]any{"is_active": !active},
			NewValues:    map[string]any{"is_active": active},
		}, user.UpdatedAt)
		if err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		return User{}, err
	}
	s.invalidatePermissions(ctx, actor.ID, id)
	return updated, nil
}

// Delete removes an account. Only SUPERADMIN may delete users.
func (s *Service) Delete(ctx context.Context, actor identity.Actor, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := AssertCanDelete(actor, user); err != nil {
			return err
		}
		if err := tx.Delete(ctx, user.ID); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "USER_DELETED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(user.ID, 10),
			OldValues:    map[string]any{"username": user.Username, "role": string(user.Role)},
		}, s.now())
		return err
	})
	if err != nil {
		return err
	}
	s.invalidatePermissions(ctx, actor.ID, id)
	return nil
}

// Permissions returns the capability flags for actor over target. The
// result is cached briefly; mutations invalidate the acting pair and the
// TTL bounds staleness for other viewers.
func (s *Service) Permissions(ctx context.Context, actor identity.Actor, targetID int64) (PermissionSet, error) {
	key := permissionKey(actor.ID, targetID)
	var set PermissionSet
	if err := s.perms.Get(ctx, key, &set); err == nil {
		return set, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		return PermissionSet{}, err
	}
	target, err := s.repo.Get(ctx, targetID)
	if err != nil {
		return PermissionSet{}, err
	}
	set = Permissions(actor, target)
	if err := s.perms.Set(ctx, key, set); err != nil {
		return PermissionSet{}, err
	}
	return set, nil
}

func (s *Service) invalidatePermissions(ctx context.Context, actorID, targetID int64) {
	_ = s.perms.Delete(ctx, permissionKey(actorID, targetID), permissionKey(targetID, actorID))
}

func permissionKey(actorID, targetID int64) string {
	return fmt.Sprintf("users:perm:%d:%d", actorID, targetID)
}
