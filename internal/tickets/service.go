package tickets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck/internal/audit"
	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
	"github.com/opsdeck/opsdeck/internal/shared"
)

const resourceType = "ticket"

// ErrAlreadyAssigned is returned when an assignment races or repeats.
var ErrAlreadyAssigned = fmt.Errorf("tickets: already assigned: %w", shared.ErrConflict)

// Directory resolves user IDs to identity snapshots for assignment.
type Directory interface {
	Actor(ctx context.Context, id int64) (identity.Actor, error)
}

// ListFilters narrows ticket listings.
type ListFilters struct {
	Status     Status
	Priority   Priority
	AssigneeID *int64
	Pagination shared.Pagination
}

// RepositoryPort abstracts ticket persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Ticket, error)
	List(ctx context.Context, f ListFilters) ([]Ticket, error)
	ListOverdue(ctx context.Context, now time.Time) ([]Ticket, error)
}

// TxRepository is the transactional slice of the port, carrying the
// audit sink so a mutation and its record share one commit.
type TxRepository interface {
	audit.Sink
	GetForUpdate(ctx context.Context, id int64) (Ticket, error)
	Insert(ctx context.Context, t Ticket) (Ticket, error)
	Update(ctx context.Context, t Ticket) error
	Delete(ctx context.Context, id int64) error
	FindRecordID(ctx context.Context, action, resourceID string) (*uuid.UUID, error)
}

// CreateTicketInput carries the fields for a new ticket.
type CreateTicketInput struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=4000"`
	Priority    Priority   `json:"priority"`
	SLADueAt    *time.Time `json:"sla_due_at"`
}

// Service applies ticket mutations under the ticket authority rules.
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

// Create opens a new ticket in NEW with the actor as creator.
func (s *Service) Create(ctx context.Context, actor identity.Actor, input CreateTicketInput) (Ticket, error) {
	if err := AssertCanView(actor); err != nil {
		return Ticket{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return Ticket{}, err
	}
	if input.Priority == "" {
		input.Priority = PriorityMedium
	}
	if !ValidPriority(input.Priority) {
		return Ticket{}, fmt.Errorf("tickets: unknown priority %q: %w", input.Priority, shared.ErrConflict)
	}
	var created Ticket
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		var err error
		created, err = tx.Insert(ctx, Ticket{
			Title:       input.Title,
			Description: input.Description,
			Status:      StatusNew,
			Priority:    input.Priority,
			Creator:     actor,
			SLADueAt:    input.SLADueAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "TICKET_CREATED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(created.ID, 10),
			NewValues:    map[string]any{"title": created.Title, "status": string(created.Status), "priority": string(created.Priority)},
		}, now)
		return err
	})
	if err != nil {
		return Ticket{}, err
	}
	return created, nil
}

// Get fetches one ticket.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id int64) (Ticket, error) {
	if err := AssertCanView(actor); err != nil {
		return Ticket{}, err
	}
	return s.repo.Get(ctx, id)
}

// List returns one page of tickets.
func (s *Service) List(ctx context.Context, actor identity.Actor, f ListFilters) ([]Ticket, error) {
	if err := AssertCanView(actor); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, f)
}

// Transition moves a ticket to a new status. The ticket state is
// re-read under a row lock so the transition validates against current
// state, and the audit record commits with the change.
func (s *Service) Transition(ctx context.Context, actor identity.Actor, id int64, to Status) (Ticket, error) {
	var updated Ticket
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := AssertCanModify(actor, t); err != nil {
			return err
		}
		old := map[string]any{"status": string(t.Status)}
		if err := t.ApplyTransition(actor, to, s.now()); err != nil {
			return err
		}
		if err := tx.Update(ctx, t); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "TICKET_STATUS_CHANGED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(t.ID, 10),
			OldValues:    old,
			NewValues:    map[string]any{"status": string(t.Status)},
		}, t.UpdatedAt)
		if err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}
	return updated, nil
}

// Assign sets the ticket's assignee. Assignment exclusivity is enforced
// inside the transaction: the current assignee is re-checked under the
// row lock, so a racing second assignment loses instead of overwriting.
func (s *Service) Assign(ctx context.Context, actor identity.Actor, id, assigneeID int64) (Ticket, error) {
	target, err := s.users.Actor(ctx, assigneeID)
	if err != nil {
		return Ticket{}, err
	}
	return s.assign(ctx, actor, id, target)
}

// AssignToSelf lets a technician pick up an unassigned ticket.
func (s *Service) AssignToSelf(ctx context.Context, actor identity.Actor, id int64) (Ticket, error) {
	return s.assign(ctx, actor, id, actor)
}

func (s *Service) assign(ctx context.Context, actor identity.Actor, id int64, target identity.Actor) (Ticket, error) {
	var updated Ticket
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t.Terminal() {
			return &TransitionError{From: t.Status, To: t.Status, Reason: "ticket is closed"}
		}
		if err := AssertCanAssign(actor, t, target); err != nil {
			return err
		}
		if t.Assignee != nil && identity.Same(*t.Assignee, target) {
			return ErrAlreadyAssigned
		}
		old := assigneeValues(t.Assignee)
		assignee := target
		t.Assignee = &assignee
		t.UpdatedAt = s.now()
		if err := tx.Update(ctx, t); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "TICKET_ASSIGNED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(t.ID, 10),
			OldValues:    old,
			NewValues:    assigneeValues(t.Assignee),
		}, t.UpdatedAt)
		if err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}
	return updated, nil
}

// Unassign clears the assignee. The assignee may drop their own ticket;
// anything else takes IT_ADMIN or above.
func (s *Service) Unassign(ctx context.Context, actor identity.Actor, id int64) (Ticket, error) {
	var updated Ticket
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t.Assignee == nil {
			return fmt.Errorf("tickets: not assigned: %w", shared.ErrConflict)
		}
		selfDrop := identity.Same(actor, *t.Assignee)
		if !selfDrop && roles.Rank(actor.Role) < roles.Rank(roles.ITAdmin) {
			return &authz.Error{Actor: actor.Username, Owner: t.Assignee.Username, Verb: "unassign"}
		}
		old := assigneeValues(t.Assignee)
		t.Assignee = nil
		t.UpdatedAt = s.now()
		if err := tx.Update(ctx, t); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "TICKET_UNASSIGNED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(t.ID, 10),
			OldValues:    old,
			NewValues:    assigneeValues(nil),
		}, t.UpdatedAt)
		if err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}
	return updated, nil
}

// ChangePriority sets the ticket priority, IT_ADMIN and above only.
func (s *Service) ChangePriority(ctx context.Context, actor identity.Actor, id int64, p Priority) (Ticket, error) {
	if err := AssertCanChangePriority(actor); err != nil {
		return Ticket{}, err
	}
	if !ValidPriority(p) {
		return Ticket{}, fmt.Errorf("tickets: unknown priority %q: %w", p, shared.ErrConflict)
	}
	var updated Ticket
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t.Priority == p {
			return fmt.Errorf("tickets: priority is already %s: %w", p, shared.ErrConflict)
		}
		old := t.Priority
		t.Priority = p
		t.UpdatedAt = s.now()
		if err := tx.Update(ctx, t); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "TICKET_PRIORITY_CHANGED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(t.ID, 10),
			OldValues:    map[string]any{"priority": string(old)},
			NewValues:    map[string]any{"priority": string(p)},
		}, t.UpdatedAt)
		if err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}
	return updated, nil
}

// Delete removes a ticket under the generic delete rule.
func (s *Service) Delete(ctx context.Context, actor identity.Actor, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := AssertCanDelete(actor, t); err != nil {
			return err
		}
		if err := tx.Delete(ctx, t.ID); err != nil {
			return err
		}
		_, err = audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "TICKET_DELETED",
			ResourceType: resourceType,
			ResourceID:   strconv.FormatInt(t.ID, 10),
			OldValues:    map[string]any{"title": t.Title, "status": string(t.Status)},
		}, s.now())
		return err
	})
}

// ListOverdue returns unresolved tickets past their SLA due time that
// have not yet been flagged.
func (s *Service) ListOverdue(ctx context.Context) ([]Ticket, error) {
	return s.repo.ListOverdue(ctx, s.now())
}

// MarkSLABreached flags an overdue ticket and emits the breach chain:
// a breach record parented to the ticket's creation record, and for
// HIGH priority and up an escalation record parented to the breach.
// The system actor owns both records.
func (s *Service) MarkSLABreached(ctx context.Context, id int64) ([]audit.Record, error) {
	actor := identity.SystemActor()
	var emitted []audit.Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t.SLABreached {
			return fmt.Errorf("tickets: already flagged: %w", shared.ErrConflict)
		}
		if t.Status == StatusResolved || t.Terminal() {
			return fmt.Errorf("tickets: no longer open: %w", shared.ErrConflict)
		}
		t.SLABreached = true
		t.UpdatedAt = s.now()
		if err := tx.Update(ctx, t); err != nil {
			return err
		}
		ticketID := strconv.FormatInt(t.ID, 10)
		parent, err := tx.FindRecordID(ctx, "TICKET_CREATED", ticketID)
		if err != nil {
			return err
		}
		breach, err := audit.Emit(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       "SLA_BREACHED",
			ResourceType: resourceType,
			ResourceID:   ticketID,
			OldValues:    map[string]any{"sla_breached": false},
			NewValues:    map[string]any{"sla_breached": true},
			ParentID:     parent,
		}, t.UpdatedAt)
		if err != nil {
			return err
		}
		emitted = append(emitted, breach)
		if PriorityWeight(t.Priority) >= PriorityWeight(PriorityHigh) {
			escalation, err := audit.Emit(ctx, tx, audit.Entry{
				Actor:        actor,
				Action:       "SLA_ESCALATED",
				ResourceType: resourceType,
				ResourceID:   ticketID,
				NewValues:    map[string]any{"priority": string(t.Priority)},
				ParentID:     &breach.ID,
			}, t.UpdatedAt)
			if err != nil {
				return err
			}
			emitted = append(emitted, escalation)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return emitted, nil
}

func assigneeValues(a *identity.Actor) map[string]any {
	if a == nil {
		return map[string]any{"assignee": nil}
	}
	return map[string]any{"assignee": a.Username, "assignee_id": a.ID}
}
