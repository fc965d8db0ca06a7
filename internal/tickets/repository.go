package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdeck/opsdeck/internal/audit"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/platform/db"
	"github.com/opsdeck/opsdeck/internal/roles"
	"github.com/opsdeck/opsdeck/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn against a transactional repository.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, TxSink: audit.NewTxSink(tx)})
	})
}

const selectTicket = `
	SELECT t.id, t.title, t.description, t.status, t.priority,
	       c.id, c.username, c.role,
	       a.id, a.username, a.role,
	       t.sla_due_at, t.sla_breached, t.resolved_at, t.closed_at,
	       t.created_at, t.updated_at
	FROM tickets t
	JOIN users c ON c.id = t.creator_id
	LEFT JOIN users a ON a.id = t.assignee_id`

// Get fetches one ticket with its identity snapshots.
func (r *Repository) Get(ctx context.Context, id int64) (Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, selectTicket+` WHERE t.id = $1`, id))
}

// List returns one page of tickets, newest first.
func (r *Repository) List(ctx context.Context, f ListFilters) ([]Ticket, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		conds = append(conds, "t.status = "+arg(string(f.Status)))
	}
	if f.Priority != "" {
		conds = append(conds, "t.priority = "+arg(string(f.Priority)))
	}
	if f.AssigneeID != nil {
		conds = append(conds, "t.assignee_id = "+arg(*f.AssigneeID))
	}
	query := selectTicket
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY t.created_at DESC"
	query += " LIMIT " + arg(f.Pagination.PageSize) + " OFFSET " + arg(f.Pagination.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

// ListOverdue returns open tickets past their SLA due time that are not
// yet flagged.
func (r *Repository) ListOverdue(ctx context.Context, now time.Time) ([]Ticket, error) {
	rows, err := r.pool.Query(ctx, selectTicket+`
		WHERE t.sla_due_at IS NOT NULL
		  AND t.sla_due_at < $1
		  AND NOT t.sla_breached
		  AND t.status NOT IN ('RESOLVED', 'CLOSED', 'CANCELLED')
		ORDER BY t.sla_due_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

type txRepository struct {
	tx pgx.Tx
	*audit.TxSink
}

// GetForUpdate fetches a ticket with its row locked for the transaction.
func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Ticket, error) {
	return scanTicket(r.tx.QueryRow(ctx, selectTicket+` WHERE t.id = $1 FOR UPDATE OF t`, id))
}

// Insert persists a new ticket and returns it with its assigned ID.
func (r *txRepository) Insert(ctx context.Context, t Ticket) (Ticket, error) {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO tickets (title, description, status, priority, creator_id, assignee_id,
		                     sla_due_at, sla_breached, resolved_at, closed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		t.Title, t.Description, string(t.Status), string(t.Priority), t.Creator.ID, assigneeID(t.Assignee),
		t.SLADueAt, t.SLABreached, t.ResolvedAt, t.ClosedAt, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// Update persists the mutable fields of a ticket.
func (r *txRepository) Update(ctx context.Context, t Ticket) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE tickets
		SET title = $2, description = $3, status = $4, priority = $5, assignee_id = $6,
		    sla_due_at = $7, sla_breached = $8, resolved_at = $9, closed_at = $10, updated_at = $11
		WHERE id = $1`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), assigneeID(t.Assignee),
		t.SLADueAt, t.SLABreached, t.ResolvedAt, t.ClosedAt, t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes a ticket row.
func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindRecordID locates the earliest audit record for an action on a
// ticket, used to parent SLA breach chains. Absence is not an error.
func (r *txRepository) FindRecordID(ctx context.Context, action, resourceID string) (*uuid.UUID, error) {
	var idStr string
	err := r.tx.QueryRow(ctx, `
		SELECT id FROM audit_records
		WHERE action = $1 AND resource_type = $2 AND resource_id = $3
		ORDER BY at ASC LIMIT 1`,
		action, resourceType, resourceID,
	).Scan(&idStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("tickets: parse audit record id: %w", err)
	}
	return &id, nil
}

func assigneeID(a *identity.Actor) *int64 {
	if a == nil {
		return nil
	}
	return &a.ID
}

func collectTickets(rows pgx.Rows) ([]Ticket, error) {
	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTicket(row pgx.Row) (Ticket, error) {
	var (
		t           Ticket
		status      string
		priority    string
		creatorRole string
		aID         *int64
		aUsername   *string
		aRole       *string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &status, &priority,
		&t.Creator.ID, &t.Creator.Username, &creatorRole,
		&aID, &aUsername, &aRole,
		&t.SLADueAt, &t.SLABreached, &t.ResolvedAt, &t.ClosedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ticket{}, shared.ErrNotFound
		}
		return Ticket{}, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	t.Creator.Role = roles.Role(creatorRole)
	t.Creator.Kind = identity.KindUser
	if aID != nil {
		assignee := identity.NewActor(*aID, *aUsername, roles.Role(*aRole))
		t.Assignee = &assignee
	}
	return t, nil
}
