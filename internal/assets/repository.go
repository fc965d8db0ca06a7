package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

const selectAsset = `
	SELECT a.id, a.tag, a.name, a.category, a.status,
	       r.id, r.username, r.role,
	       u.id, u.username, u.role,
	       a.license_seats, a.seats_used, a.created_at, a.updated_at
	FROM assets a
	JOIN users r ON r.id = a.registered_by
	LEFT JOIN users u ON u.id = a.assignee_id`

// Get fetches one asset with its identity snapshots.
func (r *Repository) Get(ctx context.Context, id int64) (Asset, error) {
	return scanAsset(r.pool.QueryRow(ctx, selectAsset+` WHERE a.id = $1`, id))
}

// List returns one page of assets ordered by tag.
func (r *Repository) List(ctx context.Context, f ListFilters) ([]Asset, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		conds = append(conds, "a.status = "+arg(string(f.Status)))
	}
	if f.Category != "" {
		conds = append(conds, "a.category = "+arg(string(f.Category)))
	}
	if f.AssigneeID != nil {
		conds = append(conds, "a.assignee_id = "+arg(*f.AssigneeID))
	}
	query := selectAsset
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY a.tag"
	query += " LIMIT " + arg(f.Pagination.PageSize) + " OFFSET " + arg(f.Pagination.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
	*audit.TxSink
}

// GetForUpdate fetches an asset with its row locked for the transaction.
func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Asset, error) {
	return scanAsset(r.tx.QueryRow(ctx, selectAsset+` WHERE a.id = $1 FOR UPDATE OF a`, id))
}

// Insert persists a new asset and returns it with its assigned ID.
func (r *txRepository) Insert(ctx context.Context, a Asset) (Asset, error) {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO assets (tag, name, category, status, registered_by, assignee_id,
		                    license_seats, seats_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		a.Tag, a.Name, string(a.Category), string(a.Status), a.RegisteredBy.ID, assigneeID(a.Assignee),
		a.LicenseSeats, a.SeatsUsed, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Asset{}, shared.ErrConflict
		}
		return Asset{}, err
	}
	return a, nil
}

// Update persists the mutable fields of an asset.
func (r *txRepository) Update(ctx context.Context, a Asset) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE assets
		SET name = $2, status = $3, assignee_id = $4, license_seats = $5, seats_used = $6, updated_at = $7
		WHERE id = $1`,
		a.ID, a.Name, string(a.Status), assigneeID(a.Assignee), a.LicenseSeats, a.SeatsUsed, a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes an asset row.
func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func assigneeID(a *identity.Actor) *int64 {
	if a == nil {
		return nil
	}
	return &a.ID
}

func scanAsset(row pgx.Row) (Asset, error) {
	var (
		a         Asset
		category  string
		status    string
		regRole   string
		aID       *int64
		aUsername *string
		aRole     *string
	)
	err := row.Scan(
		&a.ID, &a.Tag, &a.Name, &category, &status,
		&a.RegisteredBy.ID, &a.RegisteredBy.Username, &regRole,
		&aID, &aUsername, &aRole,
		&a.LicenseSeats, &a.SeatsUsed, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Asset{}, shared.ErrNotFound
		}
		return Asset{}, err
	}
	a.Category = Category(category)
	a.Status = Status(status)
	a.RegisteredBy.Role = roles.Role(regRole)
	a.RegisteredBy.Kind = identity.KindUser
	if aID != nil {
		assignee := identity.NewActor(*aID, *aUsername, roles.Role(*aRole))
		a.Assignee = &assignee
	}
	return a, nil
}
