package users

import (
	"context"
	"errors"

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

const selectUser = `
	SELECT id, username, email, full_name, role, is_active, created_at, updated_at
	FROM users`

// Get fetches a user by ID.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
}

// GetByUsername fetches a user by username.
func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE username = $1`, username))
}

// Actor resolves a user ID to an acting identity. Inactive users are
// not valid assignment targets and resolve to shared.ErrNotFound.
func (r *Repository) Actor(ctx context.Context, id int64) (identity.Actor, error) {
	var (
		username string
		role     string
		active   bool
	)
	err := r.pool.QueryRow(ctx, `SELECT username, role, is_active FROM users WHERE id = $1`, id).
		Scan(&username, &role, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.Actor{}, shared.ErrNotFound
		}
		return identity.Actor{}, err
	}
	if !active {
		return identity.Actor{}, shared.ErrNotFound
	}
	return identity.NewActor(id, username, roles.Role(role)), nil
}

// List returns one page of users ordered by ID.
func (r *Repository) List(ctx context.Context, p shared.Pagination) ([]User, error) {
	rows, err := r.pool.Query(ctx, selectUser+` ORDER BY id LIMIT $1 OFFSET $2`, p.PageSize, p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
	*audit.TxSink
}

// GetForUpdate fetches a user with a row lock held for the transaction.
func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (User, error) {
	return scanUser(r.tx.QueryRow(ctx, selectUser+` WHERE id = $1 FOR UPDATE`, id))
}

// Insert persists a new user and returns it with its assigned ID.
func (r *txRepository) Insert(ctx context.Context, u User, passwordHash string) (User, error) {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO users (username, email, full_name, role, is_active, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		u.Username, u.Email, u.FullName, string(u.Role), u.IsActive, passwordHash, u.CreatedAt, u.UpdatedAt,
	).Scan(&u.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, shared.ErrConflict
		}
		return User{}, err
	}
	return u, nil
}

// Update persists the mutable fields of a user.
func (r *txRepository) Update(ctx context.Context, u User) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE users
		SET email = $2, full_name = $3, role = $4, is_active = $5, updated_at = $6
		WHERE id = $1`,
		u.ID, u.Email, u.FullName, string(u.Role), u.IsActive, u.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes a user row.
func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}
