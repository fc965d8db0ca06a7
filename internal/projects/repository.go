package projects

import (
	"context"
	"errors"
	"time"

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

const selectProject = `
	SELECT p.id, p.name, p.description, l.id, l.username, l.role,
	       p.archived, p.created_at, p.updated_at
	FROM projects p
	JOIN users l ON l.id = p.lead_id`

// Get fetches one project.
func (r *Repository) Get(ctx context.Context, id int64) (Project, error) {
	return scanProject(r.pool.QueryRow(ctx, selectProject+` WHERE p.id = $1`, id))
}

// List returns one page of projects ordered by name.
func (r *Repository) List(ctx context.Context, p shared.Pagination) ([]Project, error) {
	rows, err := r.pool.Query(ctx, selectProject+` ORDER BY p.name LIMIT $1 OFFSET $2`, p.PageSize, p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		proj, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, proj)
	}
	return out, rows.Err()
}

// Members lists a project's membership.
func (r *Repository) Members(ctx context.Context, projectID int64) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.project_id, u.id, u.username, u.role, m.added_at
		FROM project_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.project_id = $1
		ORDER BY m.added_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Member
	for rows.Next() {
		var (
			m    Member
			role string
		)
		if err := rows.Scan(&m.ProjectID, &m.User.ID, &m.User.Username, &role, &m.AddedAt); err != nil {
			return nil, err
		}
		m.User.Role = roles.Role(role)
		m.User.Kind = identity.KindUser
		out = append(out, m)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
	*audit.TxSink
}

// GetForUpdate fetches a project with its row locked for the transaction.
func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Project, error) {
	return scanProject(r.tx.QueryRow(ctx, selectProject+` WHERE p.id = $1 FOR UPDATE OF p`, id))
}

// Insert persists a new project and returns it with its assigned ID.
func (r *txRepository) Insert(ctx context.Context, p Project) (Project, error) {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO projects (name, description, lead_id, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		p.Name, p.Description, p.Lead.ID, p.Archived, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

// Update persists the mutable fields of a project.
func (r *txRepository) Update(ctx context.Context, p Project) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE projects
		SET name = $2, description = $3, archived = $4, updated_at = $5
		WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Archived, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes a project row.
func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AddMember attaches a user; duplicates conflict.
func (r *txRepository) AddMember(ctx context.Context, projectID, userID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO project_members (project_id, user_id, added_at)
		VALUES ($1, $2, $3)`, projectID, userID, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.ErrConflict
		}
		return err
	}
	return nil
}

// RemoveMember detaches a user; absence is not found.
func (r *txRepository) RemoveMember(ctx context.Context, projectID, userID int64) error {
	tag, err := r.tx.Exec(ctx, `
		DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanProject(row pgx.Row) (Project, error) {
	var (
		p        Project
		leadRole string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Lead.ID, &p.Lead.Username, &leadRole,
		&p.Archived, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, shared.ErrNotFound
		}
		return Project{}, err
	}
	p.Lead.Role = roles.Role(leadRole)
	p.Lead.Kind = identity.KindUser
	return p, nil
}
