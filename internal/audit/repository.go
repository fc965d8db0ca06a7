package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/platform/db"
	"github.com/opsdeck/opsdeck/internal/roles"
	"github.com/opsdeck/opsdeck/internal/shared"
)

// Repository provides PostgreSQL backed persistence for audit records.
// The table grants INSERT and SELECT only; Update and Delete exist so
// that misuse fails loudly in code as well as at the database.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn with a Sink bound to a fresh transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Sink) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxSink(tx))
	})
}

// Update always fails: audit records are append-only.
func (r *Repository) Update(ctx context.Context, rec Record) error {
	return ErrImmutableRecord
}

// Delete always fails: audit records are append-only.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return ErrImmutableRecord
}

// Get fetches a single record.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := r.pool.QueryRow(ctx, selectRecord+` WHERE id = $1`, id.String())
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// Timeline lists records matching the filters, newest first.
func (r *Repository) Timeline(ctx context.Context, filters TimelineFilters) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filters.From.IsZero() {
		conds = append(conds, "at >= "+arg(filters.From))
	}
	if !filters.To.IsZero() {
		conds = append(conds, "at <= "+arg(filters.To))
	}
	if v := strings.TrimSpace(filters.Actor); v != "" {
		conds = append(conds, "actor_username = "+arg(v))
	}
	if v := strings.TrimSpace(filters.Action); v != "" {
		conds = append(conds, "action = "+arg(v))
	}
	if v := strings.TrimSpace(filters.ResourceType); v != "" {
		conds = append(conds, "resource_type = "+arg(v))
	}
	query := selectRecord
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY at DESC"
	if filters.LimitRows > 0 {
		query += " LIMIT " + arg(filters.LimitRows)
	}
	if filters.OffsetRows > 0 {
		query += " OFFSET " + arg(filters.OffsetRows)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// TxSink writes records inside an existing transaction. Domain
// repositories embed one so their mutation and its audit record share a
// commit.
type TxSink struct {
	tx pgx.Tx
}

// NewTxSink binds a sink to a transaction.
func NewTxSink(tx pgx.Tx) *TxSink {
	return &TxSink{tx: tx}
}

// InsertRecord persists one record.
func (s *TxSink) InsertRecord(ctx context.Context, rec Record) error {
	oldJSON, err := json.Marshal(rec.OldValues)
	if err != nil {
		return fmt.Errorf("audit: marshal old values: %w", err)
	}
	newJSON, err := json.Marshal(rec.NewValues)
	if err != nil {
		return fmt.Errorf("audit: marshal new values: %w", err)
	}
	var parent any
	if rec.ParentID != nil {
		parent = rec.ParentID.String()
	}
	_, err = s.tx.Exec(ctx, `
		INSERT INTO audit_records (
			id, actor_id, actor_username, actor_role, actor_type,
			action, resource_type, resource_id,
			old_values, new_values, parent_id, chain_depth, at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID.String(), rec.Actor.ID, rec.Actor.Username, string(rec.Actor.Role), string(rec.ActorType),
		rec.Action, rec.ResourceType, rec.ResourceID,
		oldJSON, newJSON, parent, rec.ChainDepth, rec.At,
	)
	return err
}

// RecordDepth returns the chain depth of an existing record.
func (s *TxSink) RecordDepth(ctx context.Context, id uuid.UUID) (int, error) {
	var depth int
	err := s.tx.QueryRow(ctx, `SELECT chain_depth FROM audit_records WHERE id = $1`, id.String()).Scan(&depth)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return depth, nil
}

const selectRecord = `
	SELECT id, actor_id, actor_username, actor_role, actor_type,
	       action, resource_type, resource_id,
	       old_values, new_values, parent_id, chain_depth, at
	FROM audit_records`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		idStr     string
		actorRole string
		actorType string
		oldJSON   []byte
		newJSON   []byte
		parentStr *string
		at        time.Time
		rec       Record
	)
	err := row.Scan(
		&idStr, &rec.Actor.ID, &rec.Actor.Username, &actorRole, &actorType,
		&rec.Action, &rec.ResourceType, &rec.ResourceID,
		&oldJSON, &newJSON, &parentStr, &rec.ChainDepth, &at,
	)
	if err != nil {
		return Record{}, err
	}
	rec.ID, err = uuid.Parse(idStr)
	if err != nil {
		return Record{}, fmt.Errorf("audit: parse record id: %w", err)
	}
	rec.Actor.Role = roles.Role(actorRole)
	rec.ActorType = kindFromString(actorType)
	if parentStr != nil {
		parent, err := uuid.Parse(*parentStr)
		if err != nil {
			return Record{}, fmt.Errorf("audit: parse parent id: %w", err)
		}
		rec.ParentID = &parent
	}
	if len(oldJSON) > 0 {
		if err := json.Unmarshal(oldJSON, &rec.OldValues); err != nil {
			return Record{}, fmt.Errorf("audit: unmarshal old values: %w", err)
		}
	}
	if len(newJSON) > 0 {
		if err := json.Unmarshal(newJSON, &rec.NewValues); err != nil {
			return Record{}, fmt.Errorf("audit: unmarshal new values: %w", err)
		}
	}
	rec.At = at.UTC()
	return rec, nil
}

func kindFromString(s string) identity.Kind {
	if s == string(identity.KindSystem) {
		return identity.KindSystem
	}
	return identity.KindUser
}
