package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/exp/slog"

	"shopsync/internal/domain/resource"
)

type ResourceRepository struct {
	db  *Storage
	log *slog.Logger
}

func NewResourceRepository(db *Storage, log *slog.Logger) *ResourceRepository {
	return &ResourceRepository{
		db:  db,
		log: log.With("component", "resource_repository"),
	}
}

var _ resource.Repository = (*ResourceRepository)(nil)

func (r *ResourceRepository) Get(ctx context.Context, kind resource.Kind, id string) (*resource.Resource, error) {
	const query = `
		SELECT kind, id, data, deleted, created_at, updated_at
		FROM resources
		WHERE kind = $1 AND id = $2 AND NOT deleted`

	var res resource.Resource
	var data []byte
	err := r.db.Pool().QueryRow(ctx, query, kind, id).Scan(
		&res.Kind, &res.ID, &data, &res.Deleted, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, resource.ErrNotFound
		}
		return nil, fmt.Errorf("get resource: %w", err)
	}
	res.Data = data

	return &res, nil
}

func (r *ResourceRepository) List(ctx context.Context, kind resource.Kind, limit, offset int) ([]resource.Resource, error) {
	const query = `
		SELECT kind, id, data, deleted, created_at, updated_at
		FROM resources
		WHERE kind = $1 AND NOT deleted
		ORDER BY updated_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Pool().Query(ctx, query, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	list := make([]resource.Resource, 0)
	for rows.Next() {
		var res resource.Resource
		var data []byte
		if err := rows.Scan(&res.Kind, &res.ID, &data, &res.Deleted, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		res.Data = data
		list = append(list, res)
	}

	return list, rows.Err()
}

// Create вставляет запись или воскрешает удаленную. Живая запись - ErrExists.
func (r *ResourceRepository) Create(ctx context.Context, res *resource.Resource) (*resource.Change, error) {
	const query = `
		INSERT INTO resources (kind, id, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (kind, id) DO UPDATE
			SET data = EXCLUDED.data, deleted = FALSE, created_at = NOW(), updated_at = NOW()
			WHERE resources.deleted
		RETURNING created_at, updated_at`

	var change *resource.Change
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, query, res.Kind, res.ID, string(res.Data)).Scan(&res.CreatedAt, &res.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return resource.ErrExists
		}
		if err != nil {
			return fmt.Errorf("insert resource: %w", err)
		}

		change, err = appendChange(ctx, tx, res.Kind, res.ID, resource.ActionCreate, res.Data)
		return err
	})
	if err != nil {
		return nil, err
	}

	return change, nil
}

func (r *ResourceRepository) Update(ctx context.Context, res *resource.Resource) (*resource.Change, error) {
	const query = `
		UPDATE resources
		SET data = $3::jsonb, updated_at = NOW()
		WHERE kind = $1 AND id = $2 AND NOT deleted
		RETURNING created_at, updated_at`

	var change *resource.Change
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, query, res.Kind, res.ID, string(res.Data)).Scan(&res.CreatedAt, &res.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return resource.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update resource: %w", err)
		}

		change, err = appendChange(ctx, tx, res.Kind, res.ID, resource.ActionUpdate, res.Data)
		return err
	})
	if err != nil {
		return nil, err
	}

	return change, nil
}

// Delete мягкое удаление: строка остается, чтобы повторный create мог ее воскресить
func (r *ResourceRepository) Delete(ctx context.Context, kind resource.Kind, id string) (*resource.Change, error) {
	const query = `
		UPDATE resources
		SET deleted = TRUE, updated_at = NOW()
		WHERE kind = $1 AND id = $2 AND NOT deleted`

	var change *resource.Change
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, kind, id)
		if err != nil {
			return fmt.Errorf("delete resource: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return resource.ErrNotFound
		}

		change, err = appendChange(ctx, tx, kind, id, resource.ActionDelete, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return change, nil
}

func (r *ResourceRepository) Changes(ctx context.Context, since time.Time, limit int) ([]resource.Change, error) {
	const query = `
		SELECT seq, kind, id, action, data, changed_at
		FROM resource_changes
		WHERE changed_at > $1
		ORDER BY changed_at, seq
		LIMIT $2`

	rows, err := r.db.Pool().Query(ctx, query, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	changes := make([]resource.Change, 0)
	for rows.Next() {
		var ch resource.Change
		var data []byte
		if err := rows.Scan(&ch.Seq, &ch.Kind, &ch.ID, &ch.Action, &data, &ch.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		ch.Data = data
		ch.ChangedAt = ch.ChangedAt.UTC()
		changes = append(changes, ch)
	}

	return changes, rows.Err()
}

func (r *ResourceRepository) Counts(ctx context.Context) (map[resource.Kind]int64, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT kind, COUNT(*) FROM resources WHERE NOT deleted GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count resources: %w", err)
	}
	defer rows.Close()

	counts := make(map[resource.Kind]int64)
	for rows.Next() {
		var kind resource.Kind
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[kind] = n
	}

	return counts, rows.Err()
}

func (r *ResourceRepository) LastChange(ctx context.Context) (*time.Time, error) {
	var last *time.Time
	if err := r.db.Pool().QueryRow(ctx, `SELECT MAX(changed_at) FROM resource_changes`).Scan(&last); err != nil {
		return nil, fmt.Errorf("last change: %w", err)
	}
	return last, nil
}

func (r *ResourceRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.log.Error("failed to commit", "error", err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func appendChange(ctx context.Context, tx pgx.Tx, kind resource.Kind, id string, action resource.Action, data []byte) (*resource.Change, error) {
	const query = `
		INSERT INTO resource_changes (kind, id, action, data)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING seq, changed_at`

	var payload interface{}
	if data != nil {
		payload = string(data)
	}

	ch := &resource.Change{Kind: kind, ID: id, Action: action, Data: data}
	if err := tx.QueryRow(ctx, query, kind, id, action, payload).Scan(&ch.Seq, &ch.ChangedAt); err != nil {
		return nil, fmt.Errorf("append change: %w", err)
	}
	ch.ChangedAt = ch.ChangedAt.UTC()

	return ch, nil
}
