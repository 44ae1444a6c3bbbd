package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/exp/slog"

	"shopsync/internal/domain/apikey"
)

type APIKeyRepository struct {
	db  *Storage
	log *slog.Logger
}

func NewAPIKeyRepository(db *Storage, log *slog.Logger) *APIKeyRepository {
	return &APIKeyRepository{
		db:  db,
		log: log,
	}
}

var _ apikey.Repository = (*APIKeyRepository)(nil)

func (r *APIKeyRepository) Create(ctx context.Context, key *apikey.APIKey) (int, error) {
	var id int
	err := r.db.Pool().QueryRow(ctx,
		`INSERT INTO api_keys (shop_id, key_prefix, key_hash, created_at)
         VALUES ($1, $2, $3, $4)
         RETURNING id`,
		key.ShopID, key.Prefix, key.Hash, key.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert api key: %w", err)
	}
	return id, nil
}

func (r *APIKeyRepository) FindByPrefix(ctx context.Context, prefix string) (*apikey.APIKey, error) {
	var key apikey.APIKey
	err := r.db.Pool().QueryRow(ctx,
		`SELECT id, shop_id, key_prefix, key_hash, created_at, revoked_at
         FROM api_keys WHERE key_prefix = $1`,
		prefix).Scan(&key.ID, &key.ShopID, &key.Prefix, &key.Hash, &key.CreatedAt, &key.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apikey.ErrNotFound
		}
		return nil, fmt.Errorf("find api key: %w", err)
	}
	return &key, nil
}

func (r *APIKeyRepository) Revoke(ctx context.Context, prefix string) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW()
         WHERE key_prefix = $1 AND revoked_at IS NULL`,
		prefix)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

// List ключи магазина; пустой shopID - все ключи
func (r *APIKeyRepository) List(ctx context.Context, shopID string) ([]apikey.APIKey, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT id, shop_id, key_prefix, key_hash, created_at, revoked_at
         FROM api_keys
         WHERE $1::text = '' OR shop_id = $1::text
         ORDER BY id`,
		shopID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]apikey.APIKey, 0)
	for rows.Next() {
		var key apikey.APIKey
		if err := rows.Scan(&key.ID, &key.ShopID, &key.Prefix, &key.Hash, &key.CreatedAt, &key.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
