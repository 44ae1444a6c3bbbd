package apikey

import "context"

type Repository interface {
	Create(ctx context.Context, key *APIKey) (int, error)
	FindByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	Revoke(ctx context.Context, prefix string) error
	List(ctx context.Context, shopID string) ([]APIKey, error)
}
