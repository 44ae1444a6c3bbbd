package api

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopsync/internal/app/api/middleware/auth"
	"shopsync/internal/domain/apikey"
)

type stubKeys map[string]error

func (s stubKeys) Verify(_ context.Context, token string) (*apikey.APIKey, error) {
	err, ok := s[token]
	if !ok {
		return nil, apikey.ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}
	return &apikey.APIKey{ID: 1, ShopID: "shop-1", Prefix: "abc123"}, nil
}

func TestKeyAuthorizer(t *testing.T) {
	keys := stubKeys{
		"abc123.good":    nil,
		"abc123.revoked": apikey.ErrRevoked,
		"abc123.broken":  errors.New("db down"),
	}
	a := NewKeyAuthorizer(keys)
	ctx := context.Background()

	p, err := a.HasPermission(ctx, "abc123.good", auth.PermResourcesWrite)
	require.NoError(t, err)
	assert.Equal(t, auth.Principal{ID: "key:abc123", ShopID: "shop-1"}, p)

	_, err = a.HasPermission(ctx, "abc123.good", auth.PermConfigWrite)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = a.HasPermission(ctx, "abc123.revoked", auth.PermSyncRead)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = a.HasPermission(ctx, "nope", auth.PermSyncRead)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = a.HasPermission(ctx, "abc123.broken", auth.PermSyncRead)
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrInvalidToken)
}

func TestChain(t *testing.T) {
	chain := Chain{
		auth.StaticToken{Token: "root", ID: "admin"},
		NewKeyAuthorizer(stubKeys{"abc123.good": nil}),
	}
	ctx := context.Background()

	p, err := chain.HasPermission(ctx, "root", auth.PermConfigWrite)
	require.NoError(t, err)
	assert.Equal(t, "admin", p.ID)
	assert.Empty(t, p.ShopID)

	p, err = chain.HasPermission(ctx, "abc123.good", auth.PermSyncRead)
	require.NoError(t, err)
	assert.Equal(t, "shop-1", p.ShopID)

	_, err = chain.HasPermission(ctx, "unknown", auth.PermSyncRead)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = Chain{}.HasPermission(ctx, "root", auth.PermSyncRead)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
