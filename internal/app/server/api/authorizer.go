package api

import (
	"context"
	"errors"
	"fmt"

	"shopsync/internal/app/api/middleware/auth"
	"shopsync/internal/domain/apikey"
)

// KeyVerifier проверяет API-ключ магазина
type KeyVerifier interface {
	Verify(ctx context.Context, token string) (*apikey.APIKey, error)
}

// shopPermissions права ключа магазина
var shopPermissions = map[auth.Permission]bool{
	auth.PermResourcesRead:  true,
	auth.PermResourcesWrite: true,
	auth.PermSyncRead:       true,
}

// KeyAuthorizer Authorizer по API-ключам магазинов
type KeyAuthorizer struct {
	keys KeyVerifier
}

func NewKeyAuthorizer(keys KeyVerifier) *KeyAuthorizer {
	return &KeyAuthorizer{keys: keys}
}

func (a *KeyAuthorizer) HasPermission(ctx context.Context, token string, perm auth.Permission) (auth.Principal, error) {
	key, err := a.keys.Verify(ctx, token)
	switch {
	case errors.Is(err, apikey.ErrInvalidKey), errors.Is(err, apikey.ErrRevoked), errors.Is(err, apikey.ErrNotFound):
		return auth.Principal{}, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	case err != nil:
		return auth.Principal{}, err
	}

	p := auth.Principal{ID: "key:" + key.Prefix, ShopID: key.ShopID}
	if !shopPermissions[perm] {
		return p, auth.ErrForbidden
	}
	return p, nil
}

// Chain пробует Authorizer по очереди, пока токен не будет опознан
type Chain []auth.Authorizer

func (c Chain) HasPermission(ctx context.Context, token string, perm auth.Permission) (auth.Principal, error) {
	err := auth.ErrInvalidToken
	for _, a := range c {
		var p auth.Principal
		p, err = a.HasPermission(ctx, token, perm)
		if !errors.Is(err, auth.ErrInvalidToken) {
			return p, err
		}
	}
	return auth.Principal{}, err
}
