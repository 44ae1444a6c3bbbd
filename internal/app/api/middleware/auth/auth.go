package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Permission право на группу операций
type Permission string

const (
	PermSyncRead        Permission = "sync:read"
	PermSyncWrite       Permission = "sync:write"
	PermConfigWrite     Permission = "config:write"
	PermResourcesRead   Permission = "resources:read"
	PermResourcesWrite  Permission = "resources:write"
	PermConnectionWrite Permission = "connection:write"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("permission denied")
)

// Principal владелец токена
type Principal struct {
	ID     string
	ShopID string
}

// Authorizer проверяет токен и право на операцию
type Authorizer interface {
	HasPermission(ctx context.Context, token string, perm Permission) (Principal, error)
}

type Auth struct {
	authz Authorizer
	log   *slog.Logger
}

func New(authz Authorizer, log *slog.Logger) *Auth {
	return &Auth{
		authz: authz,
		log:   log.With(slog.String("component", "auth_middleware")),
	}
}

type contextKey string

const principalKey contextKey = "principal"

// BearerToken извлекает токен из заголовка Authorization
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// Middleware требует Bearer-токен с правом perm
func (a *Auth) Middleware(perm Permission) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		token, ok := BearerToken(ctx.Header("Authorization"))
		if !ok {
			a.log.Warn("missing bearer token", "path", ctx.URL().Path)
			a.deny(ctx, http.StatusUnauthorized, "Unauthorized")
			return
		}

		p, err := a.authz.HasPermission(ctx.Context(), token, perm)
		switch {
		case errors.Is(err, ErrForbidden):
			a.log.Warn("permission denied", "principal", p.ID, "permission", string(perm))
			a.deny(ctx, http.StatusForbidden, "Forbidden")
			return
		case err != nil:
			a.log.Warn("token rejected", "error", err)
			a.deny(ctx, http.StatusUnauthorized, "Unauthorized")
			return
		}

		newCtx := context.WithValue(ctx.Context(), principalKey, p)
		next(huma.WithContext(ctx, newCtx))
	}
}

func (a *Auth) deny(ctx huma.Context, status int, msg string) {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.SetStatus(status)

	if err := json.NewEncoder(ctx.BodyWriter()).Encode(map[string]string{"error": msg}); err != nil {
		a.log.Error("json encode", "error", err)
	}
}

// GetPrincipal возвращает владельца токена текущего запроса
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithPrincipal кладет владельца токена в контекст
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// StaticToken Authorizer с одним токеном, дающим все права
type StaticToken struct {
	Token string
	ID    string
}

func (s StaticToken) HasPermission(_ context.Context, token string, _ Permission) (Principal, error) {
	if s.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
		return Principal{}, ErrInvalidToken
	}
	id := s.ID
	if id == "" {
		id = "admin"
	}
	return Principal{ID: id}, nil
}
