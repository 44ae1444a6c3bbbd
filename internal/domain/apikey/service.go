package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"
)

const (
	prefixBytes = 6
	secretBytes = 32
	// cacheTTL сколько помним успешную проверку, чтобы не гонять bcrypt на каждый запрос
	cacheTTL = 5 * time.Minute
)

type Servicer interface {
	Issue(ctx context.Context, shopID string) (string, *APIKey, error)
	Verify(ctx context.Context, token string) (*APIKey, error)
	Revoke(ctx context.Context, prefix string) error
	List(ctx context.Context, shopID string) ([]APIKey, error)
}

type cached struct {
	key     APIKey
	expires time.Time
}

type Service struct {
	repo Repository
	log  *slog.Logger
	cost int

	mu    gosync.Mutex
	cache map[string]cached
	now   func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		log:   log.With("component", "apikey_service"),
		cost:  bcrypt.DefaultCost,
		cache: make(map[string]cached),
		now:   time.Now,
	}
}

// Issue создает ключ вида <prefix>.<secret>. Токен возвращается один раз.
func (s *Service) Issue(ctx context.Context, shopID string) (string, *APIKey, error) {
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return "", nil, ErrEmptyShop
	}

	prefix, err := randomString(prefixBytes, hex.EncodeToString)
	if err != nil {
		return "", nil, fmt.Errorf("generate prefix: %w", err)
	}
	secret, err := randomString(secretBytes, base64.RawURLEncoding.EncodeToString)
	if err != nil {
		return "", nil, fmt.Errorf("generate secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", nil, fmt.Errorf("hash secret: %w", err)
	}

	key := &APIKey{ShopID: shopID, Prefix: prefix, Hash: string(hash), CreatedAt: s.now().UTC()}
	id, err := s.repo.Create(ctx, key)
	if err != nil {
		return "", nil, fmt.Errorf("save api key: %w", err)
	}
	key.ID = id

	s.log.Info("api key issued", "shop_id", shopID, "prefix", prefix)
	return prefix + "." + secret, key, nil
}

// Verify проверяет токен и возвращает ключ
func (s *Service) Verify(ctx context.Context, token string) (*APIKey, error) {
	prefix, secret, ok := strings.Cut(token, ".")
	if !ok || prefix == "" || secret == "" {
		return nil, ErrInvalidKey
	}

	digest := tokenDigest(token)
	if key, ok := s.fromCache(digest); ok {
		return key, nil
	}

	key, err := s.repo.FindByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("find api key: %w", err)
	}
	if key.Revoked() {
		return nil, ErrRevoked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(secret)); err != nil {
		return nil, ErrInvalidKey
	}

	s.mu.Lock()
	s.cache[digest] = cached{key: *key, expires: s.now().Add(cacheTTL)}
	s.mu.Unlock()

	return key, nil
}

func (s *Service) Revoke(ctx context.Context, prefix string) error {
	if err := s.repo.Revoke(ctx, prefix); err != nil {
		return err
	}

	s.mu.Lock()
	for digest, c := range s.cache {
		if c.key.Prefix == prefix {
			delete(s.cache, digest)
		}
	}
	s.mu.Unlock()

	s.log.Info("api key revoked", "prefix", prefix)
	return nil
}

func (s *Service) List(ctx context.Context, shopID string) ([]APIKey, error) {
	return s.repo.List(ctx, shopID)
}

func (s *Service) fromCache(digest string) (*APIKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cache[digest]
	if !ok {
		return nil, false
	}
	if s.now().After(c.expires) {
		delete(s.cache, digest)
		return nil, false
	}
	key := c.key
	return &key, true
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomString(n int, encode func([]byte) string) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return encode(b), nil
}
