package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"shopsync/internal/infrastructure/migration"
)

// Storage база эталонного сервера
type Storage struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New применяет миграции и открывает пул соединений
func New(ctx context.Context, databaseURI string, log *slog.Logger) (*Storage, error) {
	if err := migration.NewMigration(migration.Postgres, databaseURI, migration.DefaultEngine).Up(); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURI)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Storage{pool: pool, log: log}, nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping для health-проверки
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
