package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/exp/slog"

	"shopsync/internal/infrastructure/migration"
)

// timeLayout фиксированной ширины, чтобы строки сравнивались как время
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Storage локальная база клиента. Один писатель: все запросы идут через одно соединение.
type Storage struct {
	db  *sql.DB
	log *slog.Logger
}

// New открывает базу по пути path и применяет миграции
func New(path string, log *slog.Logger) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("ошибка создания каталога базы данных: %w", err)
		}
	}

	if err := migration.NewMigration(migration.SQLite, "sqlite3://"+path, migration.DefaultEngine).Up(); err != nil {
		return nil, fmt.Errorf("ошибка применения миграций: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	log.Debug("local database opened", "path", path)

	return &Storage{db: db, log: log}, nil
}

// Query выполняет параметризованный запрос
func (s *Storage) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// Exec выполняет параметризованную команду
func (s *Storage) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// Get выполняет запрос, возвращающий одну строку
func (s *Storage) Get(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// на случай значений, записанных вручную
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
