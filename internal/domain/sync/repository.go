package sync

import (
	"context"
	"encoding/json"
	"time"
)

// Repository журнал синхронизации: очередь, журнал операций, конфликты и настройки
type Repository interface {
	// Очередь исходящих изменений
	Enqueue(ctx context.Context, rec *SyncRecord) error
	ListPending(ctx context.Context, q PendingQuery) ([]*SyncRecord, error)
	ListRecords(ctx context.Context, q RecordQuery) ([]*SyncRecord, error)
	GetRecord(ctx context.Context, id string) (*SyncRecord, error)
	MarkStatus(ctx context.Context, upd StatusUpdate) error
	FindMutations(ctx context.Context, table, recordID string, statuses ...Status) ([]*SyncRecord, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	PurgeSynced(ctx context.Context, olderThan time.Time) (int64, error)

	// Журнал операций
	AppendLog(ctx context.Context, entry *SyncLogEntry) error
	ListLog(ctx context.Context, q LogQuery) ([]*SyncLogEntry, error)
	LastInboundSync(ctx context.Context) (time.Time, error)

	// Конфликты
	SaveConflict(ctx context.Context, c *SyncConflict) error
	ListConflicts(ctx context.Context, unresolvedOnly bool) ([]*SyncConflict, error)
	GetConflict(ctx context.Context, id int64) (*SyncConflict, error)
	ResolveConflict(ctx context.Context, id int64, resolution Resolution, merged json.RawMessage, resolvedBy string) error

	// Настройки
	LoadConfig(ctx context.Context) (Config, error)
	SaveConfig(ctx context.Context, cfg Config) error
}

// LocalStore локальные бизнес-таблицы
type LocalStore interface {
	ApplyChange(ctx context.Context, table, recordID string, action Action, data json.RawMessage) error
	GetRecord(ctx context.Context, table, recordID string) (json.RawMessage, error)
}

// RemoteClient клиент удаленного API. Конфигурация передается снимком на каждый вызов.
type RemoteClient interface {
	Health(ctx context.Context, cfg Config) error
	Upload(ctx context.Context, cfg Config, rec *SyncRecord) (*RemoteResult, error)
	Download(ctx context.Context, cfg Config, since time.Time, limit int) (*ChangesPage, error)
}
