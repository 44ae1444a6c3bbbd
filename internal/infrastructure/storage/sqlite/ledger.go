package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"shopsync/internal/domain/sync"
)

const recordColumns = `seq, id, table_name, record_id, action, local_data, remote_data,
	status, error, retry_count, created_at, updated_at`

// SecretBox шифрует API-ключ в sync_config
type SecretBox interface {
	Seal(plaintext string) (string, error)
	Open(value string) (string, error)
}

// LedgerRepository журнал синхронизации в локальной базе
type LedgerRepository struct {
	st      *Storage
	secrets SecretBox
	now     func() time.Time
}

type LedgerOption func(*LedgerRepository)

// WithSecrets хранить API-ключ зашифрованным
func WithSecrets(box SecretBox) LedgerOption {
	return func(r *LedgerRepository) { r.secrets = box }
}

func NewLedgerRepository(st *Storage, opts ...LedgerOption) *LedgerRepository {
	r := &LedgerRepository{st: st, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ sync.Repository = (*LedgerRepository)(nil)

func (r *LedgerRepository) Enqueue(ctx context.Context, rec *sync.SyncRecord) error {
	res, err := r.st.Exec(ctx, `
		INSERT INTO sync_queue (id, table_name, record_id, action, local_data, remote_data,
		                        status, error, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Table, rec.RecordID, rec.Action, string(rec.LocalData), nullString(rec.RemoteData),
		rec.Status, rec.Error, rec.RetryCount, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("ошибка добавления записи в очередь: %w", err)
	}

	if seq, err := res.LastInsertId(); err == nil {
		rec.Seq = seq
	}
	return nil
}

func (r *LedgerRepository) ListPending(ctx context.Context, q sync.PendingQuery) ([]*sync.SyncRecord, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	rows, err := r.st.Query(ctx, `
		SELECT `+recordColumns+`
		FROM sync_queue
		WHERE status = 'pending'
		   OR (? AND status = 'failed' AND retry_count < ? AND updated_at <= ?)
		ORDER BY seq
		LIMIT ?
	`, q.IncludeFailed, q.MaxRetries, formatTime(q.FailedBefore), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки очереди: %w", err)
	}
	return scanRecords(rows)
}

func (r *LedgerRepository) ListRecords(ctx context.Context, q sync.RecordQuery) ([]*sync.SyncRecord, error) {
	var where []string
	var args []interface{}

	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	if q.Table != "" {
		where = append(where, "table_name = ?")
		args = append(args, q.Table)
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}

	query := "SELECT " + recordColumns + " FROM sync_queue"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := r.st.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки очереди: %w", err)
	}
	return scanRecords(rows)
}

func (r *LedgerRepository) GetRecord(ctx context.Context, id string) (*sync.SyncRecord, error) {
	rows, err := r.st.Query(ctx, "SELECT "+recordColumns+" FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записи очереди: %w", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, sync.ErrRecordNotFound
	}
	return recs[0], nil
}

// MarkStatus меняет статус, только если текущий статус допускает переход
func (r *LedgerRepository) MarkStatus(ctx context.Context, upd sync.StatusUpdate) error {
	from := sync.AllowedFrom(upd.To)
	if len(from) == 0 {
		return fmt.Errorf("%w: unknown status %q", sync.ErrInvalidTransition, upd.To)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []interface{}{upd.To, upd.Error, nullString(upd.RemoteData)}

	retryExpr := "retry_count"
	switch {
	case upd.ResetRetry:
		retryExpr = "0"
	case upd.IncrementRetry:
		retryExpr = "retry_count + 1"
	}

	args = append(args, formatTime(r.now()), upd.ID)
	for _, s := range from {
		args = append(args, s)
	}

	res, err := r.st.Exec(ctx, `
		UPDATE sync_queue
		SET status = ?, error = ?, remote_data = COALESCE(?, remote_data),
		    retry_count = `+retryExpr+`, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса записи %s: %w", upd.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := r.GetRecord(ctx, upd.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", sync.ErrInvalidTransition, current.Status, upd.To)
}

func (r *LedgerRepository) FindMutations(ctx context.Context, table, recordID string, statuses ...sync.Status) ([]*sync.SyncRecord, error) {
	query := "SELECT " + recordColumns + " FROM sync_queue WHERE table_name = ? AND record_id = ?"
	args := []interface{}{table, recordID}

	if len(statuses) > 0 {
		query += " AND status IN (" + strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",") + ")"
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += " ORDER BY seq"

	rows, err := r.st.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска мутаций %s/%s: %w", table, recordID, err)
	}
	return scanRecords(rows)
}

func (r *LedgerRepository) CountByStatus(ctx context.Context) (map[sync.Status]int, error) {
	rows, err := r.st.Query(ctx, "SELECT status, COUNT(*) FROM sync_queue GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета очереди: %w", err)
	}
	defer rows.Close()

	counts := make(map[sync.Status]int)
	for rows.Next() {
		var status sync.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *LedgerRepository) PurgeSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.st.Exec(ctx, "DELETE FROM sync_queue WHERE status = 'synced' AND updated_at < ?", formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки очереди: %w", err)
	}
	return res.RowsAffected()
}

func (r *LedgerRepository) AppendLog(ctx context.Context, e *sync.SyncLogEntry) error {
	res, err := r.st.Exec(ctx, `
		INSERT INTO sync_log (direction, table_name, record_id, action, status, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Direction, e.Table, e.RecordID, e.Action, e.Status, e.Duration.Milliseconds(), e.Error, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("ошибка записи журнала: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (r *LedgerRepository) ListLog(ctx context.Context, q sync.LogQuery) ([]*sync.SyncLogEntry, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	query := "SELECT id, direction, table_name, record_id, action, status, duration_ms, error, created_at FROM sync_log"
	var args []interface{}
	if q.Direction != "" {
		query += " WHERE direction = ?"
		args = append(args, q.Direction)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := r.st.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
	}
	defer rows.Close()

	var entries []*sync.SyncLogEntry
	for rows.Next() {
		var e sync.SyncLogEntry
		var durationMS int64
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Direction, &e.Table, &e.RecordID, &e.Action, &e.Status, &durationMS, &e.Error, &createdAt); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt, _ = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// LastInboundSync время последнего принятого удаленного изменения (курсор загрузки)
func (r *LedgerRepository) LastInboundSync(ctx context.Context) (time.Time, error) {
	var last sql.NullString
	err := r.st.Get(ctx, `
		SELECT MAX(created_at) FROM sync_log
		WHERE direction = 'inbound' AND status IN ('synced', 'conflict', 'skipped')
	`).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("ошибка чтения курсора загрузки: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return parseTime(last.String)
}

// SaveConflict создает конфликт; для уже открытого конфликта по записи обновляет удаленную версию
func (r *LedgerRepository) SaveConflict(ctx context.Context, c *sync.SyncConflict) error {
	var id int64
	err := r.st.Get(ctx, `
		INSERT INTO sync_conflicts (record_id, table_name, action, local_data, remote_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (table_name, record_id) WHERE resolution IS NULL
		DO UPDATE SET action = excluded.action,
		              remote_data = excluded.remote_data,
		              local_data = COALESCE(excluded.local_data, sync_conflicts.local_data)
		RETURNING id
	`, c.RecordID, c.Table, c.Action, nullString(c.LocalData), nullString(c.RemoteData), formatTime(c.CreatedAt)).Scan(&id)
	if err != nil {
		return fmt.Errorf("ошибка сохранения конфликта %s/%s: %w", c.Table, c.RecordID, err)
	}
	c.ID = id
	return nil
}

const conflictColumns = `id, record_id, table_name, action, local_data, remote_data,
	resolution, merged_data, resolved_by, resolved_at, created_at`

func (r *LedgerRepository) ListConflicts(ctx context.Context, unresolvedOnly bool) ([]*sync.SyncConflict, error) {
	query := "SELECT " + conflictColumns + " FROM sync_conflicts"
	if unresolvedOnly {
		query += " WHERE resolution IS NULL"
	}
	query += " ORDER BY id"

	rows, err := r.st.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки конфликтов: %w", err)
	}
	return scanConflicts(rows)
}

func (r *LedgerRepository) GetConflict(ctx context.Context, id int64) (*sync.SyncConflict, error) {
	rows, err := r.st.Query(ctx, "SELECT "+conflictColumns+" FROM sync_conflicts WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения конфликта: %w", err)
	}
	conflicts, err := scanConflicts(rows)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return nil, sync.ErrConflictNotFound
	}
	return conflicts[0], nil
}

// ResolveConflict помечает конфликт разрешенным ровно один раз
func (r *LedgerRepository) ResolveConflict(ctx context.Context, id int64, resolution sync.Resolution, merged json.RawMessage, resolvedBy string) error {
	res, err := r.st.Exec(ctx, `
		UPDATE sync_conflicts
		SET resolution = ?, merged_data = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND resolution IS NULL
	`, resolution, nullString(merged), resolvedBy, formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("ошибка разрешения конфликта %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	if _, err := r.GetConflict(ctx, id); err != nil {
		return err
	}
	return sync.ErrConflictResolved
}

func (r *LedgerRepository) LoadConfig(ctx context.Context) (sync.Config, error) {
	var cfg sync.Config
	var policy string
	err := r.st.Get(ctx, `
		SELECT remote_base_url, api_key, sync_interval_minutes, auto_sync_enabled,
		       conflict_resolution_policy, batch_size, retry_attempts, retry_delay_ms
		FROM sync_config WHERE id = 1
	`).Scan(&cfg.RemoteBaseURL, &cfg.APIKey, &cfg.SyncIntervalMinutes, &cfg.AutoSyncEnabled,
		&policy, &cfg.BatchSize, &cfg.RetryAttempts, &cfg.RetryDelayMS)
	if errors.Is(err, sql.ErrNoRows) {
		return sync.Config{}, sync.ErrConfigNotFound
	}
	if err != nil {
		return sync.Config{}, fmt.Errorf("ошибка чтения настроек синхронизации: %w", err)
	}
	cfg.ConflictPolicy = sync.Policy(policy)

	if r.secrets != nil {
		if cfg.APIKey, err = r.secrets.Open(cfg.APIKey); err != nil {
			return sync.Config{}, fmt.Errorf("ошибка расшифровки API-ключа: %w", err)
		}
	}
	return cfg, nil
}

func (r *LedgerRepository) SaveConfig(ctx context.Context, cfg sync.Config) error {
	apiKey := cfg.APIKey
	if r.secrets != nil {
		sealed, err := r.secrets.Seal(apiKey)
		if err != nil {
			return fmt.Errorf("ошибка шифрования API-ключа: %w", err)
		}
		apiKey = sealed
	}

	_, err := r.st.Exec(ctx, `
		INSERT INTO sync_config (id, remote_base_url, api_key, sync_interval_minutes, auto_sync_enabled,
		                         conflict_resolution_policy, batch_size, retry_attempts, retry_delay_ms, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_base_url = excluded.remote_base_url,
			api_key = excluded.api_key,
			sync_interval_minutes = excluded.sync_interval_minutes,
			auto_sync_enabled = excluded.auto_sync_enabled,
			conflict_resolution_policy = excluded.conflict_resolution_policy,
			batch_size = excluded.batch_size,
			retry_attempts = excluded.retry_attempts,
			retry_delay_ms = excluded.retry_delay_ms,
			updated_at = excluded.updated_at
	`, cfg.RemoteBaseURL, apiKey, cfg.SyncIntervalMinutes, cfg.AutoSyncEnabled,
		string(cfg.ConflictPolicy), cfg.BatchSize, cfg.RetryAttempts, cfg.RetryDelayMS, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("ошибка сохранения настроек синхронизации: %w", err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]*sync.SyncRecord, error) {
	defer rows.Close()

	var recs []*sync.SyncRecord
	for rows.Next() {
		var rec sync.SyncRecord
		var localData string
		var remoteData sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.Table, &rec.RecordID, &rec.Action, &localData, &remoteData,
			&rec.Status, &rec.Error, &rec.RetryCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения записи очереди: %w", err)
		}

		rec.LocalData = json.RawMessage(localData)
		if remoteData.Valid {
			rec.RemoteData = json.RawMessage(remoteData.String)
		}
		rec.CreatedAt, _ = parseTime(createdAt)
		rec.UpdatedAt, _ = parseTime(updatedAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func scanConflicts(rows *sql.Rows) ([]*sync.SyncConflict, error) {
	defer rows.Close()

	var conflicts []*sync.SyncConflict
	for rows.Next() {
		var c sync.SyncConflict
		var localData, remoteData, resolution, merged, resolvedBy, resolvedAt sql.NullString
		var createdAt string

		if err := rows.Scan(&c.ID, &c.RecordID, &c.Table, &c.Action, &localData, &remoteData,
			&resolution, &merged, &resolvedBy, &resolvedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения конфликта: %w", err)
		}

		if localData.Valid {
			c.LocalData = json.RawMessage(localData.String)
		}
		if remoteData.Valid {
			c.RemoteData = json.RawMessage(remoteData.String)
		}
		c.Resolution = sync.Resolution(resolution.String)
		if merged.Valid {
			c.MergedData = json.RawMessage(merged.String)
		}
		c.ResolvedBy = resolvedBy.String
		if resolvedAt.Valid {
			if t, err := parseTime(resolvedAt.String); err == nil {
				c.ResolvedAt = &t
			}
		}
		c.CreatedAt, _ = parseTime(createdAt)
		conflicts = append(conflicts, &c)
	}
	return conflicts, rows.Err()
}
