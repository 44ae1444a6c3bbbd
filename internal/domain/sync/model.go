package sync

import (
	"encoding/json"
	"time"
)

// Action тип локальной мутации
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Status состояние записи в очереди исходящих изменений
type Status string

const (
	StatusPending  Status = "pending"
	StatusSyncing  Status = "syncing"
	StatusSynced   Status = "synced"
	StatusFailed   Status = "failed"
	StatusConflict Status = "conflict"
	StatusDead     Status = "dead"
)

// StatusSkipped только для журнала: входящее изменение, которое клиент не может применить
const StatusSkipped Status = "skipped"

func (s Status) Valid() bool {
	_, ok := allowedFrom[s]
	return ok
}

// allowedFrom целевой статус -> допустимые предыдущие
var allowedFrom = map[Status][]Status{
	StatusPending:  {StatusSyncing, StatusFailed, StatusConflict, StatusDead},
	StatusSyncing:  {StatusPending, StatusFailed},
	StatusSynced:   {StatusSyncing},
	StatusFailed:   {StatusSyncing},
	StatusDead:     {StatusSyncing, StatusFailed, StatusConflict},
	StatusConflict: {StatusPending, StatusFailed},
}

// AllowedFrom возвращает статусы, из которых можно перейти в to
func AllowedFrom(to Status) []Status {
	return allowedFrom[to]
}

// CanTransition проверяет переход from -> to
func CanTransition(from, to Status) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// SyncRecord одна локальная мутация, ожидающая отправки
type SyncRecord struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Table      string          `json:"table"`
	RecordID   string          `json:"record_id"`
	Action     Action          `json:"action"`
	LocalData  json.RawMessage `json:"local_data"`
	RemoteData json.RawMessage `json:"remote_data,omitempty"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Direction направление операции в журнале
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// SyncLogEntry запись журнала операций синхронизации
type SyncLogEntry struct {
	ID        int64         `json:"id"`
	Direction Direction     `json:"direction"`
	Table     string        `json:"table"`
	RecordID  string        `json:"record_id"`
	Action    Action        `json:"action"`
	Status    Status        `json:"status"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Resolution способ разрешения конфликта
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerge  Resolution = "merge"
)

func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLocal, ResolutionRemote, ResolutionMerge:
		return true
	}
	return false
}

// SyncConflict расхождение локальной и удаленной версии записи
type SyncConflict struct {
	ID         int64           `json:"id"`
	RecordID   string          `json:"record_id"`
	Table      string          `json:"table"`
	Action     Action          `json:"action"`
	LocalData  json.RawMessage `json:"local_data,omitempty"`
	RemoteData json.RawMessage `json:"remote_data,omitempty"`
	Resolution Resolution      `json:"resolution,omitempty"`
	MergedData json.RawMessage `json:"merged_data,omitempty"`
	ResolvedBy string          `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (c *SyncConflict) Resolved() bool {
	return c.Resolution != ""
}

// State фаза цикла синхронизации
type State string

const (
	StateIdle               State = "idle"
	StateUploading          State = "uploading"
	StateDownloading        State = "downloading"
	StateResolvingConflicts State = "resolving_conflicts"
)

// SyncError ошибка синхронизации
type SyncError struct {
	RecordID  string    `json:"record_id,omitempty"`
	Error     string    `json:"error"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
	Retry     int       `json:"retry"`
	Transport bool      `json:"transport,omitempty"`
}

// SyncStatus снимок состояния синхронизации для UI
type SyncStatus struct {
	IsRunning bool        `json:"is_running"`
	State     State       `json:"state"`
	LastSync  *time.Time  `json:"last_sync,omitempty"`
	Synced    int         `json:"synced"`
	Failed    int         `json:"failed"`
	Conflicts int         `json:"conflicts"`
	Pending   int         `json:"pending"`
	Errors    []SyncError `json:"errors"`
}

// SyncStats накопленная статистика синхронизации
type SyncStats struct {
	TotalSyncs      int       `json:"total_syncs"`
	LastSuccessful  time.Time `json:"last_successful"`
	LastFailed      time.Time `json:"last_failed"`
	TotalUploaded   int       `json:"total_uploaded"`
	TotalDownloaded int       `json:"total_downloaded"`
	TotalConflicts  int       `json:"total_conflicts"`
	TotalResolved   int       `json:"total_resolved"`
	TotalErrors     int       `json:"total_errors"`
	AvgSyncDuration float64   `json:"avg_sync_duration"`
}

// CycleResult результат одного цикла синхронизации
type CycleResult struct {
	Success    bool          `json:"success"`
	Uploaded   int           `json:"uploaded"`
	Failed     int           `json:"failed"`
	Dead       int           `json:"dead"`
	Downloaded int           `json:"downloaded"`
	Skipped    int           `json:"skipped"`
	Conflicts  int           `json:"conflicts"`
	Resolved   int           `json:"resolved"`
	Offline    bool          `json:"offline"`
	Errors     []SyncError   `json:"errors"`
	Duration   time.Duration `json:"duration"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
}

func (r *CycleResult) addError(recordID, op string, err error, retry int) {
	r.Errors = append(r.Errors, SyncError{
		RecordID:  recordID,
		Error:     err.Error(),
		Operation: op,
		Timestamp: time.Now(),
		Retry:     retry,
		Transport: IsRetryable(err),
	})
}

// NetworkFailed цикл завершился без связи с сервером или с сетевыми ошибками
func (r *CycleResult) NetworkFailed() bool {
	if r.Offline {
		return true
	}
	for _, e := range r.Errors {
		if e.Transport {
			return true
		}
	}
	return false
}
