package sync

import (
	"encoding/json"
	"time"
)

// EnqueueRequest запрос на постановку локальной мутации в очередь
type EnqueueRequest struct {
	Table   string          `json:"table" minLength:"1" doc:"Local table name"`
	Action  Action          `json:"action" enum:"create,update,delete"`
	Payload json.RawMessage `json:"payload,omitempty" doc:"Record as JSON object"`
	// ID необязательный, по умолчанию генерируется UUID
	ID string `json:"id,omitempty"`
}

// PendingQuery выборка записей для отправки
type PendingQuery struct {
	Limit         int
	IncludeFailed bool
	MaxRetries    int
	// FailedBefore failed-записи, обновленные позже, еще не готовы к повтору
	FailedBefore time.Time
}

// RecordQuery выборка записей очереди для просмотра
type RecordQuery struct {
	Status Status
	Table  string
	Limit  int
	Offset int
}

// StatusUpdate переход записи очереди в новый статус
type StatusUpdate struct {
	ID             string
	To             Status
	Error          string
	RemoteData     json.RawMessage
	IncrementRetry bool
	ResetRetry     bool
}

// LogQuery выборка журнала
type LogQuery struct {
	Direction Direction
	Limit     int
}

// Change изменение, полученное с удаленной стороны
type Change struct {
	Table     string          `json:"table"`
	RecordID  string          `json:"record_id"`
	Action    Action          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SkippedChange изменение ленты без локальной таблицы или с неизвестным действием
type SkippedChange struct {
	Resource  string
	RecordID  string
	Action    Action
	Reason    string
	Timestamp time.Time
}

// ChangesPage страница ленты изменений
type ChangesPage struct {
	Changes []Change
	Skipped []SkippedChange
	HasMore bool
}

// RemoteResult ответ удаленной стороны на отправку мутации
type RemoteResult struct {
	StatusCode int
	Data       json.RawMessage
}

// ResolveRequest ручное разрешение конфликта
type ResolveRequest struct {
	Resolution Resolution      `json:"resolution" enum:"local,remote,merge"`
	MergedData json.RawMessage `json:"merged_data,omitempty"`
	ResolvedBy string          `json:"resolved_by,omitempty"`
}
