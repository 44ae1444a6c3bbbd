package sync

import (
	"encoding/json"
	"time"

	"shopsync/internal/domain/sync"
)

type statusOutput struct {
	Body StatusResponse
}

type StatusResponse struct {
	Status  sync.SyncStatus `json:"status"`
	Stats   sync.SyncStats  `json:"stats"`
	NextRun *time.Time      `json:"next_run,omitempty" doc:"Next scheduled cycle, absent when auto sync is off"`
}

type runOutput struct {
	Body *sync.CycleResult
}

type queueInput struct {
	Status string `query:"status" doc:"Filter by status: pending, syncing, synced, failed, conflict, dead"`
	Table  string `query:"table" doc:"Filter by local table"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"1000"`
	Offset int    `query:"offset" minimum:"0"`
}

type queueOutput struct {
	Body []*sync.SyncRecord
}

type enqueueInput struct {
	Body EnqueueRequest
}

type EnqueueRequest struct {
	Table   string          `json:"table" minLength:"1" doc:"Local table name"`
	Action  sync.Action     `json:"action" enum:"create,update,delete"`
	Payload json.RawMessage `json:"payload,omitempty" doc:"Record as JSON object"`
	ID      string          `json:"id,omitempty" doc:"Queue entry id, generated when empty"`
	Apply   bool            `json:"apply,omitempty" doc:"Also write the change to the local table"`
}

type enqueueOutput struct {
	Body EnqueueResponse
}

type EnqueueResponse struct {
	ID     string      `json:"id"`
	Status sync.Status `json:"status"`
}

type retryInput struct {
	ID string `path:"id" doc:"Queue entry id"`
}

type retryOutput struct {
	Body EnqueueResponse
}

type purgeInput struct {
	OlderThanHours int `query:"older_than_hours" default:"24" minimum:"0" doc:"Delete synced entries older than this"`
}

type purgeOutput struct {
	Body PurgeResponse
}

type PurgeResponse struct {
	Deleted int64 `json:"deleted"`
}

type logInput struct {
	Direction string `query:"direction" doc:"outbound or inbound"`
	Limit     int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
}

type logOutput struct {
	Body []*sync.SyncLogEntry
}

type configOutput struct {
	Body sync.Config
}

type configUpdateInput struct {
	Body ConfigPatch
}

// ConfigPatch частичное изменение настроек; отсутствующие поля не меняются
type ConfigPatch struct {
	RemoteBaseURL       *string `json:"remote_base_url,omitempty"`
	APIKey              *string `json:"api_key,omitempty"`
	SyncIntervalMinutes *int    `json:"sync_interval_minutes,omitempty"`
	AutoSyncEnabled     *bool   `json:"auto_sync_enabled,omitempty"`
	ConflictPolicy      *string `json:"conflict_resolution_policy,omitempty" enum:"local,remote,manual"`
	BatchSize           *int    `json:"batch_size,omitempty"`
	RetryAttempts       *int    `json:"retry_attempts,omitempty"`
	RetryDelayMS        *int    `json:"retry_delay_ms,omitempty"`
}

// Apply переносит заданные поля в cfg
func (p ConfigPatch) Apply(cfg *sync.Config) {
	if p.RemoteBaseURL != nil {
		cfg.RemoteBaseURL = *p.RemoteBaseURL
	}
	if p.APIKey != nil {
		cfg.APIKey = *p.APIKey
	}
	if p.SyncIntervalMinutes != nil {
		cfg.SyncIntervalMinutes = *p.SyncIntervalMinutes
	}
	if p.AutoSyncEnabled != nil {
		cfg.AutoSyncEnabled = *p.AutoSyncEnabled
	}
	if p.ConflictPolicy != nil {
		cfg.ConflictPolicy = sync.Policy(*p.ConflictPolicy)
	}
	if p.BatchSize != nil {
		cfg.BatchSize = *p.BatchSize
	}
	if p.RetryAttempts != nil {
		cfg.RetryAttempts = *p.RetryAttempts
	}
	if p.RetryDelayMS != nil {
		cfg.RetryDelayMS = *p.RetryDelayMS
	}
}

type conflictsInput struct {
	All bool `query:"all" doc:"Include resolved conflicts"`
}

type conflictsOutput struct {
	Body []*sync.SyncConflict
}

type resolveInput struct {
	ID   int64 `path:"id"`
	Body sync.ResolveRequest
}

type resolveOutput struct {
	Body *sync.SyncConflict
}
