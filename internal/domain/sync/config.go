package sync

import (
	"fmt"
	"net/url"
	gosync "sync"
	"sync/atomic"
	"time"
)

// Policy политика автоматического разрешения конфликтов
type Policy string

const (
	PolicyLocal  Policy = "local"
	PolicyRemote Policy = "remote"
	PolicyManual Policy = "manual"
)

func (p Policy) Valid() bool {
	switch p {
	case PolicyLocal, PolicyRemote, PolicyManual:
		return true
	}
	return false
}

// Config настройки синхронизации, хранятся в локальной базе
type Config struct {
	RemoteBaseURL       string `json:"remote_base_url" mapstructure:"remote_base_url"`
	APIKey              string `json:"api_key,omitempty" mapstructure:"api_key"`
	SyncIntervalMinutes int    `json:"sync_interval_minutes" mapstructure:"sync_interval_minutes"`
	AutoSyncEnabled     bool   `json:"auto_sync_enabled" mapstructure:"auto_sync_enabled"`
	ConflictPolicy      Policy `json:"conflict_resolution_policy" mapstructure:"conflict_resolution_policy"`
	BatchSize           int    `json:"batch_size" mapstructure:"batch_size"`
	RetryAttempts       int    `json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelayMS        int    `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		SyncIntervalMinutes: 5,
		AutoSyncEnabled:     true,
		ConflictPolicy:      PolicyLocal,
		BatchSize:           50,
		RetryAttempts:       3,
		RetryDelayMS:        5000,
	}
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// Authenticated есть ли учетные данные для удаленной стороны
func (c Config) Authenticated() bool {
	return c.APIKey != ""
}

// Redacted копия без секрета, для вывода
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "********"
	}
	return c
}

func (c Config) Validate() error {
	if c.RemoteBaseURL != "" {
		u, err := url.Parse(c.RemoteBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ValidationError{Field: "remote_base_url", Message: fmt.Sprintf("invalid url %q", c.RemoteBaseURL)}
		}
	}
	if c.SyncIntervalMinutes < 1 {
		return &ValidationError{Field: "sync_interval_minutes", Message: "must be at least 1"}
	}
	if !c.ConflictPolicy.Valid() {
		return &ValidationError{Field: "conflict_resolution_policy", Message: fmt.Sprintf("unknown policy %q", c.ConflictPolicy)}
	}
	if c.BatchSize < 1 {
		return &ValidationError{Field: "batch_size", Message: "must be at least 1"}
	}
	if c.RetryAttempts < 1 {
		return &ValidationError{Field: "retry_attempts", Message: "must be at least 1"}
	}
	if c.RetryDelayMS < 0 {
		return &ValidationError{Field: "retry_delay_ms", Message: "must not be negative"}
	}
	return nil
}

// Holder хранит текущую конфигурацию и уведомляет подписчиков об изменениях.
// Читатели получают снимок без блокировок.
type Holder struct {
	current atomic.Pointer[Config]

	mu   gosync.Mutex
	subs []func(old, new Config)
}

func NewHolder(cfg Config) *Holder {
	h := &Holder{}
	h.current.Store(&cfg)
	return h
}

// Snapshot возвращает копию текущей конфигурации
func (h *Holder) Snapshot() Config {
	return *h.current.Load()
}

// Subscribe регистрирует обработчик изменений
func (h *Holder) Subscribe(fn func(old, new Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}

// Store заменяет конфигурацию и синхронно вызывает подписчиков
func (h *Holder) Store(cfg Config) {
	h.mu.Lock()
	old := *h.current.Load()
	h.current.Store(&cfg)
	subs := make([]func(old, new Config), len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(old, cfg)
	}
}
