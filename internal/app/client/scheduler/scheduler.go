package scheduler

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/exp/slog"

	"shopsync/internal/domain/sync"
)

// Syncer запускает цикл синхронизации
type Syncer interface {
	Sync(ctx context.Context) (*sync.CycleResult, error)
}

// Scheduler запускает синхронизацию по расписанию и по требованию.
// Start, Stop и Reconfigure выполняются под одним мьютексом.
type Scheduler struct {
	syncer   Syncer
	log      *slog.Logger
	interval func(sync.Config) time.Duration

	mu       gosync.Mutex
	cron     *cron.Cron
	entryID  cron.EntryID
	ctx      context.Context
	running  bool
	current  time.Duration
	enabled  bool
	inflight gosync.WaitGroup
}

type Option func(*Scheduler)

// WithInterval переопределяет расчет интервала из настроек
func WithInterval(fn func(sync.Config) time.Duration) Option {
	return func(s *Scheduler) { s.interval = fn }
}

func New(syncer Syncer, log *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		syncer:   syncer,
		log:      log,
		interval: sync.Config.Interval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start запускает планировщик с текущими настройками
func (s *Scheduler) Start(ctx context.Context, cfg sync.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.ctx = ctx
	s.cron = cron.New(cron.WithLogger(cronLogger{log: s.log}))
	s.cron.Start()
	s.running = true

	return s.apply(cfg)
}

// Stop снимает задание и останавливает планировщик. Идущий цикл дорабатывает.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}
	stopCtx := s.cron.Stop()
	s.running = false
	s.mu.Unlock()

	<-stopCtx.Done()
	s.log.Info("sync scheduler stopped")
}

// Reconfigure пересоздает задание под новые настройки
func (s *Scheduler) Reconfigure(cfg sync.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	return s.apply(cfg)
}

// OnConfigChange подписчик sync.Holder
func (s *Scheduler) OnConfigChange(old, next sync.Config) {
	if old.SyncIntervalMinutes == next.SyncIntervalMinutes && old.AutoSyncEnabled == next.AutoSyncEnabled {
		return
	}
	if err := s.Reconfigure(next); err != nil {
		s.log.Error("failed to reconfigure sync scheduler", "error", err)
	}
}

// SyncNow запускает цикл немедленно
func (s *Scheduler) SyncNow(ctx context.Context) (*sync.CycleResult, error) {
	return s.syncer.Sync(ctx)
}

// Trigger запускает цикл в фоне; занятость движка не считается ошибкой
func (s *Scheduler) Trigger(reason string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.run(ctx, reason)
	}()
}

// Wait ждет фоновые циклы, запущенные через Trigger
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Scheduled активно ли периодическое задание
func (s *Scheduler) Scheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.entryID != 0
}

// Next время следующего запуска по расписанию
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// apply вызывается под s.mu
func (s *Scheduler) apply(cfg sync.Config) error {
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}

	s.enabled = cfg.AutoSyncEnabled
	if !cfg.AutoSyncEnabled {
		s.log.Info("auto sync disabled")
		return nil
	}

	interval := s.interval(cfg)
	if interval <= 0 {
		return fmt.Errorf("invalid sync interval %s", interval)
	}

	ctx := s.ctx
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.run(ctx, "schedule")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}

	s.entryID = id
	s.current = interval
	s.log.Info("sync scheduled", "interval", interval)
	return nil
}

func (s *Scheduler) run(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}

	s.log.Debug("sync triggered", "reason", reason)

	_, err := s.syncer.Sync(ctx)
	switch {
	case errors.Is(err, sync.ErrSyncInProgress):
		s.log.Debug("sync skipped, cycle already running", "reason", reason)
	case err != nil:
		s.log.Error("sync cycle failed", "reason", reason, "error", err)
	}
}

// cronLogger адаптер логгера cron к slog
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Interval текущий интервал и признак включенного автозапуска
func (s *Scheduler) Interval() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.enabled
}
