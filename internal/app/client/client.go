package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware/auth"
	"shopsync/internal/app/client/api"
	"shopsync/internal/app/client/config"
	"shopsync/internal/app/client/crypto"
	"shopsync/internal/app/client/monitor"
	"shopsync/internal/app/client/realtime"
	"shopsync/internal/app/client/remote"
	"shopsync/internal/app/client/scheduler"
	"shopsync/internal/domain/sync"
	"shopsync/internal/infrastructure/storage/sqlite"
	"shopsync/internal/utils/backoff"
)

const shutdownTimeout = 5 * time.Second

// App демон синхронизации: хранилище, движок, планировщик, realtime-канал, монитор и админский API
type App struct {
	config *config.Config
	log    *slog.Logger

	storage   *sqlite.Storage
	documents *sqlite.DocumentStore
	holder    *sync.Holder
	remote    *remote.Client
	service   *sync.Service
	scheduler *scheduler.Scheduler
	channel   *realtime.Channel
	monitor   *monitor.Monitor
	handler   http.Handler

	mu       gosync.Mutex
	server   *http.Server
	listener net.Listener
	wg       gosync.WaitGroup
}

type Option func(*options)

type options struct {
	httpClient *http.Client
	dialer     realtime.Dialer
}

// WithHTTPClient HTTP-клиент для удаленного API
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithDialer websocket-dialer для realtime-канала
func WithDialer(d realtime.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func New(cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	st, err := sqlite.New(cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}

	var ledgerOpts []sqlite.LedgerOption
	if cfg.KeyFile != "" {
		deviceKey, err := crypto.LoadOrCreateDeviceKey(cfg.KeyFile)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("ошибка загрузки ключа устройства: %w", err)
		}
		box, err := crypto.NewBox(deviceKey)
		crypto.ClearMemory(deviceKey)
		if err != nil {
			st.Close()
			return nil, err
		}
		ledgerOpts = append(ledgerOpts, sqlite.WithSecrets(box))
	}
	ledger := sqlite.NewLedgerRepository(st, ledgerOpts...)

	syncCfg, err := loadSyncConfig(context.Background(), ledger, cfg.Sync)
	if err != nil {
		st.Close()
		return nil, err
	}
	holder := sync.NewHolder(syncCfg)

	var remoteOpts []remote.Option
	if o.httpClient != nil {
		remoteOpts = append(remoteOpts, remote.WithHTTPClient(o.httpClient))
	}
	rc := remote.New(log, remoteOpts...)

	documents := sqlite.NewDocumentStore(st)
	service := sync.NewService(ledger, documents, rc, holder, log)

	sched := scheduler.New(service, log)
	holder.Subscribe(sched.OnConfigChange)

	rtCfg := realtime.DefaultConfig()
	rtCfg.URL = realtime.WebSocketURL(syncCfg.RemoteBaseURL)
	rtCfg.ShopID = cfg.ShopID
	rtCfg.Token = syncCfg.APIKey
	rtCfg.HeartbeatInterval = cfg.Realtime.Heartbeat
	rtCfg.Backoff = backoff.Policy{
		Base:        backoff.DefaultPolicy.Base,
		Max:         backoff.DefaultPolicy.Max,
		MaxAttempts: cfg.Realtime.MaxAttempts,
	}
	var rtOpts []realtime.Option
	if o.dialer != nil {
		rtOpts = append(rtOpts, realtime.WithDialer(o.dialer))
	}
	channel := realtime.New(rtCfg, log, rtOpts...)
	newEventBridge(service, sched, log).register(channel)

	var rtState monitor.RealtimeState
	if realtimeEnabled(cfg, syncCfg) {
		rtState = channel
	}
	mon := monitor.New(rc, rtState, holder, log, monitor.WithInterval(cfg.Monitor))

	service.OnCycleComplete(mon.OnCycleComplete)
	mon.Subscribe(func(online bool) {
		if online {
			sched.Trigger("connection restored")
		}
	})

	app := &App{
		config:    cfg,
		log:       log,
		storage:   st,
		documents: documents,
		holder:    holder,
		remote:    rc,
		service:   service,
		scheduler: sched,
		channel:   channel,
		monitor:   mon,
	}

	holder.Subscribe(app.onSyncConfigChange)

	var authz auth.Authorizer
	if cfg.AdminToken != "" {
		authz = auth.StaticToken{Token: cfg.AdminToken}
	}
	app.handler = api.New(api.Deps{
		Sync:       service,
		Schedule:   sched,
		Monitor:    mon,
		Realtime:   channel,
		Authorizer: authz,
	}, log)

	return app, nil
}

// loadSyncConfig читает сохраненные настройки. При первом запуске сохраняет настройки процесса.
// Пустые адрес и ключ в сохраненных настройках дополняются из настроек процесса.
func loadSyncConfig(ctx context.Context, repo sync.Repository, process sync.Config) (sync.Config, error) {
	stored, err := repo.LoadConfig(ctx)
	switch {
	case errors.Is(err, sync.ErrConfigNotFound):
		if err := repo.SaveConfig(ctx, process); err != nil {
			return sync.Config{}, fmt.Errorf("ошибка сохранения настроек синхронизации: %w", err)
		}
		return process, nil
	case err != nil:
		return sync.Config{}, fmt.Errorf("ошибка загрузки настроек синхронизации: %w", err)
	}

	changed := false
	if stored.RemoteBaseURL == "" && process.RemoteBaseURL != "" {
		stored.RemoteBaseURL = process.RemoteBaseURL
		changed = true
	}
	if stored.APIKey == "" && process.APIKey != "" {
		stored.APIKey = process.APIKey
		changed = true
	}
	if changed {
		if err := repo.SaveConfig(ctx, stored); err != nil {
			return sync.Config{}, fmt.Errorf("ошибка сохранения настроек синхронизации: %w", err)
		}
	}
	return stored, nil
}

func realtimeEnabled(cfg *config.Config, s sync.Config) bool {
	return cfg.Realtime.Enabled && cfg.ShopID != "" && s.RemoteBaseURL != ""
}

func (a *App) onSyncConfigChange(old, next sync.Config) {
	if old.RemoteBaseURL == next.RemoteBaseURL && old.APIKey == next.APIKey {
		return
	}
	a.channel.SetCredentials(realtime.WebSocketURL(next.RemoteBaseURL), a.config.ShopID, next.APIKey)
}

// Service движок синхронизации
func (a *App) Service() *sync.Service {
	return a.service
}

// Documents локальные таблицы
func (a *App) Documents() *sqlite.DocumentStore {
	return a.documents
}

// Handler админский API
func (a *App) Handler() http.Handler {
	return a.handler
}

// Addr адрес админского API после запуска
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Run запускает фоновые компоненты и блокируется до отмены ctx
func (a *App) Run(ctx context.Context) error {
	snapshot := a.holder.Snapshot()

	if err := a.scheduler.Start(ctx, snapshot); err != nil {
		return fmt.Errorf("ошибка запуска планировщика: %w", err)
	}

	if realtimeEnabled(a.config, snapshot) {
		a.channel.Start(ctx)
	} else {
		a.log.Info("realtime channel disabled")
	}

	a.monitor.Start(ctx)

	if a.config.Watch(func(next sync.Config) {
		if _, err := a.service.UpdateConfig(ctx, func(c *sync.Config) { *c = next }); err != nil {
			a.log.Error("config file change rejected", "error", err)
		}
	}) {
		a.log.Debug("watching config file")
	}

	if err := a.serve(); err != nil {
		a.shutdown()
		return err
	}

	a.log.Info("Клиент запущен",
		"admin", a.Addr(),
		"remote", snapshot.RemoteBaseURL,
		"env", a.config.Env,
		"auto_sync", snapshot.AutoSyncEnabled,
	)

	// первая синхронизация сразу после старта
	a.scheduler.Trigger("startup")

	<-ctx.Done()
	a.log.Info("Остановка клиента")
	a.shutdown()
	return nil
}

func (a *App) serve() error {
	ln, err := net.Listen("tcp", a.config.AdminAddress)
	if err != nil {
		return fmt.Errorf("ошибка запуска админского API: %w", err)
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.mu.Lock()
	a.server = srv
	a.listener = ln
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("admin API stopped", "error", err)
		}
	}()
	return nil
}

func (a *App) shutdown() {
	a.mu.Lock()
	srv := a.server
	a.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			a.log.Warn("admin API shutdown", "error", err)
		}
		cancel()
	}

	a.scheduler.Stop()
	a.scheduler.Wait()
	a.channel.Stop()
	a.monitor.Stop()
	a.wg.Wait()
}

// Close освобождает хранилище
func (a *App) Close() error {
	return a.storage.Close()
}
