package server

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
	"shopsync/internal/app/server/api"
	"shopsync/internal/app/server/config"
	"shopsync/internal/app/server/realtime"
	"shopsync/internal/domain/apikey"
	"shopsync/internal/domain/resource"
	"shopsync/internal/infrastructure/storage/postgres"
)

// App сервер магазина: Postgres, ресурсы, API-ключи, realtime-хаб и HTTP API
type App struct {
	config *config.Config
	log    *slog.Logger

	storage   *postgres.Storage
	keys      *apikey.Service
	resources *resource.Service
	hub       *realtime.Hub
	handler   http.Handler

	mu       gosync.Mutex
	server   *http.Server
	listener net.Listener
	wg       gosync.WaitGroup
}

// New подключается к базе (с миграциями) и собирает зависимости
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	storage, err := postgres.New(ctx, cfg.DB.DatabaseURI, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе: %w", err)
	}

	keys := apikey.NewService(postgres.NewAPIKeyRepository(storage, log), log)

	authz := api.Chain{}
	if cfg.Server.AdminToken != "" {
		authz = append(authz, auth.StaticToken{Token: cfg.Server.AdminToken, ID: "admin"})
	}
	authz = append(authz, api.NewKeyAuthorizer(keys))

	hub := realtime.NewHub(authz, realtime.Config{Buffer: cfg.Server.RealtimeBuffer}, log)
	resources := resource.NewService(postgres.NewResourceRepository(storage, log), hub, log)

	handler := api.New(api.Deps{
		Resources:   resources,
		DB:          storage,
		Authorizer:  authz,
		Realtime:    hub,
		Subscribers: hub,
	}, log)

	return &App{
		config:    cfg,
		log:       log,
		storage:   storage,
		keys:      keys,
		resources: resources,
		hub:       hub,
		handler:   handler,
	}, nil
}

// Keys сервис API-ключей
func (a *App) Keys() *apikey.Service {
	return a.keys
}

// Handler HTTP API
func (a *App) Handler() http.Handler {
	return a.handler
}

// Addr адрес после запуска
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Run слушает RunAddress до отмены ctx
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Server.RunAddress)
	if err != nil {
		return fmt.Errorf("ошибка запуска HTTP сервера: %w", err)
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.mu.Lock()
	a.server = srv
	a.listener = ln
	a.mu.Unlock()

	errc := make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	a.log.Info("Сервер запущен", "addr", ln.Addr().String(), "env", a.config.Env)

	select {
	case <-ctx.Done():
		a.log.Info("Остановка сервера")
	case err = <-errc:
		a.log.Error("HTTP server stopped", "error", err)
	}

	a.shutdown()
	return err
}

func (a *App) shutdown() {
	// websocket-соединения перехвачены у http.Server, Shutdown их не закрывает
	a.hub.Close()

	a.mu.Lock()
	srv := a.server
	a.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			a.log.Warn("HTTP server shutdown", "error", err)
		}
		cancel()
	}
	a.wg.Wait()
}

// Close закрывает пул соединений с базой
func (a *App) Close() error {
	return a.storage.Close()
}
