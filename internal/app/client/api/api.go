// Локальный админский API демона синхронизации. Слушает loopback.
//
//GET   /api/v1/health                    # Состояние демона (публичный)
//GET   /api/v1/sync/status               # Состояние и статистика
//POST  /api/v1/sync/run                  # Запустить цикл
//GET   /api/v1/sync/queue                # Очередь исходящих изменений
//POST  /api/v1/sync/queue                # Поставить мутацию в очередь
//POST  /api/v1/sync/queue/{id}/retry     # Повторить failed/dead запись
//DELETE /api/v1/sync/queue               # Удалить старые synced записи
//GET   /api/v1/sync/log                  # Журнал
//GET   /api/v1/sync/config               # Настройки
//PATCH /api/v1/sync/config               # Изменить настройки
//GET   /api/v1/conflicts                 # Конфликты
//POST  /api/v1/conflicts/{id}/resolve    # Разрешить конфликт
//GET   /api/v1/connection                # Состояние соединения
//POST  /api/v1/connection/resume         # Возобновить мониторинг
//POST  /api/v1/connection/reconnect      # Переподключить realtime

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware"
	"shopsync/internal/app/api/middleware/auth"
	"shopsync/internal/app/api/middleware/logger"
	connectionAPI "shopsync/internal/app/client/api/http/connection"
	healthAPI "shopsync/internal/app/client/api/http/health"
	syncAPI "shopsync/internal/app/client/api/http/sync"
	"shopsync/internal/domain/sync"
)

// Deps зависимости админского API
type Deps struct {
	Sync       *sync.Service
	Schedule   syncAPI.Schedule
	Monitor    connectionAPI.Monitor
	Realtime   connectionAPI.Channel
	Authorizer auth.Authorizer
}

// New создает *chi.Mux со всеми операциями админского API
func New(deps Deps, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()

	config := huma.DefaultConfig("ShopSync Admin API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, config)

	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer(loggerMW.Middleware())

	guard := middlewares.Open()
	if deps.Authorizer != nil {
		guard = middlewares.Guard(auth.New(deps.Authorizer, log))
	} else {
		log.Warn("admin API token is not set, endpoints are unprotected")
	}

	healthAPI.NewHandler(deps.Sync, log, middlewares.With()).SetupRoutes(API)
	syncAPI.NewHandler(deps.Sync, deps.Schedule, log, guard).SetupRoutes(API)
	connectionAPI.NewHandler(deps.Monitor, deps.Realtime, log, guard).SetupRoutes(API)

	return mux
}
