// HTTP API эталонного сервера магазина.
//
//GET    /health                 # Состояние сервера (публичный)
//GET    /sync/changes           # Лента изменений (since, limit)
//GET    /v1/{kind}              # Список записей
//GET    /v1/{kind}/{id}         # Получить запись
//POST   /v1/{kind}              # Создать запись (идемпотентно по id)
//PUT    /v1/{kind}/{id}         # Заменить запись
//DELETE /v1/{kind}/{id}         # Удалить запись
//GET    /v1/reports/summary     # Сводка по ресурсам
//GET    /shop/{shopId}          # Realtime websocket

package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware"
	"shopsync/internal/app/api/middleware/auth"
	"shopsync/internal/app/api/middleware/logger"
	changesAPI "shopsync/internal/app/server/api/http/changes"
	healthAPI "shopsync/internal/app/server/api/http/health"
	reportAPI "shopsync/internal/app/server/api/http/report"
	resourceAPI "shopsync/internal/app/server/api/http/resource"
	"shopsync/internal/domain/resource"
)

// Deps зависимости API
type Deps struct {
	Resources  resource.Servicer
	DB         healthAPI.Pinger
	Authorizer auth.Authorizer
	// Realtime обработчик /shop/{shopId}; nil - realtime отключен
	Realtime http.Handler
	// Subscribers для /health; может быть nil
	Subscribers healthAPI.Subscribers
}

// New создает *chi.Mux со всеми операциями сервера
func New(deps Deps, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()

	config := huma.DefaultConfig("ShopSync API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, config)

	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer(loggerMW.Middleware())
	guard := middlewares.Guard(auth.New(deps.Authorizer, log))

	healthAPI.NewHandler(deps.DB, deps.Subscribers, log, middlewares.With()).SetupRoutes(API)
	changesAPI.NewHandler(deps.Resources, log, guard).SetupRoutes(API)
	reportAPI.NewHandler(deps.Resources, log, guard).SetupRoutes(API)
	resourceAPI.NewHandler(deps.Resources, log, guard).SetupRoutes(API)

	if deps.Realtime != nil {
		mux.Handle("/shop/{shopId}", deps.Realtime)
	}

	return mux
}
