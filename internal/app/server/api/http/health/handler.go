package health

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

const pingTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// Subscribers число realtime-подписчиков; пустой shopID - всех
type Subscribers interface {
	Subscribers(shopID string) int
}

type Handler struct {
	db         Pinger
	hub        Subscribers
	log        *slog.Logger
	middleware huma.Middlewares
}

// NewHandler hub может быть nil
func NewHandler(db Pinger, hub Subscribers, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		db:         db,
		hub:        hub,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(ctx context.Context, _ *Input) (*Output, error) {
	h.log.Debug("health check request received")

	out := &Output{
		Status: http.StatusOK,
		Body:   Response{Status: "OK", Database: "up"},
	}
	if h.hub != nil {
		out.Body.Subscribers = h.hub.Subscribers("")
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := h.db.Ping(pctx); err != nil {
		h.log.Error("database ping failed", "error", err)
		out.Status = http.StatusServiceUnavailable
		out.Body.Status = "DEGRADED"
		out.Body.Database = "down"
	}

	return out, nil
}
