package health

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// SyncState сообщает, идет ли цикл синхронизации
type SyncState interface {
	IsSyncing() bool
}

type Handler struct {
	state      SyncState
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(state SyncState, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		state:      state,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(_ context.Context, _ *Input) (*Output, error) {
	h.log.Debug("health check request received")

	return &Output{
		Body: Response{
			Status:  "OK",
			Syncing: h.state.IsSyncing(),
		},
	}, nil
}
