package connection

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware"
	"shopsync/internal/app/client/monitor"
	"shopsync/internal/app/client/realtime"
)

// Monitor монитор соединения
type Monitor interface {
	Status() monitor.Status
	CheckNow(ctx context.Context) monitor.Status
	Resume()
}

// Channel realtime-канал
type Channel interface {
	State() realtime.State
	Attempts() int
	QueueLen() int
	Exhausted() bool
	ForceReconnect()
}

type Handler struct {
	monitor Monitor
	channel Channel
	log     *slog.Logger
	guard   middleware.Guard
}

func NewHandler(m Monitor, ch Channel, log *slog.Logger, guard middleware.Guard) *Handler {
	return &Handler{
		monitor: m,
		channel: ch,
		log:     log,
		guard:   guard,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.statusOp(), h.status)
	huma.Register(api, h.resumeOp(), h.resume)
	huma.Register(api, h.reconnectOp(), h.reconnect)
}

func (h *Handler) status(ctx context.Context, input *statusInput) (*statusOutput, error) {
	var st monitor.Status
	if input.Refresh {
		st = h.monitor.CheckNow(ctx)
	} else {
		st = h.monitor.Status()
	}

	return &statusOutput{
		Body: ConnectionStatusResponse{
			Monitor: st,
			Realtime: RealtimeStatus{
				State:     h.channel.State().String(),
				Attempts:  h.channel.Attempts(),
				Queued:    h.channel.QueueLen(),
				Exhausted: h.channel.Exhausted(),
			},
		},
	}, nil
}

func (h *Handler) resume(_ context.Context, _ *struct{}) (*actionOutput, error) {
	h.monitor.Resume()
	h.log.Info("connection monitoring resumed via api")
	return &actionOutput{Body: ActionResponse{Status: "resumed"}}, nil
}

func (h *Handler) reconnect(_ context.Context, _ *struct{}) (*actionOutput, error) {
	h.channel.ForceReconnect()
	h.log.Info("realtime reconnect requested via api")
	return &actionOutput{Body: ActionResponse{Status: "reconnecting"}}, nil
}
