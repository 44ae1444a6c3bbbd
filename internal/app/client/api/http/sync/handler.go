package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware"
	"shopsync/internal/app/api/middleware/auth"
	"shopsync/internal/domain/sync"
)

// Schedule расписание автоматической синхронизации
type Schedule interface {
	Next() time.Time
}

type Handler struct {
	service  sync.Servicer
	schedule Schedule
	log      *slog.Logger
	guard    middleware.Guard
}

func NewHandler(service sync.Servicer, schedule Schedule, log *slog.Logger, guard middleware.Guard) *Handler {
	return &Handler{
		service:  service,
		schedule: schedule,
		log:      log,
		guard:    guard,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.statusOp(), h.status)
	huma.Register(api, h.runOp(), h.run)
	huma.Register(api, h.queueOp(), h.queue)
	huma.Register(api, h.enqueueOp(), h.enqueue)
	huma.Register(api, h.retryOp(), h.retry)
	huma.Register(api, h.purgeOp(), h.purge)
	huma.Register(api, h.logOp(), h.history)
	huma.Register(api, h.configOp(), h.config)
	huma.Register(api, h.configUpdateOp(), h.configUpdate)

	huma.Register(api, h.conflictsOp(), h.conflicts)
	huma.Register(api, h.resolveOp(), h.resolve)
}

func (h *Handler) status(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	out := &statusOutput{
		Body: StatusResponse{
			Status: h.service.Status(ctx),
			Stats:  h.service.Stats(),
		},
	}
	if h.schedule != nil {
		if next := h.schedule.Next(); !next.IsZero() {
			out.Body.NextRun = &next
		}
	}
	return out, nil
}

func (h *Handler) run(ctx context.Context, _ *struct{}) (*runOutput, error) {
	res, err := h.service.Sync(ctx)
	if err != nil {
		return nil, httpError(err)
	}
	return &runOutput{Body: res}, nil
}

func (h *Handler) queue(ctx context.Context, input *queueInput) (*queueOutput, error) {
	status := sync.Status(input.Status)
	if status != "" && !status.Valid() {
		return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("unknown status %q", input.Status))
	}

	records, err := h.service.Queue(ctx, sync.RecordQuery{
		Status: status,
		Table:  input.Table,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return nil, httpError(err)
	}
	return &queueOutput{Body: records}, nil
}

func (h *Handler) enqueue(ctx context.Context, input *enqueueInput) (*enqueueOutput, error) {
	req := sync.EnqueueRequest{
		Table:   input.Body.Table,
		Action:  input.Body.Action,
		Payload: input.Body.Payload,
		ID:      input.Body.ID,
	}

	var (
		id  string
		err error
	)
	if input.Body.Apply {
		id, err = h.service.Write(ctx, req)
	} else {
		id, err = h.service.Enqueue(ctx, req)
	}
	if err != nil {
		return nil, httpError(err)
	}

	h.log.Debug("mutation enqueued via api", "id", id, "table", req.Table, "action", req.Action)
	return &enqueueOutput{Body: EnqueueResponse{ID: id, Status: sync.StatusPending}}, nil
}

func (h *Handler) retry(ctx context.Context, input *retryInput) (*retryOutput, error) {
	if err := h.service.Retry(ctx, input.ID); err != nil {
		return nil, httpError(err)
	}
	return &retryOutput{Body: EnqueueResponse{ID: input.ID, Status: sync.StatusPending}}, nil
}

func (h *Handler) purge(ctx context.Context, input *purgeInput) (*purgeOutput, error) {
	olderThan := time.Now().Add(-time.Duration(input.OlderThanHours) * time.Hour)

	n, err := h.service.Purge(ctx, olderThan)
	if err != nil {
		return nil, httpError(err)
	}
	return &purgeOutput{Body: PurgeResponse{Deleted: n}}, nil
}

func (h *Handler) history(ctx context.Context, input *logInput) (*logOutput, error) {
	dir := sync.Direction(input.Direction)
	if dir != "" && dir != sync.DirectionOutbound && dir != sync.DirectionInbound {
		return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("unknown direction %q", input.Direction))
	}

	entries, err := h.service.History(ctx, sync.LogQuery{Direction: dir, Limit: input.Limit})
	if err != nil {
		return nil, httpError(err)
	}
	return &logOutput{Body: entries}, nil
}

func (h *Handler) config(_ context.Context, _ *struct{}) (*configOutput, error) {
	return &configOutput{Body: h.service.Config().Redacted()}, nil
}

func (h *Handler) configUpdate(ctx context.Context, input *configUpdateInput) (*configOutput, error) {
	cfg, err := h.service.UpdateConfig(ctx, input.Body.Apply)
	if err != nil {
		return nil, httpError(err)
	}
	return &configOutput{Body: cfg.Redacted()}, nil
}

func (h *Handler) conflicts(ctx context.Context, input *conflictsInput) (*conflictsOutput, error) {
	list, err := h.service.Conflicts(ctx, !input.All)
	if err != nil {
		return nil, httpError(err)
	}
	return &conflictsOutput{Body: list}, nil
}

func (h *Handler) resolve(ctx context.Context, input *resolveInput) (*resolveOutput, error) {
	req := input.Body
	if req.ResolvedBy == "" {
		if p, ok := auth.GetPrincipal(ctx); ok {
			req.ResolvedBy = p.ID
		}
	}

	c, err := h.service.ResolveConflict(ctx, input.ID, req)
	if err != nil {
		return nil, httpError(err)
	}

	h.log.Info("conflict resolved via api", "id", c.ID, "resolution", c.Resolution, "by", c.ResolvedBy)
	return &resolveOutput{Body: c}, nil
}

// httpError переводит ошибки движка в ответы API
func httpError(err error) error {
	var (
		ve   *sync.ValidationError
		ce   *sync.ConfigurationError
		te   *sync.TransportError
		ae   *sync.AuthenticationError
	)

	switch {
	case errors.As(err, &ve):
		return huma.Error422UnprocessableEntity(ve.Error())
	case errors.As(err, &ce):
		return huma.Error422UnprocessableEntity(ce.Error())
	case errors.Is(err, sync.ErrRecordNotFound), errors.Is(err, sync.ErrConflictNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, sync.ErrSyncInProgress),
		errors.Is(err, sync.ErrConflictResolved),
		errors.Is(err, sync.ErrInvalidTransition):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, sync.ErrUnauthenticated):
		return huma.Error412PreconditionFailed(err.Error())
	case errors.As(err, &ae):
		return huma.Error502BadGateway(ae.Error())
	case errors.As(err, &te):
		return huma.Error503ServiceUnavailable(te.Error())
	}
	return huma.Error500InternalServerError("internal error", err)
}
