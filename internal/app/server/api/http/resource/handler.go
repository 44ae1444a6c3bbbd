package resource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware"
	"shopsync/internal/app/api/middleware/auth"
	"shopsync/internal/domain/resource"
)

type Handler struct {
	service resource.Servicer
	log     *slog.Logger
	guard   middleware.Guard
}

func NewHandler(service resource.Servicer, log *slog.Logger, guard middleware.Guard) *Handler {
	return &Handler{
		service: service,
		log:     log,
		guard:   guard,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.listOp(), h.list)
	huma.Register(api, h.getOp(), h.get)
	huma.Register(api, h.createOp(), h.create)
	huma.Register(api, h.updateOp(), h.update)
	huma.Register(api, h.deleteOp(), h.delete)
}

func (h *Handler) list(ctx context.Context, input *listInput) (*listOutput, error) {
	items, err := h.service.List(ctx, resource.Kind(input.Kind), input.Limit, input.Offset)
	if err != nil {
		return nil, h.mapError(err, input.Kind, "")
	}

	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, it.Data)
	}
	return &listOutput{Body: out}, nil
}

func (h *Handler) get(ctx context.Context, input *itemInput) (*itemOutput, error) {
	res, err := h.service.Get(ctx, resource.Kind(input.Kind), input.ID)
	if err != nil {
		return nil, h.mapError(err, input.Kind, input.ID)
	}
	return &itemOutput{Body: res.Data}, nil
}

func (h *Handler) create(ctx context.Context, input *createInput) (*createOutput, error) {
	p, _ := auth.GetPrincipal(ctx)

	res, created, err := h.service.Create(ctx, p.ShopID, resource.Kind(input.Kind), input.Body)
	if err != nil {
		return nil, h.mapError(err, input.Kind, "")
	}

	status := http.StatusCreated
	if !created {
		h.log.Debug("create replayed", "kind", input.Kind, "id", res.ID, "idempotency_key", input.IdempotencyKey)
		status = http.StatusOK
	}
	return &createOutput{Status: status, Body: res.Data}, nil
}

func (h *Handler) update(ctx context.Context, input *updateInput) (*itemOutput, error) {
	p, _ := auth.GetPrincipal(ctx)

	res, err := h.service.Update(ctx, p.ShopID, resource.Kind(input.Kind), input.ID, input.Body)
	if err != nil {
		return nil, h.mapError(err, input.Kind, input.ID)
	}
	return &itemOutput{Body: res.Data}, nil
}

func (h *Handler) delete(ctx context.Context, input *deleteInput) (*struct{}, error) {
	p, _ := auth.GetPrincipal(ctx)

	if err := h.service.Delete(ctx, p.ShopID, resource.Kind(input.Kind), input.ID); err != nil {
		return nil, h.mapError(err, input.Kind, input.ID)
	}
	return nil, nil
}

func (h *Handler) mapError(err error, kind, id string) error {
	switch {
	case errors.Is(err, resource.ErrUnknownKind):
		return huma.Error404NotFound("unknown resource " + kind)
	case errors.Is(err, resource.ErrNotFound):
		return huma.Error404NotFound(kind + " " + id + " not found")
	case errors.Is(err, resource.ErrConflict):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, resource.ErrInvalidData):
		return huma.Error422UnprocessableEntity(err.Error())
	}

	h.log.Error("resource operation failed", "kind", kind, "id", id, "error", err)
	return huma.Error500InternalServerError("internal error")
}
