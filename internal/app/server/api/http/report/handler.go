package report

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware"
	"shopsync/internal/app/api/middleware/auth"
	"shopsync/internal/domain/resource"
)

// Summarizer сводка по ресурсам
type Summarizer interface {
	Summary(ctx context.Context) (*resource.Summary, error)
}

type output struct {
	Body resource.Summary
}

type Handler struct {
	svc   Summarizer
	log   *slog.Logger
	guard middleware.Guard
}

func NewHandler(svc Summarizer, log *slog.Logger, guard middleware.Guard) *Handler {
	return &Handler{svc: svc, log: log, guard: guard}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "report-summary",
		Method:      http.MethodGet,
		Path:        "/v1/reports/summary",
		Summary:     "Сводка по ресурсам",
		Description: "Количество живых записей по типам и время последнего изменения.",
		Tags:        []string{"reports"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.guard(auth.PermResourcesRead),
	}, h.summary)
}

func (h *Handler) summary(ctx context.Context, _ *struct{}) (*output, error) {
	sum, err := h.svc.Summary(ctx)
	if err != nil {
		h.log.Error("summary failed", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	return &output{Body: *sum}, nil
}
