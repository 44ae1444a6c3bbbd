package changes

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware"
	"shopsync/internal/domain/resource"
)

// Feed лента изменений
type Feed interface {
	Changes(ctx context.Context, since time.Time, limit int) (*resource.ChangesPage, error)
}

type Handler struct {
	feed  Feed
	log   *slog.Logger
	guard middleware.Guard
}

func NewHandler(feed Feed, log *slog.Logger, guard middleware.Guard) *Handler {
	return &Handler{
		feed:  feed,
		log:   log,
		guard: guard,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.changesOp(), h.changes)
}

func (h *Handler) changes(ctx context.Context, in *input) (*output, error) {
	var since time.Time
	if in.Since != "" {
		t, err := time.Parse(time.RFC3339Nano, in.Since)
		if err != nil {
			return nil, huma.Error400BadRequest("since must be an RFC3339 timestamp")
		}
		since = t
	}

	page, err := h.feed.Changes(ctx, since, in.Limit)
	if err != nil {
		h.log.Error("change feed failed", "since", in.Since, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	return &output{Body: *page}, nil
}
