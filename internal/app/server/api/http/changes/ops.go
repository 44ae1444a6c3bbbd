package changes

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"shopsync/internal/app/api/middleware/auth"
)

func (h *Handler) changesOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-changes",
		Method:      http.MethodGet,
		Path:        "/sync/changes",
		Summary:     "Лента изменений",
		Description: "Изменения всех ресурсов по возрастанию времени. has_more означает, что есть следующая страница.",
		Tags:        []string{"sync"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.guard(auth.PermSyncRead),
	}
}
