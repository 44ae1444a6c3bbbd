package resource

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"shopsync/internal/app/api/middleware/auth"
)

var bearer = []map[string][]string{{"bearer": {}}}

func (h *Handler) listOp() huma.Operation {
	return huma.Operation{
		OperationID: "resource-list",
		Method:      http.MethodGet,
		Path:        "/v1/{kind}",
		Summary:     "Список записей",
		Tags:        []string{"resources"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermResourcesRead),
	}
}

func (h *Handler) getOp() huma.Operation {
	return huma.Operation{
		OperationID: "resource-get",
		Method:      http.MethodGet,
		Path:        "/v1/{kind}/{id}",
		Summary:     "Получить запись",
		Tags:        []string{"resources"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermResourcesRead),
	}
}

func (h *Handler) createOp() huma.Operation {
	return huma.Operation{
		OperationID: "resource-create",
		Method:      http.MethodPost,
		Path:        "/v1/{kind}",
		Summary:     "Создать запись",
		Description: "201 для новой записи, 200 при повторе с теми же данными, 409 если запись с этим id уже есть и данные отличаются.",
		Tags:        []string{"resources"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermResourcesWrite),
	}
}

func (h *Handler) updateOp() huma.Operation {
	return huma.Operation{
		OperationID: "resource-update",
		Method:      http.MethodPut,
		Path:        "/v1/{kind}/{id}",
		Summary:     "Заменить запись",
		Description: "404, если записи нет или она удалена.",
		Tags:        []string{"resources"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermResourcesWrite),
	}
}

func (h *Handler) deleteOp() huma.Operation {
	return huma.Operation{
		OperationID:   "resource-delete",
		Method:        http.MethodDelete,
		Path:          "/v1/{kind}/{id}",
		Summary:       "Удалить запись",
		Tags:          []string{"resources"},
		DefaultStatus: http.StatusNoContent,
		Security:      bearer,
		Middlewares:   h.guard(auth.PermResourcesWrite),
	}
}
