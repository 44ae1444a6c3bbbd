package sync

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"shopsync/internal/app/api/middleware/auth"
)

var bearer = []map[string][]string{{"bearer": {}}}

func (h *Handler) statusOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/status",
		Summary:     "Состояние синхронизации",
		Tags:        []string{"sync"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermSyncRead),
	}
}

func (h *Handler) runOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-run",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync/run",
		Summary:     "Запустить цикл синхронизации",
		Description: "Выполняет цикл синхронно. 409, если цикл уже идет.",
		Tags:        []string{"sync"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermSyncWrite),
	}
}

func (h *Handler) queueOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-queue-list",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/queue",
		Summary:     "Записи очереди исходящих изменений",
		Tags:        []string{"queue"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermSyncRead),
	}
}

func (h *Handler) enqueueOp() huma.Operation {
	return huma.Operation{
		OperationID:   "sync-queue-enqueue",
		Method:        http.MethodPost,
		Path:          "/api/v1/sync/queue",
		Summary:       "Поставить мутацию в очередь",
		Tags:          []string{"queue"},
		DefaultStatus: http.StatusCreated,
		Security:      bearer,
		Middlewares:   h.guard(auth.PermSyncWrite),
	}
}

func (h *Handler) retryOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-queue-retry",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync/queue/{id}/retry",
		Summary:     "Повторить failed/dead запись",
		Tags:        []string{"queue"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermSyncWrite),
	}
}

func (h *Handler) purgeOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-queue-purge",
		Method:      http.MethodDelete,
		Path:        "/api/v1/sync/queue",
		Summary:     "Удалить старые отправленные записи",
		Tags:        []string{"queue"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermSyncWrite),
	}
}

func (h *Handler) logOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-log",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/log",
		Summary:     "Журнал синхронизации",
		Tags:        []string{"sync"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermSyncRead),
	}
}

func (h *Handler) configOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-config-get",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/config",
		Summary:     "Настройки синхронизации",
		Description: "API-ключ в ответе замаскирован.",
		Tags:        []string{"config"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermSyncRead),
	}
}

func (h *Handler) configUpdateOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-config-update",
		Method:      http.MethodPatch,
		Path:        "/api/v1/sync/config",
		Summary:     "Изменить настройки синхронизации",
		Description: "Изменения сохраняются и применяются к планировщику без перезапуска.",
		Tags:        []string{"config"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermConfigWrite),
	}
}

func (h *Handler) conflictsOp() huma.Operation {
	return huma.Operation{
		OperationID: "conflicts-list",
		Method:      http.MethodGet,
		Path:        "/api/v1/conflicts",
		Summary:     "Конфликты",
		Tags:        []string{"conflicts"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermSyncRead),
	}
}

func (h *Handler) resolveOp() huma.Operation {
	return huma.Operation{
		OperationID: "conflicts-resolve",
		Method:      http.MethodPost,
		Path:        "/api/v1/conflicts/{id}/resolve",
		Summary:     "Разрешить конфликт",
		Description: "local, remote или merge (с merged_data). 409, если конфликт уже разрешен.",
		Tags:        []string{"conflicts"},
		Security:    bearer,
		Middlewares: h.guard(auth.PermSyncWrite),
	}
}
