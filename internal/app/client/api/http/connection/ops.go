package connection

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"shopsync/internal/app/api/middleware/auth"
)

func (h *Handler) statusOp() huma.Operation {
	return huma.Operation{
		OperationID: "connection-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/connection",
		Summary:     "Состояние соединения с сервером",
		Tags:        []string{"connection"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.guard(auth.PermSyncRead),
	}
}

func (h *Handler) resumeOp() huma.Operation {
	return huma.Operation{
		OperationID: "connection-resume",
		Method:      http.MethodPost,
		Path:        "/api/v1/connection/resume",
		Summary:     "Возобновить мониторинг после паузы",
		Tags:        []string{"connection"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.guard(auth.PermConnectionWrite),
	}
}

func (h *Handler) reconnectOp() huma.Operation {
	return huma.Operation{
		OperationID: "connection-reconnect",
		Method:      http.MethodPost,
		Path:        "/api/v1/connection/reconnect",
		Summary:     "Переподключить realtime-канал",
		Description: "Сбрасывает счетчик попыток и подключается немедленно.",
		Tags:        []string{"connection"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.guard(auth.PermConnectionWrite),
	}
}
