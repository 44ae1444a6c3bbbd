package resource

import (
	"encoding/json"
)

type kindInput struct {
	Kind string `path:"kind" example:"parts" doc:"Тип ресурса: parts, customers, transactions, inventory, suppliers, categories"`
}

type itemInput struct {
	Kind string `path:"kind" example:"parts" doc:"Тип ресурса"`
	ID   string `path:"id" example:"p-1" doc:"Идентификатор записи"`
}

type listInput struct {
	Kind   string `path:"kind" example:"parts" doc:"Тип ресурса"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" doc:"Размер страницы, по умолчанию 100"`
	Offset int    `query:"offset" minimum:"0" doc:"Смещение"`
}

type createInput struct {
	Kind           string          `path:"kind" example:"parts" doc:"Тип ресурса"`
	IdempotencyKey string          `header:"Idempotency-Key" doc:"Идентификатор записи очереди клиента"`
	Body           json.RawMessage `doc:"JSON-объект записи; id генерируется, если не задан"`
}

type updateInput struct {
	Kind           string          `path:"kind" example:"parts" doc:"Тип ресурса"`
	ID             string          `path:"id" example:"p-1" doc:"Идентификатор записи"`
	IdempotencyKey string          `header:"Idempotency-Key" doc:"Идентификатор записи очереди клиента"`
	Body           json.RawMessage `doc:"JSON-объект записи"`
}

type deleteInput struct {
	Kind           string `path:"kind" example:"parts" doc:"Тип ресурса"`
	ID             string `path:"id" example:"p-1" doc:"Идентификатор записи"`
	IdempotencyKey string `header:"Idempotency-Key" doc:"Идентификатор записи очереди клиента"`
}

type listOutput struct {
	Body []json.RawMessage
}

type itemOutput struct {
	Body json.RawMessage
}

// createOutput 201 для новой записи, 200 для повтора с теми же данными
type createOutput struct {
	Status int
	Body   json.RawMessage
}
