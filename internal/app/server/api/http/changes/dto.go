package changes

import (
	"shopsync/internal/domain/resource"
)

type input struct {
	Since string `query:"since" example:"2026-03-01T10:00:00Z" doc:"Вернуть изменения строго позже этого момента (RFC3339)"`
	Limit int    `query:"limit" minimum:"0" maximum:"1000" doc:"Размер страницы, по умолчанию 100"`
}

type output struct {
	Body resource.ChangesPage
}
