package resource

import (
	"context"
	"time"
)

// Repository хранилище ресурсов. Каждое изменение пишется в ленту в той же транзакции.
type Repository interface {
	Get(ctx context.Context, kind Kind, id string) (*Resource, error)
	List(ctx context.Context, kind Kind, limit, offset int) ([]Resource, error)
	// Create возвращает ErrExists, если живая запись уже есть; удаленная запись воскрешается
	Create(ctx context.Context, res *Resource) (*Change, error)
	Update(ctx context.Context, res *Resource) (*Change, error)
	Delete(ctx context.Context, kind Kind, id string) (*Change, error)

	// Changes изменения строго после since, по времени и seq
	Changes(ctx context.Context, since time.Time, limit int) ([]Change, error)
	Counts(ctx context.Context) (map[Kind]int64, error)
	// LastChange время последнего изменения; nil, если лента пуста
	LastChange(ctx context.Context) (*time.Time, error)
}

// Publisher рассылает изменения подписчикам магазина
type Publisher interface {
	Publish(shopID string, ch Change)
}
