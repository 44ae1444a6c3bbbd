package middleware

import (
	"github.com/danielgtaylor/huma/v2"

	"shopsync/internal/app/api/middleware/auth"
)

// Container набор мидлварей для группы операций
type Container struct {
	base huma.Middlewares
}

// NewContainer создает контейнер с общими мидлварями
func NewContainer(base ...func(huma.Context, func(huma.Context))) *Container {
	return &Container{base: append(huma.Middlewares{}, base...)}
}

// Add добавляет общую мидлварь
func (mc *Container) Add(mw func(ctx huma.Context, next func(huma.Context))) {
	mc.base = append(mc.base, mw)
}

// With возвращает общие мидлвари и extra после них. Контейнер не меняется.
func (mc *Container) With(extra ...func(huma.Context, func(huma.Context))) huma.Middlewares {
	out := make(huma.Middlewares, 0, len(mc.base)+len(extra))
	out = append(out, mc.base...)
	return append(out, extra...)
}

// Guard возвращает мидлвари операции, требующей право perm
type Guard func(perm auth.Permission) huma.Middlewares

// Guard общие мидлвари плюс проверка токена
func (mc *Container) Guard(a *auth.Auth) Guard {
	return func(perm auth.Permission) huma.Middlewares {
		return mc.With(a.Middleware(perm))
	}
}

// Open Guard без проверки прав
func (mc *Container) Open() Guard {
	return func(auth.Permission) huma.Middlewares {
		return mc.With()
	}
}
