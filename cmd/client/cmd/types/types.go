package types

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/exp/slog"

	"shopsync/internal/app/client/admin"
	"shopsync/internal/app/client/config"
)

type ctxKey string

// EnvKey ключ окружения команды в context
const EnvKey ctxKey = "env"

// Env общее окружение подкоманд, заполняется в PersistentPreRunE
type Env struct {
	Config *config.Config
	Log    *slog.Logger
	Admin  *admin.Client
	JSON   bool
	Debug  bool
}

func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, EnvKey, env)
}

func FromContext(ctx context.Context) (*Env, error) {
	env, ok := ctx.Value(EnvKey).(*Env)
	if !ok || env == nil {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return env, nil
}

// PrintJSON выводит v с отступами в stdout
func PrintJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func Truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
