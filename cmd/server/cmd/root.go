package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/server/config"
	"shopsync/internal/utils/logger"
)

type envKey struct{}

// env общее окружение команд
type env struct {
	config *config.Config
	log    *slog.Logger
	closer io.Closer
}

var debug bool

var rootCmd = &cobra.Command{
	Use:   "shopsync-server",
	Short: "Сервер магазина для ShopSync",
	Long: `Эталонный сервер магазина: REST API ресурсов, лента изменений /sync/changes
и realtime-события на /shop/{shopId}. Настройки берутся из окружения и .env:
DATABASE_URI, RUN_ADDRESS, APP_ENV, ADMIN_TOKEN, REALTIME_BUFFER, LOG_FILE.`,
	PersistentPreRunE:  setupEnv,
	PersistentPostRunE: closeEnv,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupEnv(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	level := cfg.Env
	if debug {
		level = logger.EnvLocal
	}

	e := &env{config: cfg}
	var out io.Writer = os.Stdout
	if cfg.Logger.File != "" {
		file := logger.FileWriter(cfg.Logger.File)
		e.closer = file
		out = io.MultiWriter(os.Stdout, file)
	}
	e.log = logger.NewWithWriter(level, out)

	cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, e))
	return nil
}

func closeEnv(cmd *cobra.Command, _ []string) error {
	e, err := fromContext(cmd.Context())
	if err != nil || e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

func fromContext(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey{}).(*env)
	if !ok || e == nil {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return e, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "включить отладочный режим")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyCreateCmd, keyRevokeCmd, keyListCmd)
}
