package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shopsync/internal/app/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить сервер",
	Long: `Применяет миграции, открывает пул соединений с Postgres и слушает RUN_ADDRESS
до SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := fromContext(cmd.Context())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := server.New(ctx, e.config, e.log)
		if err != nil {
			return fmt.Errorf("ошибка инициализации сервера: %w", err)
		}
		defer app.Close()

		if e.config.Server.AdminToken == "" {
			e.log.Info("ADMIN_TOKEN is not set, only shop API keys are accepted")
		}

		return app.Run(ctx)
	},
}
