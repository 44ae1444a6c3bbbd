package run

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
	"shopsync/internal/app/client"
	"shopsync/internal/utils/logger"
)

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Запустить демон синхронизации",
	Long: `Запускает демон: локальное хранилище, планировщик синхронизации,
realtime-канал, монитор соединения и административный API.

Демон работает до SIGINT/SIGTERM. Идущий цикл синхронизации при остановке
не прерывается.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		cfg := env.Config

		level := cfg.Env
		if env.Debug {
			level = logger.EnvLocal
		}

		var out io.Writer = os.Stdout
		if cfg.LogFile != "" {
			file := logger.FileWriter(cfg.LogFile)
			defer file.Close()
			out = io.MultiWriter(os.Stdout, file)
		}
		log := logger.NewWithWriter(level, out)

		app, err := client.New(cfg, log)
		if err != nil {
			return fmt.Errorf("ошибка инициализации приложения: %w", err)
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("shopsync daemon starting",
			"env", cfg.Env,
			"db", cfg.DBPath,
			"admin", cfg.AdminAddress,
		)

		return app.Run(ctx)
	},
}
