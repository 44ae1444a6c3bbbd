package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
)

var ShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Показать настройки",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		cfg, err := env.Admin.Config(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка получения настроек: %w", err)
		}

		if env.JSON {
			return types.PrintJSON(cfg)
		}

		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "не задан (только локальный режим)"
		}
		server := cfg.RemoteBaseURL
		if server == "" {
			server = "не задан"
		}

		fmt.Println("⚙️  Настройки синхронизации:")
		fmt.Printf("  Сервер: %s\n", server)
		fmt.Printf("  API-ключ: %s\n", apiKey)
		fmt.Printf("  Интервал: %d мин\n", cfg.SyncIntervalMinutes)
		fmt.Printf("  Автосинхронизация: %v\n", cfg.AutoSyncEnabled)
		fmt.Printf("  Политика конфликтов: %s\n", cfg.ConflictPolicy)
		fmt.Printf("  Размер пакета: %d записей\n", cfg.BatchSize)
		fmt.Printf("  Макс. попыток: %d\n", cfg.RetryAttempts)
		fmt.Printf("  Задержка повтора: %d мс\n", cfg.RetryDelayMS)
		return nil
	},
}
