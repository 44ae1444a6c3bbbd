package config

import (
	"github.com/spf13/cobra"
)

// ConfigCmd - родительская команда для настроек синхронизации
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Настройки синхронизации",
	Long: `Просмотр и изменение настроек синхронизации запущенного демона.

Изменения сохраняются в локальной базе и применяются без перезапуска.`,
}
