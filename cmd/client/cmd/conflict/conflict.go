package conflict

import (
	"github.com/spf13/cobra"
)

// ConflictCmd - родительская команда для работы с конфликтами
var ConflictCmd = &cobra.Command{
	Use:   "conflict",
	Short: "Конфликты синхронизации",
	Long: `Просмотр и ручное разрешение конфликтов.

При политике manual конфликты не разрешаются автоматически и ждут решения оператора.`,
}
