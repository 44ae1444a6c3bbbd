package queue

import (
	"fmt"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
)

var olderThanHours int

var PurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Удалить старые отправленные записи",
	Long:  `Удаляет из очереди записи в статусе synced старше --older-than часов.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		if olderThanHours < 0 {
			return fmt.Errorf("--older-than не может быть отрицательным")
		}

		deleted, err := env.Admin.Purge(cmd.Context(), olderThanHours)
		if err != nil {
			return fmt.Errorf("ошибка очистки очереди: %w", err)
		}

		if env.JSON {
			return types.PrintJSON(map[string]int64{"deleted": deleted})
		}

		fmt.Printf("✓ Удалено записей: %d\n", deleted)
		return nil
	},
}

func init() {
	PurgeCmd.Flags().IntVar(&olderThanHours, "older-than", 24, "возраст записей в часах")
}
