package queue

import (
	"fmt"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
)

var RetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Повторить отправку failed/dead записи",
	Long: `Возвращает запись в статус pending со сброшенным счетчиком попыток.
Запись будет отправлена в следующем цикле синхронизации.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		out, err := env.Admin.Retry(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("ошибка повтора записи: %w", err)
		}

		if env.JSON {
			return types.PrintJSON(out)
		}

		fmt.Printf("✓ Запись %s возвращена в очередь (%s)\n", out.ID, out.Status)
		return nil
	},
}
