package queue

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
	syncAPI "shopsync/internal/app/client/api/http/sync"
	"shopsync/internal/domain/sync"
)

var (
	enqueueID    string
	enqueueFile  string
	enqueueApply bool
)

var EnqueueCmd = &cobra.Command{
	Use:   "enqueue <table> <create|update|delete> [json]",
	Short: "Поставить мутацию в очередь",
	Long: `Ставит локальное изменение в очередь на отправку. Сеть не используется.

Данные записи передаются третьим аргументом, через --file или stdin ("-").
С --apply изменение сначала записывается в локальную таблицу.

Пример:
  shopsync queue enqueue products update '{"id":"p-1","price":12.5}' --apply`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		action := sync.Action(args[1])
		if !action.Valid() {
			return fmt.Errorf("неизвестное действие: %s", args[1])
		}

		payload, err := readPayload(args)
		if err != nil {
			return err
		}
		if len(payload) > 0 && !json.Valid(payload) {
			return fmt.Errorf("данные записи должны быть JSON-объектом")
		}

		out, err := env.Admin.Enqueue(cmd.Context(), syncAPI.EnqueueRequest{
			Table:   args[0],
			Action:  action,
			Payload: payload,
			ID:      enqueueID,
			Apply:   enqueueApply,
		})
		if err != nil {
			return fmt.Errorf("ошибка постановки в очередь: %w", err)
		}

		if env.JSON {
			return types.PrintJSON(out)
		}

		fmt.Printf("✓ Запись поставлена в очередь: %s (%s)\n", out.ID, out.Status)
		return nil
	},
}

func readPayload(args []string) (json.RawMessage, error) {
	switch {
	case enqueueFile != "":
		data, err := os.ReadFile(enqueueFile)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения файла: %w", err)
		}
		return data, nil
	case len(args) == 3 && args[2] == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения stdin: %w", err)
		}
		return data, nil
	case len(args) == 3:
		return json.RawMessage(args[2]), nil
	}
	return nil, nil
}

func init() {
	EnqueueCmd.Flags().StringVar(&enqueueID, "id", "", "идентификатор записи очереди (по умолчанию UUID)")
	EnqueueCmd.Flags().StringVarP(&enqueueFile, "file", "f", "", "файл с JSON записи")
	EnqueueCmd.Flags().BoolVar(&enqueueApply, "apply", false, "записать изменение в локальную таблицу")
}
