package conflict

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
	"shopsync/internal/domain/sync"
)

var (
	mergedData string
	mergedFile string
	resolvedBy string
)

var ResolveCmd = &cobra.Command{
	Use:   "resolve <id> <local|remote|merge>",
	Short: "Разрешить конфликт",
	Long: `Разрешает конфликт один раз:
  local  - оставить локальную версию и отправить ее на сервер
  remote - принять серверную версию
  merge  - записать объединенные данные (--data или --file) и отправить их на сервер`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("некорректный ID конфликта: %s", args[0])
		}

		resolution := sync.Resolution(args[1])
		if !resolution.Valid() {
			return fmt.Errorf("неизвестное решение: %s", args[1])
		}

		req := sync.ResolveRequest{
			Resolution: resolution,
			ResolvedBy: resolvedBy,
		}

		if resolution == sync.ResolutionMerge {
			data := []byte(mergedData)
			if mergedFile != "" {
				if data, err = os.ReadFile(mergedFile); err != nil {
					return fmt.Errorf("ошибка чтения файла: %w", err)
				}
			}
			if len(data) == 0 || !json.Valid(data) {
				return fmt.Errorf("для merge нужны объединенные данные в формате JSON")
			}
			req.MergedData = data
		}

		conflict, err := env.Admin.Resolve(cmd.Context(), id, req)
		if err != nil {
			return fmt.Errorf("ошибка разрешения конфликта: %w", err)
		}

		if env.JSON {
			return types.PrintJSON(conflict)
		}

		fmt.Printf("✓ Конфликт #%d разрешен: %s\n", conflict.ID, conflict.Resolution)
		return nil
	},
}

func init() {
	ResolveCmd.Flags().StringVar(&mergedData, "data", "", "объединенные данные (JSON) для merge")
	ResolveCmd.Flags().StringVarP(&mergedFile, "file", "f", "", "файл с объединенными данными")
	ResolveCmd.Flags().StringVar(&resolvedBy, "by", "", "кто разрешил конфликт")
}
