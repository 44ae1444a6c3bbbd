package queue

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
	"shopsync/internal/domain/sync"
)

var (
	listStatus string
	listTable  string
	limit      int
	offset     int
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список записей очереди",
	Long: `Просмотр записей очереди с фильтрацией по статусу и таблице.

Статусы: pending, syncing, synced, failed, conflict, dead.
Поддерживается пагинация через флаги --limit и --offset.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		if listStatus != "" && !sync.Status(listStatus).Valid() {
			return fmt.Errorf("неизвестный статус: %s", listStatus)
		}

		records, err := env.Admin.Queue(cmd.Context(), sync.RecordQuery{
			Status: sync.Status(listStatus),
			Table:  listTable,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("ошибка получения очереди: %w", err)
		}

		if env.JSON {
			return types.PrintJSON(records)
		}
		return printRecordsTable(records)
	},
}

func printRecordsTable(records []*sync.SyncRecord) error {
	if len(records) == 0 {
		fmt.Println("Записи не найдены")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tТаблица\tЗапись\tДействие\tСтатус\tПопыток\tОбновлено\tОшибка\t\n")
	fmt.Fprintf(w, "---\t---\t---\t---\t---\t---\t---\t---\t\n")

	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t\n",
			rec.ID,
			rec.Table,
			types.Truncate(rec.RecordID, 20),
			rec.Action,
			rec.Status,
			rec.RetryCount,
			rec.UpdatedAt.Local().Format("2006-01-02 15:04"),
			types.Truncate(rec.Error, 40),
		)
	}

	w.Flush()
	fmt.Printf("\nВсего записей: %d\n", len(records))
	return nil
}

func init() {
	ListCmd.Flags().StringVarP(&listStatus, "status", "s", "", "фильтр по статусу")
	ListCmd.Flags().StringVarP(&listTable, "table", "t", "", "фильтр по таблице")
	ListCmd.Flags().IntVar(&limit, "limit", 50, "ограничение количества записей")
	ListCmd.Flags().IntVar(&offset, "offset", 0, "смещение для пагинации")
}
