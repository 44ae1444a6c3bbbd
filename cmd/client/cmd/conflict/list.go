package conflict

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
	"shopsync/internal/domain/sync"
)

var (
	showAll  bool
	detailed bool
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список конфликтов",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		conflicts, err := env.Admin.Conflicts(cmd.Context(), showAll)
		if err != nil {
			return fmt.Errorf("ошибка получения конфликтов: %w", err)
		}

		if env.JSON {
			return types.PrintJSON(conflicts)
		}

		if len(conflicts) == 0 {
			fmt.Println("Конфликтов нет")
			return nil
		}

		if detailed {
			printDetailed(conflicts)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\tТаблица\tЗапись\tДействие\tРешение\tСоздан\t\n")
		fmt.Fprintf(w, "---\t---\t---\t---\t---\t---\t\n")
		for _, c := range conflicts {
			resolution := "-"
			if c.Resolved() {
				resolution = string(c.Resolution)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
				c.ID,
				c.Table,
				types.Truncate(c.RecordID, 20),
				c.Action,
				resolution,
				c.CreatedAt.Local().Format("2006-01-02 15:04"),
			)
		}
		return w.Flush()
	},
}

func printDetailed(conflicts []*sync.SyncConflict) {
	for _, c := range conflicts {
		fmt.Printf("#%d %s/%s (%s)\n", c.ID, c.Table, c.RecordID, c.Action)
		fmt.Printf("   Локально:  %s\n", orDash(c.LocalData))
		fmt.Printf("   На сервере: %s\n", orDash(c.RemoteData))
		if c.Resolved() {
			fmt.Printf("   Решение: %s (%s)\n", c.Resolution, c.ResolvedBy)
		}
		fmt.Println()
	}
}

func orDash(data []byte) string {
	if len(data) == 0 {
		return "-"
	}
	return string(data)
}

func init() {
	ListCmd.Flags().BoolVarP(&showAll, "all", "a", false, "включая разрешенные")
	ListCmd.Flags().BoolVarP(&detailed, "details", "d", false, "показать данные обеих версий")
}
