package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
	"shopsync/internal/app/client/admin"
	"shopsync/internal/domain/sync"
)

var (
	syncStatus bool
	logDir     string
	logLimit   int
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Запустить синхронизацию",
	Long: `Выполняет цикл синхронизации на запущенном демоне и ждет его завершения.

С флагом --status только показывает состояние синхронизации и статистику.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		if syncStatus {
			return showSyncStatus(cmd.Context(), env)
		}

		return runSync(cmd.Context(), env)
	},
}

var LogCmd = &cobra.Command{
	Use:   "log",
	Short: "Журнал операций синхронизации",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		entries, err := env.Admin.Log(cmd.Context(), sync.LogQuery{
			Direction: sync.Direction(logDir),
			Limit:     logLimit,
		})
		if err != nil {
			return fmt.Errorf("ошибка получения журнала: %w", err)
		}

		if env.JSON {
			return types.PrintJSON(entries)
		}

		if len(entries) == 0 {
			fmt.Println("Журнал пуст")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Время\tНаправление\tТаблица\tЗапись\tДействие\tСтатус\tмс\tОшибка\t\n")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				e.Direction,
				e.Table,
				types.Truncate(e.RecordID, 20),
				e.Action,
				e.Status,
				e.Duration.Milliseconds(),
				types.Truncate(e.Error, 40),
			)
		}
		return w.Flush()
	},
}

func runSync(ctx context.Context, env *types.Env) error {
	if !env.JSON {
		fmt.Println("=== Синхронизация данных ===")
	}

	result, err := env.Admin.Run(ctx)
	if err != nil {
		var se *admin.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
			return fmt.Errorf("цикл синхронизации уже выполняется")
		}
		return fmt.Errorf("ошибка синхронизации: %w", err)
	}

	if env.JSON {
		return types.PrintJSON(result)
	}

	fmt.Println()
	switch {
	case result.Offline:
		fmt.Println("⚠️  Сервер недоступен, изменения остаются в очереди")
	case result.Success:
		fmt.Println("✅ Синхронизация завершена!")
	default:
		fmt.Println("⚠️  Синхронизация завершена с ошибками")
	}
	fmt.Printf("Время выполнения: %v\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("Отправлено на сервер: %d записей\n", result.Uploaded)
	fmt.Printf("Получено с сервера: %d записей\n", result.Downloaded)
	if result.Skipped > 0 {
		fmt.Printf("Пропущено изменений без локальной таблицы: %d\n", result.Skipped)
	}

	if result.Failed > 0 || result.Dead > 0 {
		fmt.Printf("Не отправлено: %d (исчерпали попытки: %d)\n", result.Failed, result.Dead)
	}

	if result.Conflicts > 0 {
		fmt.Printf("Обнаружено конфликтов: %d\n", result.Conflicts)
		fmt.Printf("Разрешено конфликтов: %d\n", result.Resolved)

		if result.Resolved < result.Conflicts {
			fmt.Println("⚠️  Некоторые конфликты ждут ручного разрешения")
			fmt.Println("   Используйте 'shopsync conflict list' для просмотра")
		}
	}

	printErrors(result.Errors)
	return nil
}

func showSyncStatus(ctx context.Context, env *types.Env) error {
	st, err := env.Admin.Status(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения статуса: %w", err)
	}

	if env.JSON {
		return types.PrintJSON(st)
	}

	fmt.Println("=== Статус синхронизации ===")

	status := st.Status
	fmt.Printf("Состояние: %s", status.State)
	if status.IsRunning {
		fmt.Print(" (идет цикл)")
	}
	fmt.Println()
	if status.LastSync != nil {
		fmt.Printf("Последняя синхронизация: %s\n", status.LastSync.Local().Format("2006-01-02 15:04:05"))
	}
	if st.NextRun != nil {
		fmt.Printf("Следующая по расписанию: %s\n", st.NextRun.Local().Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("Автосинхронизация выключена")
	}

	fmt.Println("\n📦 Очередь:")
	fmt.Printf("  Ожидают отправки: %d\n", status.Pending)
	fmt.Printf("  Ошибки: %d\n", status.Failed)
	fmt.Printf("  Конфликты: %d\n", status.Conflicts)
	fmt.Printf("  Отправлено: %d\n", status.Synced)

	stats := st.Stats
	fmt.Println("\n📊 Статистика:")
	fmt.Printf("  Всего синхронизаций: %d\n", stats.TotalSyncs)
	fmt.Printf("  С ошибками: %d\n", stats.TotalErrors)
	fmt.Printf("  Отправлено на сервер: %d записей\n", stats.TotalUploaded)
	fmt.Printf("  Получено с сервера: %d записей\n", stats.TotalDownloaded)
	fmt.Printf("  Обнаружено конфликтов: %d\n", stats.TotalConflicts)
	fmt.Printf("  Разрешено конфликтов: %d\n", stats.TotalResolved)
	fmt.Printf("  Среднее время: %.2f сек\n", stats.AvgSyncDuration)

	printErrors(status.Errors)
	return nil
}

func printErrors(errs []sync.SyncError) {
	if len(errs) == 0 {
		return
	}

	fmt.Printf("Ошибок при синхронизации: %d\n", len(errs))
	for i, e := range errs {
		if i == 3 {
			fmt.Printf("  ... и еще %d ошибок\n", len(errs)-3)
			break
		}
		if e.RecordID != "" {
			fmt.Printf("  • %s [%s]: %s\n", e.Operation, e.RecordID, e.Error)
		} else {
			fmt.Printf("  • %s: %s\n", e.Operation, e.Error)
		}
	}
}

func init() {
	SyncCmd.Flags().BoolVar(&syncStatus, "status", false, "показать статус синхронизации")

	LogCmd.Flags().StringVar(&logDir, "direction", "", "фильтр по направлению (outbound, inbound)")
	LogCmd.Flags().IntVar(&logLimit, "limit", 50, "количество записей")
}
