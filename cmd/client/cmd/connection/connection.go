package connection

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
	connAPI "shopsync/internal/app/client/api/http/connection"
)

var refresh bool

// ConnectionCmd - родительская команда для состояния соединения с сервером
var ConnectionCmd = &cobra.Command{
	Use:   "connection",
	Short: "Соединение с сервером",
	Long:  `Состояние API и realtime-канала, возобновление мониторинга и переподключение.`,
}

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Состояние соединения",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		st, err := env.Admin.Connection(cmd.Context(), refresh)
		if err != nil {
			return fmt.Errorf("ошибка получения состояния: %w", err)
		}

		if env.JSON {
			return types.PrintJSON(st)
		}
		return printStatus(st)
	},
}

var ResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Возобновить мониторинг соединения",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		if err := env.Admin.Resume(cmd.Context()); err != nil {
			return fmt.Errorf("ошибка возобновления мониторинга: %w", err)
		}

		fmt.Println("✓ Мониторинг соединения возобновлен")
		return nil
	},
}

var ReconnectCmd = &cobra.Command{
	Use:   "reconnect",
	Short: "Переподключить realtime-канал",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		if err := env.Admin.Reconnect(cmd.Context()); err != nil {
			return fmt.Errorf("ошибка переподключения: %w", err)
		}

		fmt.Println("✓ Realtime-канал переподключается")
		return nil
	},
}

func printStatus(st *connAPI.ConnectionStatusResponse) error {
	m := st.Monitor

	fmt.Printf("🌐 Соединение: %s\n", mark(m.Overall))
	fmt.Printf("  API: %s\n", mark(m.API))
	fmt.Printf("  Realtime: %s (%s", mark(m.Realtime), st.Realtime.State)
	if st.Realtime.Attempts > 0 {
		fmt.Printf(", попыток: %d", st.Realtime.Attempts)
	}
	if st.Realtime.Queued > 0 {
		fmt.Printf(", в очереди: %d", st.Realtime.Queued)
	}
	fmt.Println(")")

	if st.Realtime.Exhausted {
		fmt.Println("⚠️  Переподключение остановлено, выполните: shopsync connection reconnect")
	}
	if m.Paused {
		fmt.Printf("⚠️  Мониторинг приостановлен после %d неудачных проверок, выполните: shopsync connection resume\n", m.Failures)
	} else if m.Failures > 0 {
		fmt.Printf("  Неудачных проверок подряд: %d\n", m.Failures)
	}
	if !m.CheckedAt.IsZero() {
		fmt.Printf("  Проверено: %s\n", m.CheckedAt.Local().Format("2006-01-02 15:04:05"))
	}

	if len(m.Endpoints) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Endpoint\tОбязательный\tДоступен\tКод\tмс\tОшибка\t\n")
	for _, e := range m.Endpoints {
		fmt.Fprintf(w, "%s\t%v\t%s\t%d\t%d\t%s\t\n",
			e.Path,
			e.Required,
			mark(e.Reachable),
			e.StatusCode,
			e.Latency.Milliseconds(),
			types.Truncate(e.Error, 40),
		)
	}
	return w.Flush()
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

func init() {
	StatusCmd.Flags().BoolVar(&refresh, "refresh", false, "проверить соединение сейчас")
}
