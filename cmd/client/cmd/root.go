// cmd/client/cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
	"shopsync/internal/app/client/admin"
	"shopsync/internal/app/client/config"
	"shopsync/internal/utils/logger"
)

var (
	cfgFile    string
	debug      bool
	jsonOutput bool
	serverURL  string
)

var rootCmd = &cobra.Command{
	Use:   "shopsync",
	Short: "ShopSync - офлайн-синхронизация кассы и склада",
	Long: `ShopSync - демон синхронизации локальной базы кассы/склада с сервером магазина.

Все изменения сначала записываются в локальную базу и ставятся в очередь,
а затем отправляются на сервер, когда есть связь. Команды, кроме run,
обращаются к запущенному демону через его административный API.`,
	PersistentPreRunE: setupEnv,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupEnv(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// Логи CLI идут в stderr, чтобы не мешать выводу --json
	env := logger.EnvProd
	if debug {
		env = logger.EnvLocal
	}
	log := logger.NewWithWriter(env, os.Stderr)

	// Переопределяем настройки из флагов командной строки
	if serverURL != "" {
		cfg.AdminAddress = serverURL
	}

	cmd.SetContext(types.WithEnv(cmd.Context(), &types.Env{
		Config: cfg,
		Log:    log,
		Admin:  admin.New(cfg.AdminAddress, cfg.AdminToken, log),
		JSON:   jsonOutput,
		Debug:  debug,
	}))

	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл (YAML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "включить отладочный режим")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "вывод в формате JSON")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "адрес административного API демона (host:port)")
}
