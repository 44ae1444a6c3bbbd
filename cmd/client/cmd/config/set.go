package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shopsync/cmd/client/cmd/types"
	syncAPI "shopsync/internal/app/client/api/http/sync"
)

// setters ключ настройки -> заполнение patch из строки
var setters = map[string]func(p *syncAPI.ConfigPatch, value string) error{
	"remote_base_url": func(p *syncAPI.ConfigPatch, value string) error {
		p.RemoteBaseURL = &value
		return nil
	},
	"sync_interval_minutes": intSetter(func(p *syncAPI.ConfigPatch, v *int) { p.SyncIntervalMinutes = v }),
	"auto_sync_enabled": func(p *syncAPI.ConfigPatch, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("ожидается true или false: %s", value)
		}
		p.AutoSyncEnabled = &b
		return nil
	},
	"conflict_resolution_policy": func(p *syncAPI.ConfigPatch, value string) error {
		switch value {
		case "local", "remote", "manual":
			p.ConflictPolicy = &value
			return nil
		}
		return fmt.Errorf("ожидается local, remote или manual: %s", value)
	},
	"batch_size":     intSetter(func(p *syncAPI.ConfigPatch, v *int) { p.BatchSize = v }),
	"retry_attempts": intSetter(func(p *syncAPI.ConfigPatch, v *int) { p.RetryAttempts = v }),
	"retry_delay_ms": intSetter(func(p *syncAPI.ConfigPatch, v *int) { p.RetryDelayMS = v }),
}

func intSetter(set func(p *syncAPI.ConfigPatch, v *int)) func(p *syncAPI.ConfigPatch, value string) error {
	return func(p *syncAPI.ConfigPatch, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("ожидается целое число: %s", value)
		}
		set(p, &n)
		return nil
	}
}

// ParsePatch собирает изменение настроек из пар key=value
func ParsePatch(pairs []string) (syncAPI.ConfigPatch, error) {
	var patch syncAPI.ConfigPatch
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return patch, fmt.Errorf("ожидается key=value: %s", pair)
		}

		set, ok := setters[strings.TrimSpace(key)]
		if !ok {
			return patch, fmt.Errorf("неизвестная настройка %q, доступны: %s", key, strings.Join(keys(), ", "))
		}
		if err := set(&patch, strings.TrimSpace(value)); err != nil {
			return patch, fmt.Errorf("%s: %w", key, err)
		}
	}
	return patch, nil
}

func keys() []string {
	out := make([]string, 0, len(setters))
	for k := range setters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var SetCmd = &cobra.Command{
	Use:   "set <key=value>...",
	Short: "Изменить настройки",
	Long: `Изменяет одну или несколько настроек синхронизации.

Пример:
  shopsync config set sync_interval_minutes=10 conflict_resolution_policy=manual

API-ключ задается отдельной командой: shopsync config set-key`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		patch, err := ParsePatch(args)
		if err != nil {
			return err
		}

		cfg, err := env.Admin.UpdateConfig(cmd.Context(), patch)
		if err != nil {
			return fmt.Errorf("ошибка изменения настроек: %w", err)
		}

		if env.JSON {
			return types.PrintJSON(cfg)
		}

		fmt.Println("✓ Настройки сохранены")
		return nil
	},
}
