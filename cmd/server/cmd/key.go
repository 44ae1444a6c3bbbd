package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"shopsync/internal/domain/apikey"
	"shopsync/internal/infrastructure/storage/postgres"
)

var (
	keyShop string
	keyJSON bool
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Управление API-ключами магазинов",
}

var keyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Выпустить ключ для магазина",
	Long: `Выпускает API-ключ магазина. Ключ показывается один раз: сохраните его
в настройках клиента командой "shopsync config set-key".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withKeys(cmd.Context(), func(ctx context.Context, keys *apikey.Service) error {
			token, key, err := keys.Issue(ctx, keyShop)
			if err != nil {
				return fmt.Errorf("не удалось выпустить ключ: %w", err)
			}

			if keyJSON {
				return printJSON(map[string]interface{}{"token": token, "key": key})
			}

			color.Green("✅ Ключ для магазина %s выпущен", key.ShopID)
			fmt.Printf("Префикс: %s\n", key.Prefix)
			fmt.Printf("Ключ:    %s\n", token)
			color.Yellow("Ключ больше не будет показан")
			return nil
		})
	},
}

var keyRevokeCmd = &cobra.Command{
	Use:   "revoke <prefix>",
	Short: "Отозвать ключ по префиксу",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeys(cmd.Context(), func(ctx context.Context, keys *apikey.Service) error {
			if err := keys.Revoke(ctx, args[0]); err != nil {
				return fmt.Errorf("не удалось отозвать ключ %s: %w", args[0], err)
			}
			color.Green("✅ Ключ %s отозван", args[0])
			return nil
		})
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список ключей",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withKeys(cmd.Context(), func(ctx context.Context, keys *apikey.Service) error {
			list, err := keys.List(ctx, keyShop)
			if err != nil {
				return fmt.Errorf("не удалось получить список ключей: %w", err)
			}

			if keyJSON {
				return printJSON(list)
			}
			if len(list) == 0 {
				fmt.Println("Ключей нет")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ПРЕФИКС\tМАГАЗИН\tСОЗДАН\tСТАТУС")
			for _, k := range list {
				status := "активен"
				if k.Revoked() {
					status = "отозван " + k.RevokedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.Prefix, k.ShopID, k.CreatedAt.Local().Format("2006-01-02 15:04"), status)
			}
			return w.Flush()
		})
	},
}

func withKeys(ctx context.Context, fn func(context.Context, *apikey.Service) error) error {
	e, err := fromContext(ctx)
	if err != nil {
		return err
	}

	storage, err := postgres.New(ctx, e.config.DB.DatabaseURI, e.log)
	if err != nil {
		return fmt.Errorf("ошибка подключения к базе: %w", err)
	}
	defer storage.Close()

	return fn(ctx, apikey.NewService(postgres.NewAPIKeyRepository(storage, e.log), e.log))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	keyCreateCmd.Flags().StringVar(&keyShop, "shop", "", "идентификатор магазина")
	_ = keyCreateCmd.MarkFlagRequired("shop")
	keyListCmd.Flags().StringVar(&keyShop, "shop", "", "только ключи магазина")

	keyCmd.PersistentFlags().BoolVar(&keyJSON, "json", false, "вывод в формате JSON")
}
