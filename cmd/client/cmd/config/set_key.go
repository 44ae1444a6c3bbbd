package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"shopsync/cmd/client/cmd/types"
	syncAPI "shopsync/internal/app/client/api/http/sync"
)

var clearKey bool

var SetKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Задать API-ключ сервера",
	Long: `Запрашивает API-ключ без отображения на экране и сохраняет его в настройках демона.

Без ключа демон работает только локально: изменения копятся в очереди.
С флагом --clear ключ удаляется.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := types.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		key := ""
		if !clearKey {
			if key, err = readKey(); err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("API-ключ не может быть пустым")
			}
		}

		if _, err := env.Admin.UpdateConfig(cmd.Context(), syncAPI.ConfigPatch{APIKey: &key}); err != nil {
			return fmt.Errorf("ошибка сохранения ключа: %w", err)
		}

		if clearKey {
			fmt.Println("✓ API-ключ удален, синхронизация работает в локальном режиме")
		} else {
			fmt.Println("✓ API-ключ сохранен")
		}
		return nil
	},
}

func readKey() (string, error) {
	fd := int(os.Stdin.Fd())

	// Ключ из pipe: shopsync config set-key < key.txt
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("ошибка чтения ключа: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Print("Введите API-ключ: ")
	key, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения ключа: %w", err)
	}
	fmt.Println()

	fmt.Print("Повторите API-ключ: ")
	confirm, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения ключа: %w", err)
	}
	fmt.Println()

	if string(key) != string(confirm) {
		return "", fmt.Errorf("ключи не совпадают")
	}

	return strings.TrimSpace(string(key)), nil
}

func init() {
	SetKeyCmd.Flags().BoolVar(&clearKey, "clear", false, "удалить API-ключ")
}
