package queue

import (
	"github.com/spf13/cobra"
)

// QueueCmd - родительская команда для работы с очередью исходящих изменений
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Очередь исходящих изменений",
	Long:  `Просмотр очереди, постановка мутаций, повтор ошибочных записей и очистка отправленных.`,
}
