// cmd/client/cmd/init.go
package cmd

import (
	"shopsync/cmd/client/cmd/config"
	"shopsync/cmd/client/cmd/conflict"
	"shopsync/cmd/client/cmd/connection"
	"shopsync/cmd/client/cmd/queue"
	"shopsync/cmd/client/cmd/run"
	"shopsync/cmd/client/cmd/sync"
)

func init() {
	rootCmd.AddCommand(run.RunCmd)

	rootCmd.AddCommand(sync.SyncCmd)
	sync.SyncCmd.AddCommand(sync.LogCmd)

	rootCmd.AddCommand(queue.QueueCmd)
	queue.QueueCmd.AddCommand(queue.ListCmd)
	queue.QueueCmd.AddCommand(queue.EnqueueCmd)
	queue.QueueCmd.AddCommand(queue.RetryCmd)
	queue.QueueCmd.AddCommand(queue.PurgeCmd)

	rootCmd.AddCommand(conflict.ConflictCmd)
	conflict.ConflictCmd.AddCommand(conflict.ListCmd)
	conflict.ConflictCmd.AddCommand(conflict.ResolveCmd)

	rootCmd.AddCommand(config.ConfigCmd)
	config.ConfigCmd.AddCommand(config.ShowCmd)
	config.ConfigCmd.AddCommand(config.SetCmd)
	config.ConfigCmd.AddCommand(config.SetKeyCmd)

	rootCmd.AddCommand(connection.ConnectionCmd)
	connection.ConnectionCmd.AddCommand(connection.StatusCmd)
	connection.ConnectionCmd.AddCommand(connection.ResumeCmd)
	connection.ConnectionCmd.AddCommand(connection.ReconnectCmd)
}
