// Package cli implements the batchdl commands.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the batchdl command tree.
func NewRootCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:   "batchdl",
		Short: "Persistent batch file downloader",
		Long: `batchdl downloads groups of files with a bounded number of concurrent
transfers. Batches survive restarts: interrupted transfers resume where
they stopped the next time the engine starts.

Configuration is read from BATCHDL_* environment variables and an optional
.env file.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load (default: .env)")

	cmd.AddCommand(
		newServeCmd(&envFiles),
		newFetchCmd(&envFiles),
		newStatusCmd(&envFiles),
	)

	return cmd
}
