package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/veranemoloko/batchdl/internal/domain"
	"github.com/veranemoloko/batchdl/internal/repository"
)

func newStatusCmd(envFiles *[]string) *cobra.Command {
	var (
		status string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List persisted batches",
		Long: `List the batches stored in the downloads database without starting
the engine. Use --status to show only downloads in one state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), *envFiles, status, asJSON, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter downloads by status (pending, downloading, completed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	return cmd
}

func runStatus(ctx context.Context, envFiles []string, status string, asJSON bool, out io.Writer) error {
	cfg, _, err := loadConfig(envFiles)
	if err != nil {
		return err
	}

	store, err := repository.NewSQLiteStore(ctx, cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to open downloads database: %w", err)
	}
	defer store.Close()

	var batches []domain.DownloadBatch
	if status == "" {
		batches, err = store.RetrieveAll(ctx)
	} else {
		parsed, perr := domain.ParseDownloadStatus(status)
		if perr != nil {
			return perr
		}
		batches, err = store.Retrieve(ctx, parsed)
	}
	if err != nil {
		return fmt.Errorf("failed to read batches: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if batches == nil {
			batches = []domain.DownloadBatch{}
		}
		return enc.Encode(batches)
	}

	if len(batches) == 0 {
		fmt.Fprintln(out, "No batches stored")
		return nil
	}

	fmt.Fprintf(out, "%-8s %-12s %-40s %s\n", "BATCH", "STATUS", "DESTINATION", "URL")
	fmt.Fprintln(out, strings.Repeat("-", 100))
	for _, batch := range batches {
		for _, d := range batch.Downloads {
			fmt.Fprintf(out, "%-8d %-12s %-40s %s\n", batch.ID, d.Status, d.Request.DestinationPath, d.Request.URL)
		}
	}
	return nil
}
