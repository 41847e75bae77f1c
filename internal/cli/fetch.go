package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/veranemoloko/batchdl/internal/domain"
	"github.com/veranemoloko/batchdl/internal/downloader"
)

func newFetchCmd(envFiles *[]string) *cobra.Command {
	var (
		dir      string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch URL...",
		Short: "Download URLs as one batch and wait for it",
		Long: `Enqueue the URLs as one batch, report progress until the batch
settles. Files are saved under the download directory, in --dir when given.

Interrupting the command leaves unfinished downloads pending; they resume
the next time the engine starts.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), *envFiles, args, dir, interval, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "sub-directory of the download directory")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "progress report interval")

	return cmd
}

func runFetch(ctx context.Context, envFiles, urls []string, dir string, interval time.Duration, out io.Writer) error {
	cfg, logger, err := loadConfig(envFiles)
	if err != nil {
		return err
	}

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := eng.close(closeCtx); err != nil {
			logger.Error("download engine shutdown failed", "error", err)
		}
	}()

	req := fetchRequest(urls, dir)
	if err := eng.validator.ValidateBatch(req); err != nil {
		return err
	}

	batch, err := eng.manager.Download(ctx, req.ToBatchRequest())
	if err != nil {
		return fmt.Errorf("failed to enqueue batch: %w", err)
	}
	fmt.Fprintf(out, "batch %d enqueued with %d downloads\n", batch.ID(), len(urls))

	return waitBatch(ctx, batch, interval, out)
}

// fetchRequest names each file after the last segment of its URL path.
func fetchRequest(urls []string, dir string) domain.CreateBatchRequest {
	var req domain.CreateBatchRequest
	for i, raw := range urls {
		name := "download-" + strconv.Itoa(i+1)
		if u, err := url.Parse(raw); err == nil {
			if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
				name = base
			}
		}
		req.Requests = append(req.Requests, domain.CreateDownloadRequest{
			URL:             raw,
			DestinationPath: path.Join(dir, name),
		})
	}
	return req
}

func waitBatch(ctx context.Context, batch *downloader.BatchResponse, interval time.Duration, out io.Writer) error {
	if interval <= 0 {
		interval = time.Second
	}

	g, gctx := errgroup.WithContext(ctx)
	settled := make(chan struct{})

	g.Go(func() error {
		defer close(settled)
		return batch.Wait(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Fprintf(out, "batch %d: %3.0f%%\n", batch.ID(), batch.Progress()*100)
			case <-settled:
				return nil
			}
		}
	})

	err := g.Wait()
	switch {
	case err == nil:
		fmt.Fprintf(out, "batch %d completed\n", batch.ID())
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		fmt.Fprintf(out, "batch %d interrupted, unfinished downloads stay pending\n", batch.ID())
		return nil
	default:
		for _, r := range batch.Responses() {
			if rerr := r.Err(); rerr != nil {
				fmt.Fprintf(out, "  %s: %v\n", r.Request().URL, rerr)
			}
		}
		return fmt.Errorf("batch %d failed: %w", batch.ID(), err)
	}
}
