package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/veranemoloko/batchdl/internal/api/http"
)

func newServeCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download engine behind the HTTP API",
		Long: `Start the download engine, resume persisted batches and serve the
HTTP API until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *envFiles)
		},
	}
}

func runServe(ctx context.Context, envFiles []string) error {
	cfg, logger, err := loadConfig(envFiles)
	if err != nil {
		return err
	}

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      httpapi.NewRouter(eng.manager, eng.validator, logger.With("component", "api")),
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var shutdownErr error
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
			shutdownErr = err
		} else {
			logger.Info("server stopped gracefully")
		}

		if err := eng.close(shutdownCtx); err != nil {
			logger.Error("download engine shutdown failed", "error", err)
			return errors.Join(shutdownErr, err)
		}
		return shutdownErr
	})

	return g.Wait()
}
