package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veranemoloko/batchdl/internal/config"
	"github.com/veranemoloko/batchdl/internal/downloader"
	"github.com/veranemoloko/batchdl/internal/repository"
	"github.com/veranemoloko/batchdl/internal/session"
	"github.com/veranemoloko/batchdl/internal/storage"
	"github.com/veranemoloko/batchdl/internal/validation"
)

// engine is the download manager with the resources it owns.
type engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *repository.SQLiteStore
	manager   *downloader.Manager
	validator *validation.Validator
}

func loadConfig(envFiles []string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, nil, err
	}
	logger := config.SetupLogger(cfg)
	logger.Debug("configuration loaded successfully")
	return cfg, logger, nil
}

func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	store, err := repository.NewSQLiteStore(ctx, cfg.DatabaseFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open downloads database: %w", err)
	}

	sessionLogger := logger.With("component", "session")
	factory := func(delegate session.Delegate) (session.Session, error) {
		s, err := session.NewHTTPSession(session.HTTPConfig{
			Identifier:            cfg.SessionIdentifier,
			TempDir:               cfg.TempDir,
			ResponseHeaderTimeout: cfg.TransferTimeout,
		}, delegate, sessionLogger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	manager := downloader.NewManager(downloader.ManagerConfig{
		MaxSimultaneousDownloads: cfg.MaxSimultaneousDownloads,
		StartupRetries:           cfg.StartupRetries,
	}, store, storage.NewFileStorage(cfg.DownloadDir), factory, logger)

	return &engine{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		manager: manager,
		validator: validation.New(validation.Options{
			AllowPrivateHosts:   cfg.AllowPrivateHosts,
			MaxRequestsPerBatch: cfg.MaxRequestsPerBatch,
		}),
	}, nil
}

// close stops the manager, leaving interrupted transfers pending, then
// closes the database.
func (e *engine) close(ctx context.Context) error {
	managerErr := e.manager.Close(ctx)
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("failed to close downloads database: %w", err)
	}
	return managerErr
}
