package downloader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/veranemoloko/batchdl/internal/domain"
	errs "github.com/veranemoloko/batchdl/internal/errors"
	"github.com/veranemoloko/batchdl/internal/repository"
	"github.com/veranemoloko/batchdl/internal/session"
	"github.com/veranemoloko/batchdl/internal/storage"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	MaxSimultaneousDownloads int
	// StartupRetries bounds the attempts to load persisted batches.
	StartupRetries int
	RetryDelay     time.Duration
}

// Manager is the entry point of the download engine. It restores persisted
// batches and reconciles them with live tasks before serving requests.
type Manager struct {
	cfg     ManagerConfig
	factory session.Factory
	logger  *slog.Logger

	controller *DataController
	delegate   *Delegate

	ready       chan struct{}
	startCancel context.CancelFunc
	closeOnce   sync.Once
	closeErr    error

	// written by start before ready is closed
	session  session.Session
	startErr error
}

var _ Canceller = (*Manager)(nil)

// NewManager creates a Manager and starts its startup sequence in the background.
func NewManager(
	cfg ManagerConfig,
	store repository.DownloadsStore,
	files *storage.FileStorage,
	factory session.Factory,
	logger *slog.Logger,
) *Manager {
	if cfg.StartupRetries < 1 {
		cfg.StartupRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}

	m := &Manager{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		ready:   make(chan struct{}),
	}
	m.controller = NewDataController(cfg.MaxSimultaneousDownloads, store, files, m, logger.With("component", "controller"))
	m.delegate = NewDelegate(m.controller, files, logger.With("component", "delegate"))

	ctx, cancel := context.WithCancel(context.Background())
	m.startCancel = cancel
	go m.start(ctx)

	return m
}

func (m *Manager) start(ctx context.Context) {
	defer close(m.ready)

	m.loadBatches(ctx)

	s, err := m.factory(m.delegate)
	if err != nil {
		m.startErr = errs.Wrap(err, "create session")
		recordError(m.logger, "failed to create session", "create_session", err)
		return
	}
	m.session = s

	if err := m.controller.SetSession(ctx, s); err != nil {
		m.startErr = errs.Wrap(err, "attach session")
		return
	}

	tasks, err := s.Tasks(ctx)
	if err != nil {
		m.logger.Warn("failed to list live tasks", "error", err)
	}
	if err := m.controller.SetRunningTasks(ctx, tasks); err != nil {
		if errors.Is(err, errs.ErrClosed) || errors.Is(err, context.Canceled) {
			m.startErr = err
			return
		}
		recordError(m.logger, "failed to reconcile running tasks", "set_running_tasks", err)
	}

	m.logger.Info("download manager ready", "live_tasks", len(tasks))
}

func (m *Manager) loadBatches(ctx context.Context) {
	var err error
	for attempt := 1; attempt <= m.cfg.StartupRetries; attempt++ {
		if err = m.controller.LoadBatchesFromPersistence(ctx); err == nil {
			return
		}
		m.logger.Warn("failed to load persisted batches", "attempt", attempt, "error", err)
		if attempt == m.cfg.StartupRetries {
			break
		}

		select {
		case <-time.After(m.cfg.RetryDelay):
		case <-ctx.Done():
			return
		}
	}
	recordError(m.logger, "starting without persisted batches", "load_batches", err)
}

// Ready is closed once the startup sequence finished.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

func (m *Manager) waitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return m.startErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Download enqueues a batch.
func (m *Manager) Download(ctx context.Context, request domain.BatchRequest) (*BatchResponse, error) {
	if err := m.waitReady(ctx); err != nil {
		return nil, err
	}
	return m.controller.Download(ctx, request)
}

// OnGoingDownloads returns the batches that did not finish yet, ordered by id.
func (m *Manager) OnGoingDownloads(ctx context.Context) ([]*BatchResponse, error) {
	if err := m.waitReady(ctx); err != nil {
		return nil, err
	}
	return m.controller.OnGoingDownloads(ctx)
}

// Batch returns the unfinished batch with id.
func (m *Manager) Batch(ctx context.Context, id int64) (*BatchResponse, error) {
	if err := m.waitReady(ctx); err != nil {
		return nil, err
	}
	return m.controller.Batch(ctx, id)
}

// Cancel cancels batch. Cancelling a finished batch does nothing.
func (m *Manager) Cancel(ctx context.Context, batch *BatchResponse) error {
	if err := m.waitReady(ctx); err != nil {
		return err
	}
	return m.controller.Cancel(ctx, batch)
}

// SetBackgroundCompletionHandler sets a one-shot handler run when the session
// finished delivering its events.
func (m *Manager) SetBackgroundCompletionHandler(fn func()) {
	m.delegate.SetBackgroundCompletionHandler(fn)
}

// Close stops admission, closes the session so interrupted transfers are
// recorded as pending, then stops the controller.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.closeErr = m.close(ctx)
	})
	return m.closeErr
}

func (m *Manager) close(ctx context.Context) error {
	select {
	case <-m.ready:
	default:
		m.startCancel()
		select {
		case <-m.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer m.startCancel()

	if err := m.controller.Drain(ctx); err != nil && !errors.Is(err, errs.ErrClosed) {
		m.logger.Warn("failed to drain controller", "error", err)
	}

	var sessionErr error
	if m.session != nil {
		sessionErr = m.session.Close()
	}

	if err := m.controller.Close(ctx); err != nil {
		return err
	}
	m.logger.Info("download manager closed")
	return sessionErr
}
