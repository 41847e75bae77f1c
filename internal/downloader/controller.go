package downloader

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/veranemoloko/batchdl/internal/domain"
	errs "github.com/veranemoloko/batchdl/internal/errors"
	"github.com/veranemoloko/batchdl/internal/metrics"
	"github.com/veranemoloko/batchdl/internal/repository"
	"github.com/veranemoloko/batchdl/internal/session"
	"github.com/veranemoloko/batchdl/internal/storage"
)

// DataController owns the in-memory state of every tracked batch. All state
// lives on one goroutine; public methods submit work to it and wait.
type DataController struct {
	maxSimultaneous int
	store           repository.DownloadsStore
	files           *storage.FileStorage
	canceller       Canceller
	logger          *slog.Logger

	inbox        chan func()
	shutdownChan chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup

	// owned by the loop goroutine
	session    session.Session
	running    map[int]*Response
	batches    map[int64]*BatchResponse
	reconciled bool
	draining   bool
}

// NewDataController starts the controller loop. maxSimultaneous bounds the
// number of live transfer tasks and must be at least 1.
func NewDataController(
	maxSimultaneous int,
	store repository.DownloadsStore,
	files *storage.FileStorage,
	canceller Canceller,
	logger *slog.Logger,
) *DataController {
	if maxSimultaneous < 1 {
		maxSimultaneous = 1
	}
	c := &DataController{
		maxSimultaneous: maxSimultaneous,
		store:           store,
		files:           files,
		canceller:       canceller,
		logger:          logger,
		inbox:           make(chan func()),
		shutdownChan:    make(chan struct{}),
		running:         make(map[int]*Response),
		batches:         make(map[int64]*BatchResponse),
	}

	c.wg.Add(1)
	go c.loop()

	return c
}

func (c *DataController) loop() {
	defer c.wg.Done()

	for {
		select {
		case op := <-c.inbox:
			op()
			metrics.DownloadsInFlight.Set(float64(len(c.running)))
		case <-c.shutdownChan:
			for {
				select {
				case op := <-c.inbox:
					op()
				default:
					return
				}
			}
		}
	}
}

// do runs fn on the loop goroutine and returns its error.
func (c *DataController) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case c.inbox <- func() { result <- fn() }:
	case <-c.shutdownChan:
		return errs.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop. Pending calls fail with ErrClosed.
func (c *DataController) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.shutdownChan) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetSession attaches the session new transfer tasks are created on.
func (c *DataController) SetSession(ctx context.Context, s session.Session) error {
	return c.do(ctx, func() error {
		c.session = s
		return nil
	})
}

// Drain stops admitting downloads. Interrupted transfers reported afterwards
// keep their items pending for the next start.
func (c *DataController) Drain(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.draining = true
		return nil
	})
}

// Download persists a new batch, tracks it and admits as many of its items as
// free slots allow. When admission fails the batch stays tracked and the
// error is returned.
func (c *DataController) Download(ctx context.Context, request domain.BatchRequest) (*BatchResponse, error) {
	if len(request.Requests) == 0 {
		return nil, errs.ErrEmptyBatch
	}

	var batch *BatchResponse
	err := c.do(ctx, func() error {
		stored, err := c.store.Insert(ctx, request, domain.DownloadStatusPending)
		if err != nil {
			return errs.Wrap(err, "persist batch")
		}
		batch = c.track(stored)
		metrics.BatchesCreated.Inc()
		c.logger.Info("batch enqueued", "batch_id", stored.ID, "downloads_count", len(stored.Downloads))

		return c.startPendingTasks(ctx)
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// LoadBatchesFromPersistence tracks every persisted batch without creating tasks.
func (c *DataController) LoadBatchesFromPersistence(ctx context.Context) error {
	return c.do(ctx, func() error {
		return c.loadBatches(ctx)
	})
}

func (c *DataController) loadBatches(ctx context.Context) error {
	batches, err := c.store.RetrieveAll(ctx)
	if err != nil {
		return errs.Wrap(err, "retrieve batches")
	}
	loaded := 0
	for _, batch := range batches {
		if _, ok := c.batches[batch.ID]; ok {
			continue
		}
		c.track(batch)
		loaded++
	}
	c.logger.Info("batches loaded from persistence", "batches_count", loaded)
	return nil
}

func (c *DataController) track(batch domain.DownloadBatch) *BatchResponse {
	responses := make([]*Response, 0, len(batch.Downloads))
	for _, download := range batch.Downloads {
		r := newResponse(download)
		if download.Status == domain.DownloadStatusCompleted {
			r.promise.Fulfill()
		}
		responses = append(responses, r)
	}
	response := newBatchResponse(batch.ID, responses, c.canceller)
	c.batches[batch.ID] = response
	return response
}

// SetRunningTasks reconciles tracked items with the tasks that are still
// alive: items whose task survived are re-attached, the others return to
// pending, and tasks nobody claims are cancelled. Admission starts only
// after the first reconciliation.
func (c *DataController) SetRunningTasks(ctx context.Context, tasks []session.DownloadTask) error {
	return c.do(ctx, func() error {
		live := make(map[int]session.DownloadTask, len(tasks))
		for _, task := range tasks {
			live[task.ID()] = task
		}

		var lost []*Response
		for _, batch := range c.sortedBatches() {
			for _, r := range batch.responses {
				if !r.IsPending() {
					continue
				}
				download := r.Download()
				if download.TaskID == nil {
					if download.Status == domain.DownloadStatusDownloading {
						r.demote()
						lost = append(lost, r)
					}
					continue
				}
				if task, ok := live[*download.TaskID]; ok {
					r.setTask(task)
					c.running[task.ID()] = r
					delete(live, task.ID())
					c.logger.Info("download re-attached to task", "batch_id", batch.id, "task", session.Describe(task))
					continue
				}
				r.demote()
				lost = append(lost, r)
				c.logger.Info("download task lost, back to pending", "batch_id", batch.id, "url", download.Request.URL)
			}
		}

		orphans := make([]session.DownloadTask, 0, len(live))
		for _, task := range live {
			orphans = append(orphans, task)
		}
		sort.Slice(orphans, func(i, j int) bool { return orphans[i].ID() < orphans[j].ID() })
		for _, task := range orphans {
			c.logger.Info("cancelling orphan task", "task", session.Describe(task))
			task.Cancel()
		}
		c.reconciled = true

		var persistErr error
		if len(lost) > 0 {
			if err := c.store.Update(ctx, downloadsOf(lost)); err != nil {
				persistErr = errs.Wrap(err, "persist lost downloads")
			}
		}

		c.sweep(ctx)
		if err := c.startPendingTasks(ctx); err != nil {
			return err
		}
		return persistErr
	})
}

// DownloadResponse returns the response a task belongs to, or nil.
func (c *DataController) DownloadResponse(ctx context.Context, task session.Task) (*Response, error) {
	var response *Response
	err := c.do(ctx, func() error {
		response = c.lookup(task)
		return nil
	})
	return response, err
}

func (c *DataController) lookup(task session.Task) *Response {
	if r, ok := c.running[task.ID()]; ok {
		return r
	}
	for _, batch := range c.sortedBatches() {
		for _, r := range batch.responses {
			id := r.taskID()
			if id == nil || *id != task.ID() || !r.IsPending() {
				continue
			}
			recordError(c.logger, "download found outside running set", "response_not_running", nil,
				"batch_id", batch.id, "task", session.Describe(task))
			c.running[task.ID()] = r
			if r.Task() == nil {
				if downloadTask, ok := task.(session.DownloadTask); ok {
					r.setTask(downloadTask)
				}
			}
			return r
		}
	}
	return nil
}

// DownloadCompleted marks the item of r completed.
func (c *DataController) DownloadCompleted(ctx context.Context, r *Response) error {
	return c.do(ctx, func() error {
		if !r.IsPending() {
			c.logger.Debug("ignoring completion of settled download", "url", r.Request().URL)
			return nil
		}

		previous := r.snapshot()
		r.finish()
		if err := c.store.Update(ctx, []domain.Download{r.Download()}); err != nil {
			r.restore(previous)
			return errs.Wrap(err, "persist completed download")
		}
		if previous.download.TaskID != nil {
			delete(c.running, *previous.download.TaskID)
		}

		metrics.DownloadsCompleted.Inc()
		metrics.DownloadDuration.Observe(r.since().Seconds())
		r.promise.Fulfill()
		c.logger.Info("download completed", "batch_id", previous.download.BatchID, "url", previous.download.Request.URL)

		c.sweep(ctx)
		return c.startPendingTasks(ctx)
	})
}

// DownloadFailed settles the item of r with cause. A cancellation nobody
// requested, such as a session teardown, returns the item to pending instead.
func (c *DataController) DownloadFailed(ctx context.Context, r *Response, cause error) error {
	return c.do(ctx, func() error {
		if !r.IsPending() {
			if id := r.taskID(); id != nil {
				delete(c.running, *id)
			}
			c.logger.Debug("ignoring failure of settled download", "url", r.Request().URL, "error", cause)
			return nil
		}

		previous := r.snapshot()
		interrupted := errs.IsCancelled(cause) && !r.wasCancelled()
		r.demote()
		if err := c.store.Update(ctx, []domain.Download{r.Download()}); err != nil {
			r.restore(previous)
			return errs.Wrap(err, "persist failed download")
		}
		if previous.download.TaskID != nil {
			delete(c.running, *previous.download.TaskID)
		}

		if interrupted {
			c.logger.Info("download interrupted, back to pending", "batch_id", previous.download.BatchID, "url", previous.download.Request.URL)
		} else {
			metrics.DownloadsFailed.Inc()
			r.promise.Reject(cause)
			c.logger.Warn("download failed", "batch_id", previous.download.BatchID, "url", previous.download.Request.URL, "error", cause)
		}

		c.sweep(ctx)
		return c.startPendingTasks(ctx)
	})
}

// Cancel rejects every unfinished item of batch and cancels its tasks.
// Cancelling a batch that is no longer tracked does nothing.
func (c *DataController) Cancel(ctx context.Context, batch *BatchResponse) error {
	return c.do(ctx, func() error {
		if tracked, ok := c.batches[batch.id]; !ok || tracked != batch {
			c.logger.Debug("ignoring cancel of untracked batch", "batch_id", batch.id)
			return nil
		}

		c.logger.Info("cancelling batch", "batch_id", batch.id)
		c.cancelResponses(batch)

		c.sweep(ctx)
		return c.startPendingTasks(ctx)
	})
}

func (c *DataController) cancelResponses(batch *BatchResponse) {
	for _, r := range batch.responses {
		if !r.IsPending() {
			continue
		}
		r.markCancelled()
		if id := r.taskID(); id != nil {
			delete(c.running, *id)
		}
		r.promise.Reject(errs.ErrCancelled)
		if task := r.Task(); task != nil {
			task.Cancel()
		}
	}
}

// OnGoingDownloads returns the tracked batches ordered by id.
func (c *DataController) OnGoingDownloads(ctx context.Context) ([]*BatchResponse, error) {
	var batches []*BatchResponse
	err := c.do(ctx, func() error {
		batches = c.sortedBatches()
		return nil
	})
	return batches, err
}

// Batch returns the tracked batch with id.
func (c *DataController) Batch(ctx context.Context, id int64) (*BatchResponse, error) {
	var batch *BatchResponse
	err := c.do(ctx, func() error {
		b, ok := c.batches[id]
		if !ok {
			return errs.ErrBatchNotFound
		}
		batch = b
		return nil
	})
	return batch, err
}

func (c *DataController) sortedBatches() []*BatchResponse {
	batches := make([]*BatchResponse, 0, len(c.batches))
	for _, batch := range c.batches {
		batches = append(batches, batch)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].id < batches[j].id })
	return batches
}

type admission struct {
	response *Response
	previous responseState
	task     session.DownloadTask
}

// startPendingTasks fills free slots with pending items, oldest batch first
// and in list order within a batch. When persisting fails every admitted item
// is rolled back and its task cancelled.
func (c *DataController) startPendingTasks(ctx context.Context) error {
	if c.session == nil || !c.reconciled || c.draining {
		return nil
	}
	slots := c.maxSimultaneous - len(c.running)
	if slots <= 0 {
		return nil
	}

	now := time.Now()
	var admitted []admission
admit:
	for _, batch := range c.sortedBatches() {
		for _, r := range batch.responses {
			if len(admitted) >= slots {
				break admit
			}
			if !r.IsPending() || r.Status() != domain.DownloadStatusPending {
				continue
			}
			request := r.Request()
			task := c.session.DownloadTask(session.NewRequest(request, c.resumeData(request)))
			admitted = append(admitted, admission{response: r, previous: r.snapshot(), task: task})
			r.attach(task, now)
			c.running[task.ID()] = r
		}
	}
	if len(admitted) == 0 {
		return nil
	}

	downloads := make([]domain.Download, len(admitted))
	for i, a := range admitted {
		downloads[i] = a.response.Download()
	}
	if err := c.store.Update(ctx, downloads); err != nil {
		for _, a := range admitted {
			a.response.restore(a.previous)
			delete(c.running, a.task.ID())
		}
		for _, a := range admitted {
			a.task.Cancel()
		}
		return errs.Wrap(err, "persist admitted downloads")
	}

	for _, a := range admitted {
		a.task.Resume()
	}
	metrics.DownloadsAdmitted.Add(float64(len(admitted)))
	c.logger.Info("downloads admitted", "downloads_count", len(admitted), "running", len(c.running))
	return nil
}

func (c *DataController) resumeData(request domain.DownloadRequest) []byte {
	if c.files == nil || request.ResumePath == "" {
		return nil
	}
	data, err := c.files.ReadResume(request.ResumePath)
	if err != nil {
		c.logger.Warn("failed to read resume data", "url", request.URL, "path", request.ResumePath, "error", err)
		return nil
	}
	return data
}

type batchState int

const (
	batchPending batchState = iota
	batchCompleted
	batchFailed
)

// foldBatch aggregates the item results. Any rejection fails the batch; the
// primary error is the first one that is not a cancellation.
func foldBatch(batch *BatchResponse) (batchState, error) {
	state := batchCompleted
	var failures []error
	for _, r := range batch.responses {
		settled, err := r.promise.result()
		switch {
		case !settled:
			if state == batchCompleted {
				state = batchPending
			}
		case err != nil:
			state = batchFailed
			failures = append(failures, err)
		}
	}
	if state != batchFailed {
		return state, nil
	}
	for _, err := range failures {
		if !errs.IsCancelled(err) {
			return batchFailed, err
		}
	}
	return batchFailed, errs.ErrCancelled
}

// sweep settles and forgets finished batches and deletes them from the store.
func (c *DataController) sweep(ctx context.Context) {
	type finished struct {
		batch *BatchResponse
		err   error
	}
	var done []finished
	for _, batch := range c.sortedBatches() {
		state, err := foldBatch(batch)
		switch state {
		case batchPending:
			continue
		case batchFailed:
			c.cancelResponses(batch)
		}
		delete(c.batches, batch.id)
		done = append(done, finished{batch: batch, err: err})
	}
	if len(done) == 0 {
		return
	}

	ids := make([]int64, len(done))
	for i, f := range done {
		ids[i] = f.batch.id
	}
	if err := c.store.Delete(ctx, ids); err != nil {
		recordError(c.logger, "failed to delete finished batches", "delete_batches", err, "batch_ids", ids)
	}

	for _, f := range done {
		if f.err == nil {
			metrics.BatchesCompleted.Inc()
			f.batch.promise.Fulfill()
			c.logger.Info("batch completed", "batch_id", f.batch.id)
			continue
		}
		metrics.BatchesFailed.Inc()
		f.batch.promise.Reject(f.err)
		c.logger.Warn("batch failed", "batch_id", f.batch.id, "error", f.err)
	}
}

func downloadsOf(responses []*Response) []domain.Download {
	downloads := make([]domain.Download, len(responses))
	for i, r := range responses {
		downloads[i] = r.Download()
	}
	return downloads
}
