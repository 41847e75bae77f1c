package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/veranemoloko/batchdl/internal/domain"
	"github.com/veranemoloko/batchdl/internal/session"
)

// Response tracks one download while it is held in memory. It is mutated
// only by the DataController; accessors are safe from any goroutine.
type Response struct {
	promise *Promise

	mu         sync.Mutex
	download   domain.Download
	task       session.DownloadTask
	total      int64
	completed  int64
	admittedAt time.Time
	cancelled  bool
}

func newResponse(download domain.Download) *Response {
	return &Response{download: download, promise: NewPromise()}
}

// Download returns a snapshot of the tracked item.
func (r *Response) Download() domain.Download {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.download
	if d.TaskID != nil {
		d.TaskID = domain.TaskIDPtr(*d.TaskID)
	}
	return d
}

// Request returns the request of the item.
func (r *Response) Request() domain.DownloadRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.download.Request
}

// Status returns the current item status.
func (r *Response) Status() domain.DownloadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.download.Status
}

// Task returns the live transfer task, if any. The task is owned by the session.
func (r *Response) Task() session.DownloadTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task
}

// Progress returns the completed fraction in [0, 1].
func (r *Response) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.download.Status == domain.DownloadStatusCompleted {
		return 1
	}
	if r.total <= 0 {
		return 0
	}
	fraction := float64(r.completed) / float64(r.total)
	if fraction > 1 {
		return 1
	}
	return fraction
}

// Done is closed once the download finished, failed or was cancelled.
func (r *Response) Done() <-chan struct{} { return r.promise.Done() }

// Wait blocks until the download settles or ctx is done.
func (r *Response) Wait(ctx context.Context) error { return r.promise.Wait(ctx) }

// Err returns the failure of a settled download.
func (r *Response) Err() error { return r.promise.Err() }

// IsPending reports whether the download has not settled yet.
func (r *Response) IsPending() bool { return r.promise.IsPending() }

func (r *Response) taskID() *int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.download.TaskID
}

// attach binds a live task and marks the item downloading.
func (r *Response) attach(task session.DownloadTask, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.task = task
	r.download.TaskID = domain.TaskIDPtr(task.ID())
	r.download.Status = domain.DownloadStatusDownloading
	r.admittedAt = now
}

// demote detaches the task and returns the item to pending.
func (r *Response) demote() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.task = nil
	r.download.TaskID = nil
	r.download.Status = domain.DownloadStatusPending
	r.total, r.completed = 0, 0
}

type responseState struct {
	download domain.Download
	task     session.DownloadTask
}

func (r *Response) snapshot() responseState {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.download
	if d.TaskID != nil {
		d.TaskID = domain.TaskIDPtr(*d.TaskID)
	}
	return responseState{download: d, task: r.task}
}

func (r *Response) restore(state responseState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.download = state.download
	r.task = state.task
}

// finish marks the item completed and detaches its task.
func (r *Response) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.task = nil
	r.download.TaskID = nil
	r.download.Status = domain.DownloadStatusCompleted
}

func (r *Response) setTask(task session.DownloadTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.task = task
	if r.admittedAt.IsZero() {
		r.admittedAt = time.Now()
	}
}

func (r *Response) setProgress(totalWritten, totalExpected int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = totalWritten
	if totalExpected > 0 {
		r.total = totalExpected
	}
}

func (r *Response) markCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

func (r *Response) wasCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *Response) since() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.admittedAt.IsZero() {
		return 0
	}
	return time.Since(r.admittedAt)
}

// Canceller cancels batches on behalf of a BatchResponse.
type Canceller interface {
	Cancel(ctx context.Context, batch *BatchResponse) error
}

// BatchResponse aggregates the responses of one batch.
type BatchResponse struct {
	id        int64
	responses []*Response
	promise   *Promise
	canceller Canceller
}

func newBatchResponse(id int64, responses []*Response, canceller Canceller) *BatchResponse {
	return &BatchResponse{id: id, responses: responses, promise: NewPromise(), canceller: canceller}
}

// ID returns the persisted batch id.
func (b *BatchResponse) ID() int64 { return b.id }

// Responses returns the item responses in submission order.
func (b *BatchResponse) Responses() []*Response {
	return append([]*Response(nil), b.responses...)
}

// Requests returns the item requests in submission order.
func (b *BatchResponse) Requests() []domain.DownloadRequest {
	requests := make([]domain.DownloadRequest, len(b.responses))
	for i, r := range b.responses {
		requests[i] = r.Request()
	}
	return requests
}

// Progress is the mean progress of the items.
func (b *BatchResponse) Progress() float64 {
	if len(b.responses) == 0 {
		return 0
	}
	var sum float64
	for _, r := range b.responses {
		sum += r.Progress()
	}
	return sum / float64(len(b.responses))
}

// Done is closed once every item settled.
func (b *BatchResponse) Done() <-chan struct{} { return b.promise.Done() }

// Wait blocks until the batch settles or ctx is done. It returns the
// batch failure, nil when every item succeeded.
func (b *BatchResponse) Wait(ctx context.Context) error { return b.promise.Wait(ctx) }

// Err returns the failure of a settled batch.
func (b *BatchResponse) Err() error { return b.promise.Err() }

// IsPending reports whether the batch has not settled yet.
func (b *BatchResponse) IsPending() bool { return b.promise.IsPending() }

// Cancel requests cancellation of every unfinished item.
func (b *BatchResponse) Cancel(ctx context.Context) error {
	if b.canceller == nil {
		return nil
	}
	return b.canceller.Cancel(ctx, b)
}

// State is the caller-visible aggregate state.
func (b *BatchResponse) State() domain.BatchState {
	settled, err := b.promise.result()
	switch {
	case !settled:
		return domain.BatchStateDownloading
	case err != nil:
		return domain.BatchStateFailed
	default:
		return domain.BatchStateCompleted
	}
}

// View renders the batch for API responses.
func (b *BatchResponse) View() domain.BatchView {
	view := domain.BatchView{
		ID:       b.id,
		State:    b.State(),
		Progress: b.Progress(),
		Items:    make([]domain.ItemView, 0, len(b.responses)),
	}
	if err := b.Err(); err != nil {
		view.Error = err.Error()
	}
	for _, r := range b.responses {
		d := r.Download()
		item := domain.ItemView{
			URL:             d.Request.URL,
			DestinationPath: d.Request.DestinationPath,
			Status:          d.Status,
			Progress:        r.Progress(),
		}
		if err := r.Err(); err != nil {
			item.Error = err.Error()
		}
		view.Items = append(view.Items, item)
	}
	return view
}
