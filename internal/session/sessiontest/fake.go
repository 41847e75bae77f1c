// Package sessiontest provides a Session whose callbacks are driven by tests.
package sessiontest

import (
	"context"
	"net/http"
	"sort"
	"sync"

	errs "github.com/veranemoloko/batchdl/internal/errors"
	"github.com/veranemoloko/batchdl/internal/session"
)

// FakeTask records what was done to it.
type FakeTask struct {
	id       int
	original *session.Request

	mu          sync.Mutex
	response    *http.Response
	resumed     bool
	cancelCount int
	resumeData  []byte
}

var _ session.DownloadTask = (*FakeTask)(nil)

// NewFakeTask creates a task outside of any session.
func NewFakeTask(id int, url string) *FakeTask {
	return &FakeTask{id: id, original: &session.Request{URL: url, Method: http.MethodGet, Header: make(http.Header)}}
}

func (t *FakeTask) ID() int { return t.id }

func (t *FakeTask) OriginalRequest() *session.Request { return t.original }

func (t *FakeTask) CurrentRequest() *session.Request { return t.original }

func (t *FakeTask) Response() *http.Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

// SetResponse sets the response seen by status validation.
func (t *FakeTask) SetResponse(statusCode int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.response = &http.Response{StatusCode: statusCode, Status: http.StatusText(statusCode), Header: make(http.Header)}
}

func (t *FakeTask) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumed = true
}

// Cancel only records the call; use FakeSession.DeliverCancellation to report it.
func (t *FakeTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelCount++
}

func (t *FakeTask) CancelProducingResumeData() []byte {
	t.Cancel()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumeData
}

// IsResumed reports whether Resume was called.
func (t *FakeTask) IsResumed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumed
}

// IsCancelled reports whether Cancel was called at least once.
func (t *FakeTask) IsCancelled() bool {
	return t.CancelCount() > 0
}

// CancelCount returns the number of Cancel calls.
func (t *FakeTask) CancelCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelCount
}

// FakeSession is a session.Session whose callbacks run synchronously on the test goroutine.
type FakeSession struct {
	mu        sync.Mutex
	delegate  session.Delegate
	nextID    int
	created   []*FakeTask
	live      map[int]*FakeTask
	closed    bool
	closeHook func()
}

var _ session.Session = (*FakeSession)(nil)

// NewFakeSession creates an empty session.
func NewFakeSession() *FakeSession {
	return &FakeSession{nextID: 1, live: make(map[int]*FakeTask)}
}

// Factory returns a session.Factory that attaches the delegate and hands out s.
func (s *FakeSession) Factory() session.Factory {
	return func(delegate session.Delegate) (session.Session, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.delegate = delegate
		return s, nil
	}
}

// AddSurvivingTask registers a live task as if it outlived a previous process.
func (s *FakeSession) AddSurvivingTask(id int, url string) *FakeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := NewFakeTask(id, url)
	s.live[id] = task
	if id >= s.nextID {
		s.nextID = id + 1
	}
	return task
}

// OnClose runs fn when Close is called.
func (s *FakeSession) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeHook = fn
}

func (s *FakeSession) DownloadTask(req session.Request) session.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	original := req
	task := &FakeTask{id: s.nextID, original: &original}
	s.nextID++
	s.created = append(s.created, task)
	s.live[task.id] = task
	return task
}

func (s *FakeSession) Tasks(ctx context.Context) ([]session.DownloadTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := make([]session.DownloadTask, 0, len(s.live))
	for _, t := range s.live {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID() < tasks[j].ID() })
	return tasks, nil
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	hook := s.closeHook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

// IsClosed reports whether Close was called.
func (s *FakeSession) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CreatedTasks returns the tasks created through DownloadTask, in creation order.
func (s *FakeSession) CreatedTasks() []*FakeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*FakeTask(nil), s.created...)
}

// TaskFor returns the most recently created task for url.
func (s *FakeSession) TaskFor(url string) *FakeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.created) - 1; i >= 0; i-- {
		if s.created[i].original.URL == url {
			return s.created[i]
		}
	}
	return nil
}

// LiveTasks returns the number of tasks that did not complete yet.
func (s *FakeSession) LiveTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// CompleteTask reports progressLoops progress callbacks, the downloaded file
// at location (skipped when empty) and a successful completion.
func (s *FakeSession) CompleteTask(task *FakeTask, location string, totalBytes int64, progressLoops int) {
	ctx := context.Background()
	delegate := s.currentDelegate()
	if task.Response() == nil {
		task.SetResponse(http.StatusOK)
	}

	if progressLoops > 0 {
		step := totalBytes / int64(progressLoops)
		var written int64
		for i := 0; i < progressLoops; i++ {
			chunk := step
			if i == progressLoops-1 {
				chunk = totalBytes - written
			}
			written += chunk
			delegate.DidWriteData(ctx, task, chunk, written, totalBytes)
		}
	}
	if location != "" {
		delegate.DidFinishDownloading(ctx, task, location)
	}
	s.finish(task, nil)
}

// FailTask reports a completion with err.
func (s *FakeSession) FailTask(task *FakeTask, err error) {
	s.finish(task, err)
}

// DeliverCancellation reports the completion a cancelled task produces.
func (s *FakeSession) DeliverCancellation(task *FakeTask) {
	s.finish(task, errs.ErrCancelled)
}

// FinishEvents reports that every queued background event was delivered.
func (s *FakeSession) FinishEvents() {
	s.currentDelegate().DidFinishEvents(context.Background())
}

func (s *FakeSession) finish(task *FakeTask, err error) {
	s.mu.Lock()
	delete(s.live, task.id)
	delegate := s.delegate
	s.mu.Unlock()
	delegate.DidComplete(context.Background(), task, err)
}

func (s *FakeSession) currentDelegate() session.Delegate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate
}
