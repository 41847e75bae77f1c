package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	errs "github.com/veranemoloko/batchdl/internal/errors"
	"github.com/veranemoloko/batchdl/internal/storage"
)

// HTTPConfig configures an HTTPSession.
type HTTPConfig struct {
	// Identifier names the session; temporary files live in TempDir/Identifier.
	Identifier            string
	TempDir               string
	ResponseHeaderTimeout time.Duration
	// ProgressInterval throttles DidWriteData callbacks.
	ProgressInterval time.Duration
	Client           *http.Client
}

// HTTPSession performs transfers over HTTP, one goroutine per resumed task.
type HTTPSession struct {
	cfg      HTTPConfig
	client   *http.Client
	temp     *storage.FileStorage
	delegate Delegate
	logger   *slog.Logger
	events   *eventQueue

	nextID atomic.Int64

	mu     sync.Mutex
	tasks  map[int]*httpTask
	closed bool
	wg     sync.WaitGroup
}

var _ Session = (*HTTPSession)(nil)

// NewHTTPSession creates a session reporting to delegate.
func NewHTTPSession(cfg HTTPConfig, delegate Delegate, logger *slog.Logger) (*HTTPSession, error) {
	if cfg.Identifier == "" {
		cfg.Identifier = "default"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 200 * time.Millisecond
	}

	dir := filepath.Join(cfg.TempDir, cfg.Identifier)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	client := cfg.Client
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
		client = &http.Client{Transport: transport}
	}

	return &HTTPSession{
		cfg:      cfg,
		client:   client,
		temp:     storage.NewFileStorage(dir),
		delegate: delegate,
		logger:   logger.With("session", cfg.Identifier),
		events:   newEventQueue(),
		tasks:    make(map[int]*httpTask),
	}, nil
}

// DownloadTask creates a suspended task for req.
func (s *HTTPSession) DownloadTask(req Request) DownloadTask {
	original := req
	original.Header = req.Header.Clone()
	if original.Header == nil {
		original.Header = make(http.Header)
	}
	if original.Method == "" {
		original.Method = http.MethodGet
	}
	current := original

	task := &httpTask{
		id:       int(s.nextID.Add(1)),
		session:  s,
		original: &original,
		current:  &current,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.tasks[task.id] = task
	s.mu.Unlock()
	return task
}

// Tasks lists live tasks ordered by id.
func (s *HTTPSession) Tasks(ctx context.Context) ([]DownloadTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]DownloadTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID() < tasks[j].ID() })
	return tasks, nil
}

// Close cancels every live task keeping resume data, waits for the
// transfers and delivers the remaining callbacks.
func (s *HTTPSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tasks := make([]*httpTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel(true)
	}
	s.wg.Wait()
	s.events.close()

	s.logger.Info("session closed", "cancelled_tasks", len(tasks))
	return nil
}

func (s *HTTPSession) startTransfer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *HTTPSession) progress(t *httpTask, written, totalWritten, totalExpected int64) {
	s.events.push(func() {
		s.delegate.DidWriteData(context.Background(), t, written, totalWritten, totalExpected)
	})
}

func (s *HTTPSession) deliver(t *httpTask, location string, err error) {
	queued := s.events.push(func() {
		ctx := context.Background()
		if location != "" {
			s.delegate.DidFinishDownloading(ctx, t, location)
			if rmErr := s.temp.Remove(location); rmErr != nil {
				s.logger.Warn("failed to remove temporary file", "task_id", t.id, "path", location, "error", rmErr)
			}
		}

		s.mu.Lock()
		delete(s.tasks, t.id)
		idle := len(s.tasks) == 0
		s.mu.Unlock()

		s.delegate.DidComplete(ctx, t, err)
		if idle {
			s.delegate.DidFinishEvents(ctx)
		}
	})
	if !queued {
		if location != "" {
			s.temp.Remove(location)
		}
		s.mu.Lock()
		delete(s.tasks, t.id)
		s.mu.Unlock()
		s.logger.Warn("completion dropped after close", "task_id", t.id, "error", err)
	}
}

type taskState int

const (
	taskSuspended taskState = iota
	taskRunning
	taskCompleted
)

// resumeState is the resume data format of HTTPSession.
type resumeState struct {
	URL          string `json:"url"`
	PartialPath  string `json:"partialPath"`
	Offset       int64  `json:"offset"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

type httpTask struct {
	id       int
	session  *HTTPSession
	original *Request

	mu             sync.Mutex
	state          taskState
	current        *Request
	response       *http.Response
	cancelFn       context.CancelFunc
	keepResumeData bool
	resumeData     []byte
	done           chan struct{}
}

func (t *httpTask) ID() int { return t.id }

func (t *httpTask) OriginalRequest() *Request { return t.original }

func (t *httpTask) CurrentRequest() *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *httpTask) Response() *http.Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

func (t *httpTask) Resume() {
	t.mu.Lock()
	if t.state != taskSuspended {
		t.mu.Unlock()
		return
	}
	t.state = taskRunning
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelFn = cancel
	t.mu.Unlock()

	if !t.session.startTransfer() {
		t.complete("", errs.ErrCancelled)
		return
	}
	go t.run(ctx)
}

func (t *httpTask) Cancel() {
	t.cancel(false)
}

func (t *httpTask) CancelProducingResumeData() []byte {
	if !t.cancel(true) {
		return nil
	}
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumeData
}

func (t *httpTask) cancel(keepResumeData bool) bool {
	t.mu.Lock()
	switch t.state {
	case taskSuspended:
		t.state = taskCompleted
		t.mu.Unlock()
		t.complete("", errs.ErrCancelled)
		return true
	case taskRunning:
		t.keepResumeData = t.keepResumeData || keepResumeData
		cancel := t.cancelFn
		t.mu.Unlock()
		cancel()
		return true
	default:
		t.mu.Unlock()
		return false
	}
}

func (t *httpTask) run(ctx context.Context) {
	defer t.session.wg.Done()
	location, err := t.transfer(ctx)
	t.complete(location, err)
}

func (t *httpTask) complete(location string, err error) {
	t.mu.Lock()
	t.state = taskCompleted
	if t.cancelFn != nil {
		t.cancelFn()
	}
	t.resumeData, _ = ResumeData(err)
	t.mu.Unlock()
	close(t.done)

	t.session.deliver(t, location, err)
}

func (t *httpTask) transfer(ctx context.Context) (string, error) {
	s := t.session
	req := t.original

	var resume *resumeState
	if len(req.ResumeData) > 0 {
		resume = t.validResumeState(req.ResumeData)
	}
	offset := int64(0)
	partial := ""
	if resume != nil {
		offset = resume.Offset
		partial = resume.PartialPath
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header = req.Header.Clone()
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		switch {
		case resume.ETag != "":
			httpReq.Header.Set("If-Range", resume.ETag)
		case resume.LastModified != "":
			httpReq.Header.Set("If-Range", resume.LastModified)
		}
	}
	t.setCurrent(httpReq)

	s.logger.Debug("transfer started", "task_id", t.id, "url", req.URL, "offset", offset)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			err = errs.ErrCancelled
		}
		if resume != nil {
			return "", t.interrupted(err, partial, req.ResumeData)
		}
		return "", err
	}
	defer resp.Body.Close()
	t.setResponse(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if partial != "" {
			s.temp.Remove(partial)
		}
		s.logger.Debug("transfer rejected by server", "task_id", t.id, "status", resp.Status)
		return "", nil
	}

	file, err := t.openPartial(resp, &offset, &partial)
	if err != nil {
		return "", errs.NewFileSystemError(err)
	}

	expected := int64(-1)
	if resp.ContentLength >= 0 {
		expected = offset + resp.ContentLength
	}
	written, copyErr := t.copyWithProgress(ctx, file, resp.Body, offset, expected)
	if closeErr := file.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		data := t.encodeResumeState(resp, partial, offset+written)
		switch {
		case ctx.Err() != nil:
			copyErr = errs.ErrCancelled
		case errs.IsNoDiskSpace(copyErr):
			copyErr = errs.NewFileSystemError(copyErr)
		}
		return "", t.interrupted(copyErr, partial, data)
	}

	s.logger.Debug("transfer finished", "task_id", t.id, "bytes", offset+written)
	return partial, nil
}

// openPartial continues the partial file on 206 and starts a new one otherwise.
func (t *httpTask) openPartial(resp *http.Response, offset *int64, partial *string) (*os.File, error) {
	temp := t.session.temp
	if *offset > 0 && resp.StatusCode == http.StatusPartialContent {
		file, err := temp.OpenFile(*partial, os.O_WRONLY)
		if err != nil {
			return nil, err
		}
		if err := file.Truncate(*offset); err != nil {
			file.Close()
			return nil, err
		}
		if _, err := file.Seek(*offset, io.SeekStart); err != nil {
			file.Close()
			return nil, err
		}
		return file, nil
	}

	if *partial != "" {
		temp.Remove(*partial)
	}
	*offset = 0
	*partial = temp.Path(uuid.NewString() + ".part")
	return temp.CreateFile(*partial)
}

func (t *httpTask) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, offset, expected int64) (int64, error) {
	buf := make([]byte, 32*1024)
	var total, unreported int64
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				total += int64(nw)
				unreported += int64(nw)
			}
			if werr != nil {
				return total, werr
			}
			if nr != nw {
				return total, io.ErrShortWrite
			}
		}
		if unreported > 0 && (err != nil || time.Since(last) >= t.session.cfg.ProgressInterval) {
			t.session.progress(t, unreported, offset+total, expected)
			unreported = 0
			last = time.Now()
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

// interrupted keeps the partial file when the failure can be resumed.
func (t *httpTask) interrupted(err error, partial string, resumeData []byte) error {
	t.mu.Lock()
	keep := t.keepResumeData || !errs.IsCancelled(err)
	t.mu.Unlock()

	if resumeData == nil || !keep {
		if partial != "" {
			t.session.temp.Remove(partial)
		}
		return err
	}
	return &ResumableError{Err: err, ResumeData: resumeData}
}

// encodeResumeState returns nil when the server gave no validator to resume against.
func (t *httpTask) encodeResumeState(resp *http.Response, partial string, offset int64) []byte {
	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")
	if offset <= 0 || (etag == "" && lastModified == "") {
		return nil
	}
	data, err := json.Marshal(resumeState{
		URL:          t.original.URL,
		PartialPath:  partial,
		Offset:       offset,
		ETag:         etag,
		LastModified: lastModified,
	})
	if err != nil {
		return nil
	}
	return data
}

func (t *httpTask) validResumeState(data []byte) *resumeState {
	var state resumeState
	if err := json.Unmarshal(data, &state); err != nil {
		t.session.logger.Warn("ignoring malformed resume data", "task_id", t.id, "error", err)
		return nil
	}
	if state.URL != t.original.URL || state.Offset <= 0 || state.PartialPath == "" {
		return nil
	}
	size, err := t.session.temp.GetFileSize(state.PartialPath)
	if err != nil || size < state.Offset {
		t.session.logger.Debug("resume data does not match partial file", "task_id", t.id, "path", state.PartialPath)
		return nil
	}
	return &state
}

func (t *httpTask) setCurrent(req *http.Request) {
	current := &Request{
		URL:        req.URL.String(),
		Method:     req.Method,
		Header:     req.Header.Clone(),
		ResumeData: t.original.ResumeData,
	}
	t.mu.Lock()
	t.current = current
	t.mu.Unlock()
}

func (t *httpTask) setResponse(resp *http.Response) {
	t.mu.Lock()
	t.response = resp
	t.mu.Unlock()
}
