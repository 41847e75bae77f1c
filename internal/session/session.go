// Package session abstracts the background transfer subsystem that performs
// the actual byte transfers, so the download engine can run against the HTTP
// implementation or a fake.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/veranemoloko/batchdl/internal/domain"
)

// Request describes one transfer.
type Request struct {
	URL        string
	Method     string
	Header     http.Header
	ResumeData []byte
}

// NewRequest builds a transfer request for a download, resuming from resumeData when set.
func NewRequest(req domain.DownloadRequest, resumeData []byte) Request {
	req = req.Normalized()
	header := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		header.Set(k, v)
	}
	return Request{
		URL:        req.URL,
		Method:     req.Method,
		Header:     header,
		ResumeData: resumeData,
	}
}

// Task is a transfer owned by a Session.
type Task interface {
	ID() int
	OriginalRequest() *Request
	CurrentRequest() *Request
	// Response is nil until the server replied.
	Response() *http.Response
	Cancel()
	Resume()
}

// DownloadTask is a Task that transfers into a temporary file.
type DownloadTask interface {
	Task
	// CancelProducingResumeData cancels the transfer and returns the data
	// needed to resume it later, or nil when it cannot be resumed.
	CancelProducingResumeData() []byte
}

// Session creates transfer tasks and reports their lifecycle to a Delegate.
type Session interface {
	// DownloadTask creates a suspended task; call Resume to start it.
	DownloadTask(req Request) DownloadTask
	// Tasks lists the tasks that have not delivered their completion yet.
	Tasks(ctx context.Context) ([]DownloadTask, error)
	Close() error
}

// Delegate receives transfer callbacks. Callbacks of one session are delivered sequentially.
type Delegate interface {
	DidWriteData(ctx context.Context, task DownloadTask, written, totalWritten, totalExpected int64)
	// DidFinishDownloading reports the downloaded file. The file is removed
	// after the callback returns unless the delegate moved it.
	DidFinishDownloading(ctx context.Context, task DownloadTask, location string)
	DidComplete(ctx context.Context, task Task, err error)
	DidFinishEvents(ctx context.Context)
}

// Factory creates a session that reports to delegate.
type Factory func(delegate Delegate) (Session, error)

// Describe renders a task for logs.
func Describe(task Task) string {
	if task == nil {
		return "<nil task>"
	}
	url := ""
	if req := task.OriginalRequest(); req != nil {
		url = req.URL
	}
	return fmt.Sprintf("%d %s", task.ID(), url)
}

// ResumableError is a failed transfer that can be resumed with ResumeData.
type ResumableError struct {
	Err        error
	ResumeData []byte
}

func (e *ResumableError) Error() string {
	return e.Err.Error()
}

func (e *ResumableError) Unwrap() error {
	return e.Err
}

// ResumeData extracts resume data carried by err and returns err without it.
func ResumeData(err error) ([]byte, error) {
	var resumable *ResumableError
	if errors.As(err, &resumable) {
		return resumable.ResumeData, resumable.Err
	}
	return nil, err
}
