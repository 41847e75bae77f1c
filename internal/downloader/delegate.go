package downloader

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	errs "github.com/veranemoloko/batchdl/internal/errors"
	"github.com/veranemoloko/batchdl/internal/metrics"
	"github.com/veranemoloko/batchdl/internal/session"
	"github.com/veranemoloko/batchdl/internal/storage"
)

// Delegate turns session callbacks into DataController transitions and
// performs the file side effects of finished transfers.
type Delegate struct {
	controller *DataController
	files      *storage.FileStorage
	logger     *slog.Logger

	mu                sync.Mutex
	backgroundHandler func()
}

var _ session.Delegate = (*Delegate)(nil)

// NewDelegate creates a Delegate moving files relative to files.
func NewDelegate(controller *DataController, files *storage.FileStorage, logger *slog.Logger) *Delegate {
	return &Delegate{controller: controller, files: files, logger: logger}
}

// SetBackgroundCompletionHandler sets a handler run once after the session
// delivered all of its events.
func (d *Delegate) SetBackgroundCompletionHandler(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backgroundHandler = fn
}

func (d *Delegate) DidWriteData(ctx context.Context, task session.DownloadTask, written, totalWritten, totalExpected int64) {
	response := d.response(ctx, task)
	if response == nil {
		return
	}
	response.setProgress(totalWritten, totalExpected)
	metrics.DownloadBytes.Add(float64(written))
}

func (d *Delegate) DidFinishDownloading(ctx context.Context, task session.DownloadTask, location string) {
	if validate(task) != nil {
		return
	}
	response := d.response(ctx, task)
	if response == nil {
		d.logger.Warn("missed saving downloaded file", "task", session.Describe(task))
		return
	}

	request := response.Request()
	if err := d.files.Remove(request.ResumePath); err != nil {
		d.logger.Warn("failed to remove stale resume data", "path", request.ResumePath, "error", err)
	}
	if err := d.files.MoveInto(location, request.DestinationPath); err != nil {
		fsErr := errs.NewFileSystemError(err)
		recordError(d.logger, "failed to move downloaded file", "move_file", fsErr,
			"url", request.URL, "destination", request.DestinationPath)
		if err := d.controller.DownloadFailed(ctx, response, fsErr); err != nil {
			d.reportControllerError("download failed", err)
		}
		return
	}
	d.logger.Debug("downloaded file moved", "url", request.URL, "destination", request.DestinationPath)
}

func (d *Delegate) DidComplete(ctx context.Context, task session.Task, sessionErr error) {
	response := d.response(ctx, task)
	if response == nil {
		return
	}

	err := sessionErr
	if err == nil {
		err = validate(task)
	}
	if err == nil {
		if err := d.controller.DownloadCompleted(ctx, response); err != nil {
			d.reportControllerError("download completed", err)
		}
		return
	}

	if err := d.controller.DownloadFailed(ctx, response, d.wrap(err, response.Request().ResumePath)); err != nil {
		d.reportControllerError("download failed", err)
	}
}

func (d *Delegate) DidFinishEvents(context.Context) {
	d.mu.Lock()
	handler := d.backgroundHandler
	d.backgroundHandler = nil
	d.mu.Unlock()

	if handler != nil {
		handler()
	}
}

// wrap saves resume data carried by err and classifies what remains.
func (d *Delegate) wrap(err error, resumePath string) error {
	resumeData, err := session.ResumeData(err)
	if resumeData != nil {
		if writeErr := d.files.WriteResume(resumePath, resumeData); writeErr != nil {
			d.logger.Warn("failed to save resume data", "path", resumePath, "error", writeErr)
		}
	}

	if errs.IsCancelled(err) {
		return err
	}
	recordError(d.logger, "download network error occurred", "network_error", err)

	var fsErr *errs.FileSystemError
	if errors.As(err, &fsErr) {
		return err
	}
	if errs.IsNoDiskSpace(err) {
		return errs.NewFileSystemError(err)
	}
	return errs.ClassifyNetworkError(err)
}

func (d *Delegate) response(ctx context.Context, task session.Task) *Response {
	response, err := d.controller.DownloadResponse(ctx, task)
	if err != nil {
		d.reportControllerError("lookup download", err)
		return nil
	}
	if response == nil {
		d.logger.Debug("no download for task", "task", session.Describe(task))
	}
	return response
}

func (d *Delegate) reportControllerError(op string, err error) {
	if errors.Is(err, errs.ErrClosed) {
		d.logger.Debug("controller closed, callback dropped", "op", op)
		return
	}
	recordError(d.logger, "failed to apply transfer callback", op, err)
}

func validate(task session.Task) error {
	statusCode := 0
	if resp := task.Response(); resp != nil {
		statusCode = resp.StatusCode
	}
	if statusCode < 200 || statusCode > 299 {
		return errs.NewServerError("unacceptable status code: %d", statusCode)
	}
	return nil
}
