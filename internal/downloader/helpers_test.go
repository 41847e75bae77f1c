package downloader

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/veranemoloko/batchdl/internal/domain"
	"github.com/veranemoloko/batchdl/internal/repository"
	"github.com/veranemoloko/batchdl/internal/session/sessiontest"
	"github.com/veranemoloko/batchdl/internal/storage"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// countingStore records Delete calls of the wrapped store.
type countingStore struct {
	repository.DownloadsStore

	mu      sync.Mutex
	deletes [][]int64
}

func (s *countingStore) Delete(ctx context.Context, batchIDs []int64) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, append([]int64(nil), batchIDs...))
	s.mu.Unlock()
	return s.DownloadsStore.Delete(ctx, batchIDs)
}

func (s *countingStore) deleteCalls() [][]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]int64(nil), s.deletes...)
}

type harness struct {
	ctx        context.Context
	sqlite     *repository.SQLiteStore
	store      *countingStore
	files      *storage.FileStorage
	session    *sessiontest.FakeSession
	controller *DataController
	delegate   *Delegate
	incoming   string
}

// newHarness returns a reconciled controller running on a fake session.
func newHarness(t *testing.T, maxSimultaneous int) *harness {
	t.Helper()
	h := newUnreconciledHarness(t, maxSimultaneous)
	require.NoError(t, h.controller.SetRunningTasks(h.ctx, nil))
	return h
}

func newUnreconciledHarness(t *testing.T, maxSimultaneous int) *harness {
	t.Helper()
	ctx := context.Background()

	sqlite, err := repository.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)
	store := &countingStore{DownloadsStore: sqlite}
	files := storage.NewFileStorage(t.TempDir())
	fake := sessiontest.NewFakeSession()

	controller := NewDataController(maxSimultaneous, store, files, nil, newTestLogger())
	delegate := NewDelegate(controller, files, newTestLogger())
	s, err := fake.Factory()(delegate)
	require.NoError(t, err)
	require.NoError(t, controller.SetSession(ctx, s))

	t.Cleanup(func() {
		controller.Close(ctx)
		sqlite.Close()
	})

	return &harness{
		ctx:        ctx,
		sqlite:     sqlite,
		store:      store,
		files:      files,
		session:    fake,
		controller: controller,
		delegate:   delegate,
		incoming:   t.TempDir(),
	}
}

func url(name string) string {
	return "http://example.com/" + name
}

func batchRequest(names ...string) domain.BatchRequest {
	var req domain.BatchRequest
	for _, name := range names {
		req.Requests = append(req.Requests, domain.NewDownloadRequest(url(name), path.Join("files", name+".mp3")))
	}
	return req
}

func (h *harness) download(t *testing.T, names ...string) *BatchResponse {
	t.Helper()
	batch, err := h.controller.Download(h.ctx, batchRequest(names...))
	require.NoError(t, err)
	require.NotNil(t, batch)
	return batch
}

// complete finishes the latest task of name with a downloaded file.
func (h *harness) complete(t *testing.T, name string) {
	t.Helper()
	task := h.session.TaskFor(url(name))
	require.NotNil(t, task, "no task for %s", name)

	location := filepath.Join(h.incoming, name+".part")
	require.NoError(t, os.WriteFile(location, []byte("content of "+name), 0o644))
	h.session.CompleteTask(task, location, 100, 2)
}

// persisted returns the stored items keyed by URL.
func (h *harness) persisted(t *testing.T) map[string]domain.Download {
	t.Helper()
	batches, err := h.sqlite.RetrieveAll(h.ctx)
	require.NoError(t, err)
	items := make(map[string]domain.Download)
	for _, batch := range batches {
		for _, d := range batch.Downloads {
			items[d.Request.URL] = d
		}
	}
	return items
}

func (h *harness) downloadingCount(t *testing.T) int {
	t.Helper()
	count := 0
	for _, d := range h.persisted(t) {
		if d.Status == domain.DownloadStatusDownloading {
			count++
		}
	}
	return count
}

func createdURLs(fake *sessiontest.FakeSession) []string {
	var urls []string
	for _, task := range fake.CreatedTasks() {
		urls = append(urls, task.OriginalRequest().URL)
	}
	return urls
}
