package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/batchdl/internal/domain"
	"github.com/veranemoloko/batchdl/internal/downloader"
	"github.com/veranemoloko/batchdl/internal/repository"
	"github.com/veranemoloko/batchdl/internal/session/sessiontest"
	"github.com/veranemoloko/batchdl/internal/storage"
	"github.com/veranemoloko/batchdl/internal/validation"
)

type testServer struct {
	router  *chi.Mux
	session *sessiontest.FakeSession
	manager *downloader.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	store, err := repository.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)
	fake := sessiontest.NewFakeSession()
	manager := downloader.NewManager(downloader.ManagerConfig{MaxSimultaneousDownloads: 1},
		store, storage.NewFileStorage(t.TempDir()), fake.Factory(), logger)
	t.Cleanup(func() {
		manager.Close(ctx)
		store.Close()
	})

	validator := validation.New(validation.Options{MaxRequestsPerBatch: 3})
	return &testServer{
		router:  NewRouter(manager, validator, logger),
		session: fake,
		manager: manager,
	}
}

func (s *testServer) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createBatch(t *testing.T, names ...string) int64 {
	t.Helper()
	var req domain.CreateBatchRequest
	for _, name := range names {
		req.Requests = append(req.Requests, domain.CreateDownloadRequest{
			URL:             "https://example.com/" + name,
			DestinationPath: "episodes/" + name + ".mp3",
		})
	}
	w := s.do(t, http.MethodPost, "/batches", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var data map[string]int64
	require.NoError(t, json.NewDecoder(w.Body).Decode(&data))
	require.Contains(t, data, "batch_id")
	return data["batch_id"]
}

func TestBatchHandler_CreateBatch(t *testing.T) {
	s := newTestServer(t)

	id := s.createBatch(t, "a", "b")
	assert.Positive(t, id)

	created := s.session.CreatedTasks()
	require.Len(t, created, 1)
	assert.Equal(t, "https://example.com/a", created[0].OriginalRequest().URL)
	assert.True(t, created[0].IsResumed())
}

func TestBatchHandler_CreateBatchRejectsInvalidInput(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "malformed JSON", body: `{"requests":`, wantErr: "invalid request body"},
		{name: "no requests", body: `{"requests":[]}`, wantErr: "invalid request"},
		{name: "private host", body: `{"requests":[{"url":"http://127.0.0.1/a","destination_path":"a"}]}`, wantErr: "not an allowed"},
		{name: "path traversal", body: `{"requests":[{"url":"https://example.com/a","destination_path":"../a"}]}`, wantErr: "relative path"},
		{
			name:    "too many requests",
			body:    `{"requests":[{"url":"https://example.com/1","destination_path":"1"},{"url":"https://example.com/2","destination_path":"2"},{"url":"https://example.com/3","destination_path":"3"},{"url":"https://example.com/4","destination_path":"4"}]}`,
			wantErr: "at most 3 allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var data map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&data))
			assert.Contains(t, data["error"], tt.wantErr)
		})
	}
	assert.Empty(t, s.session.CreatedTasks())
}

func TestBatchHandler_ListAndGetBatches(t *testing.T) {
	s := newTestServer(t)
	first := s.createBatch(t, "a", "b")
	second := s.createBatch(t, "c")

	w := s.do(t, http.MethodGet, "/batches", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var views []domain.BatchView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&views))
	require.Len(t, views, 2)
	assert.Equal(t, first, views[0].ID)
	assert.Equal(t, second, views[1].ID)
	assert.Equal(t, domain.BatchStateDownloading, views[0].State)
	require.Len(t, views[0].Items, 2)
	assert.Equal(t, domain.DownloadStatusDownloading, views[0].Items[0].Status)
	assert.Equal(t, domain.DownloadStatusPending, views[0].Items[1].Status)
	assert.Equal(t, "episodes/a.mp3", views[0].Items[0].DestinationPath)

	w = s.do(t, http.MethodGet, "/batches/"+strconv.FormatInt(second, 10), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view domain.BatchView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	assert.Equal(t, second, view.ID)
	assert.Equal(t, "https://example.com/c", view.Items[0].URL)
}

func TestBatchHandler_GetBatchErrors(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/batches/abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/batches/0", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/batches/42", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/batches/42", nil).Code)
}

func TestBatchHandler_CancelBatch(t *testing.T) {
	s := newTestServer(t)
	id := s.createBatch(t, "a", "b")
	target := "/batches/" + strconv.FormatInt(id, 10)

	w := s.do(t, http.MethodDelete, target, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	var view domain.BatchView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	assert.Equal(t, domain.BatchStateFailed, view.State)
	assert.NotEmpty(t, view.Error)

	assert.True(t, s.session.TaskFor("https://example.com/a").IsCancelled())
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, target, nil).Code)
}

func TestRouter_HealthMetricsAndRequestID(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	s.createBatch(t, "m")
	w = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "batchdl_downloads_admitted_total")
}
