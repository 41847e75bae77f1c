package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "github.com/veranemoloko/batchdl/internal/errors"
)

type completion struct {
	taskID int
	err    error
}

type recordingDelegate struct {
	mu             sync.Mutex
	files          map[int][]byte
	locations      map[int]string
	lastWritten    map[int]int64
	finishedEvents int

	progress  chan int64
	completed chan completion
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{
		files:       make(map[int][]byte),
		locations:   make(map[int]string),
		lastWritten: make(map[int]int64),
		progress:    make(chan int64, 1024),
		completed:   make(chan completion, 16),
	}
}

func (d *recordingDelegate) DidWriteData(_ context.Context, task DownloadTask, _, totalWritten, _ int64) {
	d.mu.Lock()
	d.lastWritten[task.ID()] = totalWritten
	d.mu.Unlock()
	select {
	case d.progress <- totalWritten:
	default:
	}
}

func (d *recordingDelegate) DidFinishDownloading(_ context.Context, task DownloadTask, location string) {
	data, _ := os.ReadFile(location)
	d.mu.Lock()
	d.files[task.ID()] = data
	d.locations[task.ID()] = location
	d.mu.Unlock()
}

func (d *recordingDelegate) DidComplete(_ context.Context, task Task, err error) {
	d.completed <- completion{taskID: task.ID(), err: err}
}

func (d *recordingDelegate) DidFinishEvents(context.Context) {
	d.mu.Lock()
	d.finishedEvents++
	d.mu.Unlock()
}

func (d *recordingDelegate) waitCompletion(t *testing.T) completion {
	t.Helper()
	select {
	case c := <-d.completed:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return completion{}
	}
}

func newTestSession(t *testing.T, delegate Delegate) (*HTTPSession, HTTPConfig) {
	t.Helper()
	cfg := HTTPConfig{
		Identifier:       "test-session",
		TempDir:          t.TempDir(),
		ProgressInterval: time.Nanosecond,
	}
	s, err := NewHTTPSession(cfg, delegate, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, cfg
}

func TestHTTPSession_DownloadsIntoTemporaryFile(t *testing.T) {
	content := []byte("some audio bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("Authorization"))
		w.Write(content)
	}))
	defer srv.Close()

	delegate := newRecordingDelegate()
	s, _ := newTestSession(t, delegate)

	header := make(http.Header)
	header.Set("Authorization", "token")
	task := s.DownloadTask(Request{URL: srv.URL + "/001.mp3", Header: header})

	tasks, err := s.Tasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID(), tasks[0].ID())

	task.Resume()
	c := delegate.waitCompletion(t)
	require.NoError(t, c.err)
	assert.Equal(t, task.ID(), c.taskID)

	delegate.mu.Lock()
	assert.Equal(t, content, delegate.files[task.ID()])
	assert.Equal(t, int64(len(content)), delegate.lastWritten[task.ID()])
	location := delegate.locations[task.ID()]
	delegate.mu.Unlock()

	assert.Equal(t, http.StatusOK, task.Response().StatusCode)
	_, statErr := os.Stat(location)
	assert.True(t, os.IsNotExist(statErr), "temporary file should be removed")

	tasks, err = s.Tasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestHTTPSession_ServerErrorSkipsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	delegate := newRecordingDelegate()
	s, _ := newTestSession(t, delegate)

	task := s.DownloadTask(Request{URL: srv.URL + "/missing"})
	task.Resume()

	c := delegate.waitCompletion(t)
	assert.NoError(t, c.err)
	require.NotNil(t, task.Response())
	assert.Equal(t, http.StatusNotFound, task.Response().StatusCode)

	delegate.mu.Lock()
	defer delegate.mu.Unlock()
	assert.Empty(t, delegate.files)
}

func TestHTTPSession_ResumesPartialFile(t *testing.T) {
	content := []byte("hello world!")
	ranges := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ranges <- r.Header.Get("Range")
		w.Header().Set("ETag", `"v1"`)
		http.ServeContent(w, r, "file", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	delegate := newRecordingDelegate()
	s, cfg := newTestSession(t, delegate)

	partial := filepath.Join(cfg.TempDir, cfg.Identifier, "previous.part")
	require.NoError(t, os.WriteFile(partial, content[:5], 0o644))
	resumeData, err := json.Marshal(resumeState{URL: srv.URL + "/file", PartialPath: partial, Offset: 5, ETag: `"v1"`})
	require.NoError(t, err)

	task := s.DownloadTask(Request{URL: srv.URL + "/file", ResumeData: resumeData})
	task.Resume()

	c := delegate.waitCompletion(t)
	require.NoError(t, c.err)
	assert.Equal(t, "bytes=5-", <-ranges)
	assert.Equal(t, http.StatusPartialContent, task.Response().StatusCode)

	delegate.mu.Lock()
	defer delegate.mu.Unlock()
	assert.Equal(t, content, delegate.files[task.ID()])
}

func TestHTTPSession_StaleResumeDataRestarts(t *testing.T) {
	content := []byte("fresh content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Range"))
		w.Write(content)
	}))
	defer srv.Close()

	delegate := newRecordingDelegate()
	s, _ := newTestSession(t, delegate)

	// partial file is gone
	resumeData, err := json.Marshal(resumeState{URL: srv.URL, PartialPath: "/nonexistent/x.part", Offset: 3, ETag: `"v1"`})
	require.NoError(t, err)

	task := s.DownloadTask(Request{URL: srv.URL, ResumeData: resumeData})
	task.Resume()

	c := delegate.waitCompletion(t)
	require.NoError(t, c.err)
	delegate.mu.Lock()
	defer delegate.mu.Unlock()
	assert.Equal(t, content, delegate.files[task.ID()])
}

func TestHTTPSession_CancelSuspendedTask(t *testing.T) {
	delegate := newRecordingDelegate()
	s, _ := newTestSession(t, delegate)

	task := s.DownloadTask(Request{URL: "http://127.0.0.1:1/never"})
	task.Cancel()

	c := delegate.waitCompletion(t)
	assert.ErrorIs(t, c.err, errs.ErrCancelled)

	// a completed task ignores further calls
	task.Resume()
	task.Cancel()
	select {
	case c := <-delegate.completed:
		t.Fatalf("unexpected completion %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHTTPSession_CancelProducingResumeData(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		w.Header().Set("Content-Length", "2048")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 1024))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	delegate := newRecordingDelegate()
	s, _ := newTestSession(t, delegate)

	task := s.DownloadTask(Request{URL: srv.URL + "/big"})
	task.Resume()

	select {
	case written := <-delegate.progress:
		require.Equal(t, int64(1024), written)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for progress")
	}

	data := task.CancelProducingResumeData()
	require.NotNil(t, data)
	var state resumeState
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, int64(1024), state.Offset)
	assert.Equal(t, `"v2"`, state.ETag)
	assert.FileExists(t, state.PartialPath)

	c := delegate.waitCompletion(t)
	assert.ErrorIs(t, c.err, errs.ErrCancelled)
	carried, _ := ResumeData(c.err)
	assert.Equal(t, data, carried)
}

func TestHTTPSession_PlainCancelDropsPartialFile(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v3"`)
		w.Header().Set("Content-Length", "2048")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 1024))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	delegate := newRecordingDelegate()
	s, cfg := newTestSession(t, delegate)

	task := s.DownloadTask(Request{URL: srv.URL})
	task.Resume()
	<-delegate.progress
	task.Cancel()

	c := delegate.waitCompletion(t)
	assert.ErrorIs(t, c.err, errs.ErrCancelled)
	var resumable *ResumableError
	assert.False(t, errors.As(c.err, &resumable))

	entries, err := os.ReadDir(filepath.Join(cfg.TempDir, cfg.Identifier))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".part"), "partial file left behind: %s", e.Name())
	}
}

func TestHTTPSession_CloseDeliversCancellations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 512))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	delegate := newRecordingDelegate()
	s, _ := newTestSession(t, delegate)

	running := s.DownloadTask(Request{URL: srv.URL + "/a"})
	running.Resume()
	<-delegate.progress
	suspended := s.DownloadTask(Request{URL: srv.URL + "/b"})

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	got := map[int]error{}
	for i := 0; i < 2; i++ {
		c := delegate.waitCompletion(t)
		got[c.taskID] = c.err
	}
	assert.ErrorIs(t, got[running.ID()], errs.ErrCancelled)
	data, _ := ResumeData(got[running.ID()])
	assert.NotNil(t, data, "close keeps resume data")
	assert.ErrorIs(t, got[suspended.ID()], errs.ErrCancelled)

	delegate.mu.Lock()
	defer delegate.mu.Unlock()
	assert.Equal(t, 1, delegate.finishedEvents)
}

func TestHTTPSession_ResumeAfterCloseCompletesCancelled(t *testing.T) {
	delegate := newRecordingDelegate()
	s, _ := newTestSession(t, delegate)
	task := s.DownloadTask(Request{URL: "http://example.invalid"})
	require.NoError(t, s.Close())

	// the suspended task was cancelled by Close
	c := delegate.waitCompletion(t)
	assert.ErrorIs(t, c.err, errs.ErrCancelled)
	task.Resume()
}

func TestDescribeAndResumableError(t *testing.T) {
	task := &httpTask{id: 7, original: &Request{URL: "http://x/y"}}
	assert.Equal(t, "7 http://x/y", Describe(task))
	assert.Equal(t, "<nil task>", Describe(nil))

	err := &ResumableError{Err: errs.ErrCancelled, ResumeData: []byte("r")}
	assert.ErrorIs(t, err, errs.ErrCancelled)
	data, stripped := ResumeData(err)
	assert.Equal(t, []byte("r"), data)
	assert.Equal(t, errs.ErrCancelled, stripped)

	data, plain := ResumeData(io.EOF)
	assert.Nil(t, data)
	assert.Equal(t, io.EOF, plain)
}
