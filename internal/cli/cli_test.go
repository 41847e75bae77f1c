package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/batchdl/internal/domain"
	"github.com/veranemoloko/batchdl/internal/repository"
)

type testEnv struct {
	downloadDir string
	database    string
	envFile     string
}

func setupEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		downloadDir: filepath.Join(dir, "storage"),
		database:    filepath.Join(dir, "data", "downloads.db"),
		envFile:     filepath.Join(dir, "missing.env"),
	}
	t.Setenv("BATCHDL_DOWNLOAD_DIR", env.downloadDir)
	t.Setenv("BATCHDL_TEMP_DIR", filepath.Join(dir, "tmp"))
	t.Setenv("BATCHDL_DATABASE_FILE", env.database)
	t.Setenv("BATCHDL_ALLOW_PRIVATE_HOSTS", "true")
	t.Setenv("BATCHDL_LOG_LEVEL", "error")
	t.Setenv("BATCHDL_LOG_FORMAT", "text")
	return env
}

func execute(t *testing.T, env testEnv, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", env.envFile))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newFileServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content of " + r.URL.Path))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetch_DownloadsIntoDirectory(t *testing.T) {
	env := setupEnv(t)
	server := newFileServer(t)

	out, err := execute(t, env, "fetch", server.URL+"/files/a.txt", server.URL+"/files/b.txt", "--dir", "docs", "--interval", "10ms")
	require.NoError(t, err, out)
	assert.Contains(t, out, "completed")

	for _, name := range []string{"a.txt", "b.txt"} {
		data, err := os.ReadFile(filepath.Join(env.downloadDir, "docs", name))
		require.NoError(t, err)
		assert.Equal(t, "content of /files/"+name, string(data))
	}

	out, err = execute(t, env, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No batches stored")
}

func TestFetch_FailedBatch(t *testing.T) {
	env := setupEnv(t)
	server := newFileServer(t)

	out, err := execute(t, env, "fetch", server.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, server.URL+"/missing")

	_, statErr := os.Stat(filepath.Join(env.downloadDir, "missing"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_RejectsPathTraversal(t *testing.T) {
	env := setupEnv(t)

	_, err := execute(t, env, "fetch", "https://example.com/a.mp3", "--dir", "../outside")
	assert.ErrorContains(t, err, "relative path")
}

func TestStatus_ListsStoredBatches(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	store, err := repository.NewSQLiteStore(ctx, env.database)
	require.NoError(t, err)
	_, err = store.Insert(ctx, domain.BatchRequest{Requests: []domain.DownloadRequest{
		domain.NewDownloadRequest("https://example.com/a.mp3", "a.mp3"),
	}}, domain.DownloadStatusPending)
	require.NoError(t, err)
	_, err = store.Insert(ctx, domain.BatchRequest{Requests: []domain.DownloadRequest{
		domain.NewDownloadRequest("https://example.com/b.mp3", "b.mp3"),
	}}, domain.DownloadStatusCompleted)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := execute(t, env, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "https://example.com/a.mp3")
	assert.Contains(t, out, "https://example.com/b.mp3")

	out, err = execute(t, env, "status", "--status", "pending", "--json")
	require.NoError(t, err)
	var batches []domain.DownloadBatch
	require.NoError(t, json.Unmarshal([]byte(out), &batches))
	require.Len(t, batches, 1)
	assert.Equal(t, "https://example.com/a.mp3", batches[0].Downloads[0].Request.URL)
	assert.Equal(t, domain.DownloadStatusPending, batches[0].Downloads[0].Status)

	_, err = execute(t, env, "status", "--status", "lost")
	assert.Error(t, err)
}

func TestFetchRequest(t *testing.T) {
	req := fetchRequest([]string{
		"https://example.com/podcasts/episode.mp3?token=1",
		"https://example.com/",
		"https://example.com",
	}, "inbox")

	require.Len(t, req.Requests, 3)
	assert.Equal(t, "inbox/episode.mp3", req.Requests[0].DestinationPath)
	assert.Equal(t, "inbox/download-2", req.Requests[1].DestinationPath)
	assert.Equal(t, "inbox/download-3", req.Requests[2].DestinationPath)
}
