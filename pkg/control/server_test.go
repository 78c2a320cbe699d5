package control

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/pcpkit/pcpflux/pkg/config"
	"github.com/pcpkit/pcpflux/pkg/history"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testServer(t *testing.T) (*Server, *config.Config, *history.Store) {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		WatchDir:     filepath.Join(dir, "input"),
		ProcessedDir: filepath.Join(dir, "processed"),
		FailedDir:    filepath.Join(dir, "failed"),
		TriggerFile:  filepath.Join(dir, ".process_trigger"),
	}
	for _, d := range []string{cfg.WatchDir, cfg.ProcessedDir, cfg.FailedDir} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}

	store, err := history.Open(history.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := quietLogger()
	return NewServer(cfg, log, store, NewHub(log), NewStatusBoard()), cfg, store
}

func TestHandleProcessWritesTriggerFile(t *testing.T) {
	server, cfg, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/process", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	_, err := os.Stat(cfg.TriggerFile)
	require.NoError(t, err)
}

func TestHandleStatus(t *testing.T) {
	server, _, _ := testServer(t)
	server.status.SetProcessing("host1.tar.xz")

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.Equal(t, "processing", snap.State)
	require.Equal(t, "host1.tar.xz", snap.Archive)
}

func TestHandleRuns(t *testing.T) {
	server, _, store := testServer(t)

	require.NoError(t, store.Append(history.Run{
		ID:        "run-1",
		Archive:   "host1.tar.xz",
		Outcome:   "processed",
		StartedAt: time.Now().UTC(),
		Points:    42,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=10", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Runs  []history.Run `json:"runs"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "host1.tar.xz", resp.Runs[0].Archive)
}

func TestHandleRunsRejectsBadLimit(t *testing.T) {
	server, _, _ := testServer(t)

	for _, limit := range []string{"0", "-1", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit="+limit, nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code)
	}
}

func TestHandleFiles(t *testing.T) {
	server, cfg, _ := testServer(t)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.WatchDir, "a.tar.xz"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WatchDir, "notes.txt"), []byte("x"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/v1/files/input", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Files []FileInfo `json:"files"`
		Count int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "a.tar.xz", resp.Files[0].Name)
	require.EqualValues(t, 4, resp.Files[0].Size)
}

func TestHandleFilesUnknownDir(t *testing.T) {
	server, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/files/secrets", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	// The route pattern only admits the three known directories
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleHealth(t *testing.T) {
	server, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "healthy")
}
