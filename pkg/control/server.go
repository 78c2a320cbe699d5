// Package control exposes the HTTP surface operators use to trigger
// processing and watch it happen. It replaces nothing in the pipeline: the
// trigger endpoint only drops the trigger file the watch loop already polls.
package control

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/pcpkit/pcpflux/pkg/config"
	"github.com/pcpkit/pcpflux/pkg/history"
	"github.com/pcpkit/pcpflux/pkg/httpx"
)

const defaultRunsLimit = 50

// Server is the control API.
type Server struct {
	cfg    *config.Config
	log    *logrus.Logger
	store  *history.Store
	hub    *Hub
	status *StatusBoard
}

// NewServer wires the control API to its collaborators.
func NewServer(cfg *config.Config, log *logrus.Logger, store *history.Store, hub *Hub, status *StatusBoard) *Server {
	return &Server{cfg: cfg, log: log, store: store, hub: hub, status: status}
}

// Router builds the API routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/process", s.handleProcess).Methods("POST")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/runs", s.handleRuns).Methods("GET")
	api.HandleFunc("/files/{dir:input|processed|failed}", s.handleFiles).Methods("GET")
	api.HandleFunc("/ws", s.hub.handleWebSocket).Methods("GET")

	return router
}

var startTime = time.Now()

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(startTime).String(),
	})
}

// handleProcess drops the trigger file. The watch loop picks it up on its
// next poll; triggering while a run is active is harmless, the file just
// waits for the loop to come around.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if err := os.WriteFile(s.cfg.TriggerFile, nil, 0o644); err != nil {
		s.log.Errorf("Failed to write trigger file: %v", err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("Processing triggered via control API")
	httpx.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, s.status.Snapshot())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	runs, err := s.store.Recent(limit)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// FileInfo describes one archive file in a watched directory.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	var dir string
	switch mux.Vars(r)["dir"] {
	case "input":
		dir = s.cfg.WatchDir
	case "processed":
		dir = s.cfg.ProcessedDir
	case "failed":
		dir = s.cfg.FailedDir
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	files := []FileInfo{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".xz" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Modified.After(files[j].Modified) })

	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"files": files,
		"count": len(files),
	})
}
