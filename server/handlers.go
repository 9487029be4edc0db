// Package server exposes the HTTP API: health, status, metrics, the
// transcript file surface, and archive search. It includes permissive CORS
// for development and injects correlation IDs into request contexts for
// consistent logging.
package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/onnwee/guild-mirror/backend/db"
	"github.com/onnwee/guild-mirror/backend/grouper"
	"github.com/onnwee/guild-mirror/backend/transcript"
)

// Handlers holds dependencies for all HTTP handlers. The database and the
// grouper may be nil; endpoints depending on them degrade gracefully.
type Handlers struct {
	db        *sql.DB
	store     *transcript.Store
	groups    *grouper.Grouper
	tolerance int
	started   time.Time
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(database *sql.DB, store *transcript.Store, groups *grouper.Grouper, tolerance int) *Handlers {
	return &Handlers{
		db:        database,
		store:     store,
		groups:    groups,
		tolerance: tolerance,
		started:   time.Now().UTC(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleLogsList returns every stored log file with name, size, and custom
// flag.
func (h *Handlers) HandleLogsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	files, err := h.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if files == nil {
		files = []transcript.FileInfo{}
	}
	writeJSON(w, http.StatusOK, files)
}

// HandleLogsDispatcher routes /api/logs/{filename} and
// /api/logs/{filename}/download. Filenames are validated by the store; a
// traversal attempt reads as an invalid name and 404s.
func (h *Handlers) HandleLogsDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/logs/")
	switch {
	case strings.HasSuffix(rest, "/download"):
		h.handleLogDownload(w, r, strings.TrimSuffix(rest, "/download"))
	case r.Method == http.MethodDelete && strings.HasPrefix(rest, "custom/"):
		h.handleDeleteCustom(w, r, strings.TrimPrefix(rest, "custom/"))
	default:
		h.handleLogContent(w, r, rest)
	}
}

func (h *Handlers) handleLogContent(w http.ResponseWriter, r *http.Request, filename string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.store.Read(filename)
	if err != nil {
		writeError(w, http.StatusNotFound, "Log file not found")
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) handleLogDownload(w http.ResponseWriter, r *http.Request, filename string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, err := h.store.FilePath(filename)
	if err != nil {
		writeError(w, http.StatusNotFound, "Log file not found")
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(path))
	http.ServeFile(w, r, path)
}

func (h *Handlers) handleDeleteCustom(w http.ResponseWriter, r *http.Request, name string) {
	removed, err := h.store.DeleteCustom(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid log name")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Log not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted custom log: " + name})
}

// searchRequest is the body for POST /api/search.
type searchRequest struct {
	Term       string `json:"term"`
	MaxResults int    `json:"max_results"`
}

// HandleSearch searches every stored transcript for a term using the fuzzy
// word-token matcher.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Term == "" {
		writeError(w, http.StatusBadRequest, "Search term required")
		return
	}
	if req.MaxResults <= 0 {
		req.MaxResults = 200
	}
	results, err := h.store.Search(req.Term, h.tolerance, req.MaxResults)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []transcript.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"term":    req.Term,
		"count":   len(results),
		"results": results,
	})
}

// HandleStats returns transcript store statistics plus the archive row count
// when Postgres is connected.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.store.CountStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	resp := map[string]any{
		"total_logs":     stats.TotalLogs,
		"custom_logs":    stats.CustomLogs,
		"total_messages": stats.TotalMessages,
	}
	if h.db != nil {
		if n, err := db.CountMessages(r.Context(), h.db); err == nil {
			resp["archived_messages"] = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMessages lists archived messages, newest first. Optional query
// params: channel_id, limit.
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not available")
		return
	}
	channelID := r.URL.Query().Get("channel_id")
	limit := parseIntQuery(r, "limit", 100)
	msgs, err := db.ListMessages(r.Context(), h.db, channelID, limit)
	if err != nil {
		slog.Error("archive list failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "archive query failed")
		return
	}
	if msgs == nil {
		msgs = []db.ArchivedMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// HandleMessagesSearch runs a fuzzy search over the archive. Query params:
// q (required), limit.
func (h *Handlers) HandleMessagesSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not available")
		return
	}
	term := r.URL.Query().Get("q")
	if term == "" {
		writeError(w, http.StatusBadRequest, "Search term required")
		return
	}
	limit := parseIntQuery(r, "limit", 200)
	msgs, err := db.SearchMessages(r.Context(), h.db, term, h.tolerance, limit)
	if err != nil {
		slog.Error("archive search failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "archive query failed")
		return
	}
	if msgs == nil {
		msgs = []db.ArchivedMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"term":    term,
		"count":   len(msgs),
		"results": msgs,
	})
}
