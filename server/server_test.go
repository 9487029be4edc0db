package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/guild-mirror/backend/grouper"
	"github.com/onnwee/guild-mirror/backend/transcript"
)

func newTestServer(t *testing.T) (*httptest.Server, *transcript.Store) {
	t.Helper()
	store, err := transcript.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	groups := grouper.New(time.Minute, 6*time.Minute)
	srv := httptest.NewServer(NewMux(context.Background(), nil, store, groups, 2))
	t.Cleanup(srv.Close)
	return srv, store
}

func seedEntries(t *testing.T, store *transcript.Store, contents ...string) {
	t.Helper()
	for i, c := range contents {
		err := store.Append(transcript.Entry{
			ID:        "m" + string(rune('1'+i)),
			Author:    "pudge",
			Content:   c,
			Channel:   "general",
			CreatedAt: time.Now().UTC(),
			Type:      transcript.TypeCreate,
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthAndReadiness(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := getJSON(t, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	var ready map[string]string
	resp = getJSON(t, srv.URL+"/readyz", &ready)
	if resp.StatusCode != http.StatusOK || ready["status"] != "ready" {
		t.Errorf("readyz = %d %v", resp.StatusCode, ready)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntries(t, store, "hello")

	var status map[string]any
	resp := getJSON(t, srv.URL+"/status", &status)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if status["archive"] != false {
		t.Errorf("expected archive disabled, got %v", status["archive"])
	}
	if status["total_messages"].(float64) != 1 {
		t.Errorf("total_messages = %v", status["total_messages"])
	}
}

func TestLogsListAndContent(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntries(t, store, "one", "two")

	var files []transcript.FileInfo
	resp := getJSON(t, srv.URL+"/api/logs", &files)
	if resp.StatusCode != http.StatusOK || len(files) != 1 {
		t.Fatalf("logs list = %d, %d files", resp.StatusCode, len(files))
	}

	var entries []transcript.Entry
	resp = getJSON(t, srv.URL+"/api/logs/"+files[0].Filename, &entries)
	if resp.StatusCode != http.StatusOK || len(entries) != 2 {
		t.Fatalf("log content = %d, %d entries", resp.StatusCode, len(entries))
	}
	if entries[0].Content != "one" {
		t.Errorf("first entry = %q", entries[0].Content)
	}
}

func TestLogDownloadPrefersText(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntries(t, store, "downloadable")

	files, err := store.List()
	if err != nil || len(files) == 0 {
		t.Fatalf("List: %v, %d files", err, len(files))
	}

	resp, err := http.Get(srv.URL + "/api/logs/" + files[0].Filename + "/download")
	if err != nil {
		t.Fatalf("GET download: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, ".txt") {
		t.Errorf("expected txt download, got %q", cd)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntries(t, store, "nothing here", "jordam was mentioned", "also jordan")

	body := strings.NewReader(`{"term": "jordan", "max_results": 10}`)
	resp, err := http.Post(srv.URL+"/api/search", "application/json", body)
	if err != nil {
		t.Fatalf("POST search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search = %d", resp.StatusCode)
	}
	var result struct {
		Term    string             `json:"term"`
		Count   int                `json:"count"`
		Results []transcript.Entry `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Count != 2 {
		t.Fatalf("expected 2 hits, got %d: %+v", result.Count, result.Results)
	}
	if result.Results[0].LogFile == "" {
		t.Error("results missing log_file tag")
	}
}

func TestSearchRequiresTerm(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/search", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty term = %d, want 400", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntries(t, store, "a", "b", "c")

	var stats map[string]any
	resp := getJSON(t, srv.URL+"/api/stats", &stats)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats = %d", resp.StatusCode)
	}
	if stats["total_messages"].(float64) != 3 || stats["total_logs"].(float64) != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestDeleteCustomLog(t *testing.T) {
	srv, store := newTestServer(t)
	writeCustomLog(t, store.Dir(), "event")

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/logs/custom/event", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d", resp.StatusCode)
	}

	// Second delete finds nothing
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE again: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("repeat delete = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteCustomLogRequiresAdminToken(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "sekrit")
	srv, store := newTestServer(t)
	writeCustomLog(t, store.Dir(), "event")

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/logs/custom/event", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated delete = %d, want 401", resp.StatusCode)
	}

	req.Header.Set("X-Admin-Token", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated delete = %d, want 200", resp.StatusCode)
	}
}

func TestDeleteCustomLogRateLimited(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "2")
	srv, _ := newTestServer(t)

	var last int
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/logs/custom/none", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		resp.Body.Close()
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third delete = %d, want 429", last)
	}
}

func TestTraversalFilenameRejected(t *testing.T) {
	store, err := transcript.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h := NewHandlers(nil, store, nil, 2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/logs/x", nil)
	h.handleLogContent(rec, req, "../../etc/passwd")
	if rec.Code != http.StatusNotFound {
		t.Errorf("traversal read = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.handleLogDownload(rec, req, "..%2f..%2fetc%2fpasswd")
	if rec.Code != http.StatusNotFound {
		t.Errorf("traversal download = %d, want 404", rec.Code)
	}
}

func TestMessagesUnavailableWithoutArchive(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := getJSON(t, srv.URL+"/api/messages", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("messages without db = %d, want 503", resp.StatusCode)
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := getJSON(t, srv.URL+"/healthz", nil)
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func writeCustomLog(t *testing.T, dir, name string) {
	t.Helper()
	for _, ext := range []string{".json", ".txt"} {
		path := filepath.Join(dir, "custom_"+name+ext)
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}
