// Package transcript persists one JSON and one text log file per UTC day,
// plus user-created "custom" collections. The JSON file is the machine
// surface (API search/browse); the text file is the human-readable download.
// Each append rewrites the day's JSON wholesale, keeping the newest 5000
// entries; a corrupt file is reset to an empty collection rather than
// surfacing a parse error.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/guild-mirror/backend/fuzzy"
	"github.com/onnwee/guild-mirror/backend/telemetry"
)

// maxEntriesPerDay caps how many entries one daily JSON file retains.
const maxEntriesPerDay = 5000

// Entry event types.
const (
	TypeCreate = "create"
	TypeEdit   = "edit"
	TypeDelete = "delete"
)

// Entry is one logged message event.
type Entry struct {
	ID            string    `json:"id"`
	Author        string    `json:"author"`
	AuthorDisplay string    `json:"author_display,omitempty"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	RoleColor     *int      `json:"role_color"`
	Content       string    `json:"content"`
	Channel       string    `json:"channel"`
	CreatedAt     time.Time `json:"created_at"`
	ReadableTime  string    `json:"readable_time"`
	Type          string    `json:"type"`
	Before        string    `json:"before,omitempty"`

	// LogFile is the source file stem, populated on search results only.
	LogFile string `json:"log_file,omitempty"`
}

// FileInfo describes one stored log file.
type FileInfo struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	SizeKB   int64  `json:"size_kb"`
	IsCustom bool   `json:"is_custom"`
}

// Stats summarizes the whole store.
type Stats struct {
	TotalLogs     int `json:"total_logs"`
	CustomLogs    int `json:"custom_logs"`
	TotalMessages int `json:"total_messages"`
}

// filenamePattern guards every filename that reaches the filesystem; it also
// rejects path traversal since neither '/' nor '.' (outside the extension)
// can appear.
var filenamePattern = regexp.MustCompile(`^(logs|custom)_[A-Za-z0-9-]+\.(json|txt)$`)

// Store owns a transcript directory.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates the directory if needed and returns a Store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the directory this store writes into.
func (s *Store) Dir() string { return s.dir }

func (s *Store) dailyBase() string {
	return s.now().UTC().Format("logs_2006-01-02")
}

// Append records one entry in today's JSON and text files. The JSON write is
// a wholesale rewrite keeping the newest entries; the text write is a plain
// append in the event-specific line format.
func (s *Store) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.dailyBase()
	jsonPath := filepath.Join(s.dir, base+".json")
	entries := s.loadOrReset(jsonPath)
	entries = append(entries, e)
	if len(entries) > maxEntriesPerDay {
		entries = entries[len(entries)-maxEntriesPerDay:]
	}
	if err := writeJSON(jsonPath, entries); err != nil {
		if telemetry.TranscriptFailed != nil {
			telemetry.TranscriptFailed.Inc()
		}
		return fmt.Errorf("write transcript json: %w", err)
	}

	if err := appendText(filepath.Join(s.dir, base+".txt"), e); err != nil {
		if telemetry.TranscriptFailed != nil {
			telemetry.TranscriptFailed.Inc()
		}
		return fmt.Errorf("write transcript text: %w", err)
	}
	if telemetry.TranscriptWrites != nil {
		telemetry.TranscriptWrites.Inc()
	}
	return nil
}

// loadOrReset reads a JSON log; a missing file is an empty collection and a
// corrupt one is reset to empty on disk.
func (s *Store) loadOrReset(path string) []Entry {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("transcript file corrupted, resetting", slog.String("file", filepath.Base(path)), slog.Any("err", err))
		_ = writeJSON(path, []Entry{})
		return nil
	}
	return entries
}

func writeJSON(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func appendText(path string, e Entry) error {
	ts := e.ReadableTime
	if ts == "" {
		ts = e.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")
	}
	content := e.Content
	if content == "" {
		content = "(no text)"
	}
	var line string
	switch e.Type {
	case TypeEdit:
		before := e.Before
		if before == "" {
			before = "(no text)"
		}
		line = fmt.Sprintf("[%s] (%s) %s ✏️\nBefore: %s\nAfter : %s\n\n", ts, e.Channel, e.Author, before, content)
	case TypeDelete:
		line = fmt.Sprintf("[%s] (%s) %s 🗑️\n%s\n\n", ts, e.Channel, e.Author, content)
	default:
		line = fmt.Sprintf("[%s] (%s) %s 💬\n%s\n\n", ts, e.Channel, e.Author, content)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close transcript file", slog.Any("err", err))
		}
	}()
	_, err = f.WriteString(line)
	return err
}

// List returns every daily and custom log file, daily logs first, each group
// sorted by name.
func (s *Store) List() ([]FileInfo, error) {
	daily, err := s.glob("logs_*.json")
	if err != nil {
		return nil, err
	}
	custom, err := s.glob("custom_*.json")
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(daily)+len(custom))
	for _, path := range append(daily, custom...) {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		isCustom := strings.HasPrefix(name, "custom_")
		out = append(out, FileInfo{
			Name:     strings.TrimPrefix(strings.TrimPrefix(name, "logs_"), "custom_"),
			Filename: filepath.Base(path),
			SizeKB:   info.Size() / 1024,
			IsCustom: isCustom,
		})
	}
	return out, nil
}

func (s *Store) glob(pattern string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Read returns the entries of one JSON log file. The filename must be a bare
// store filename (no path components).
func (s *Store) Read(filename string) ([]Entry, error) {
	if !filenamePattern.MatchString(filename) || !strings.HasSuffix(filename, ".json") {
		return nil, fmt.Errorf("invalid log filename %q", filename)
	}
	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOrReset(path), nil
}

// FilePath resolves a filename for download, preferring the text rendition
// when both exist. Returns the absolute path.
func (s *Store) FilePath(filename string) (string, error) {
	base := strings.TrimSuffix(strings.TrimSuffix(filename, ".json"), ".txt")
	for _, candidate := range []string{base + ".txt", base + ".json"} {
		if !filenamePattern.MatchString(candidate) {
			return "", fmt.Errorf("invalid log filename %q", filename)
		}
		path := filepath.Join(s.dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", os.ErrNotExist
}

// DeleteCustom removes a custom log's JSON and text files. Returns whether
// anything was removed.
func (s *Store) DeleteCustom(name string) (bool, error) {
	removed := false
	for _, ext := range []string{".json", ".txt"} {
		filename := "custom_" + name + ext
		if !filenamePattern.MatchString(filename) {
			return false, fmt.Errorf("invalid custom log name %q", name)
		}
		path := filepath.Join(s.dir, filename)
		if err := os.Remove(path); err == nil {
			removed = true
		} else if !os.IsNotExist(err) {
			return removed, err
		}
	}
	return removed, nil
}

// CountStats walks every JSON log and tallies files and messages.
func (s *Store) CountStats() (Stats, error) {
	daily, err := s.glob("logs_*.json")
	if err != nil {
		return Stats{}, err
	}
	custom, err := s.glob("custom_*.json")
	if err != nil {
		return Stats{}, err
	}
	st := Stats{TotalLogs: len(daily), CustomLogs: len(custom)}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range append(daily, custom...) {
		st.TotalMessages += len(s.loadOrReset(path))
	}
	return st, nil
}

// Search scans every JSON log in filename order and returns entries whose
// content fuzzy-matches term under the word-token policy, preserving input
// order, up to max results.
func (s *Store) Search(term string, tolerance, max int) ([]Entry, error) {
	if strings.TrimSpace(term) == "" {
		return nil, fmt.Errorf("search term required")
	}
	if max <= 0 {
		max = 200
	}
	paths, err := s.glob("*.json")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]Entry, 0)
	for _, path := range paths {
		stem := strings.TrimSuffix(filepath.Base(path), ".json")
		for _, e := range s.loadOrReset(path) {
			if fuzzy.MatchesTerm(e.Content, term, tolerance) {
				e.LogFile = stem
				results = append(results, e)
				if len(results) >= max {
					return results, nil
				}
			}
		}
	}
	return results, nil
}
