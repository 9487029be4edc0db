package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// MockDiscordServer mocks the channel-message REST endpoints the mirror
// writes to, recording every send and edit for assertions.
type MockDiscordServer struct {
	*httptest.Server

	mu     sync.Mutex
	sends  []MockCall
	edits  []MockCall
	nextID int

	// FailSends makes message creation return 403 (missing permission).
	FailSends bool
	// StaleEdits makes edits return 404 (reference gone).
	StaleEdits bool
}

// MockCall records one send or edit request.
type MockCall struct {
	ChannelID string
	MessageID string
	Body      map[string]any
}

// NewMockDiscordServer starts the mock and registers cleanup.
func NewMockDiscordServer(t *testing.T) *MockDiscordServer {
	t.Helper()
	m := &MockDiscordServer{nextID: 1}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Close)
	return m
}

func (m *MockDiscordServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	// Paths: /channels/{channel}/messages or /channels/{channel}/messages/{id}
	channelID, messageID, ok := parsePath(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodPost && messageID == "":
		if m.FailSends {
			http.Error(w, "missing permission", http.StatusForbidden)
			return
		}
		id := m.newID()
		m.sends = append(m.sends, MockCall{ChannelID: channelID, MessageID: id, Body: body})
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "channel_id": channelID})
	case r.Method == http.MethodPatch && messageID != "":
		if m.StaleEdits {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		m.edits = append(m.edits, MockCall{ChannelID: channelID, MessageID: messageID, Body: body})
		_ = json.NewEncoder(w).Encode(map[string]string{"id": messageID, "channel_id": channelID})
	case r.Method == http.MethodGet && messageID != "":
		_ = json.NewEncoder(w).Encode(map[string]string{"id": messageID, "channel_id": channelID})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// parsePath matches /channels/<id>/messages[/<id>].
func parsePath(path string) (channelID, messageID string, ok bool) {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 3 || parts[0] != "channels" || parts[2] != "messages" {
		return "", "", false
	}
	if len(parts) >= 4 {
		return parts[1], parts[3], true
	}
	return parts[1], "", true
}

func (m *MockDiscordServer) newID() string {
	id := m.nextID
	m.nextID++
	return "msg-" + strconv.Itoa(id)
}

// Sends returns a copy of recorded message creations.
func (m *MockDiscordServer) Sends() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.sends...)
}

// Edits returns a copy of recorded message edits.
func (m *MockDiscordServer) Edits() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.edits...)
}
