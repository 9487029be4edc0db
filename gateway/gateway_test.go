package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/guild-mirror/backend/discord"
)

func TestParseMessage(t *testing.T) {
	data := []byte(`{
		"id": "111",
		"guild_id": "g1",
		"channel_id": "c1",
		"author": {"id": "u1", "username": "pudge", "global_name": "Pudge", "avatar": "abc123"},
		"content": "hello there",
		"timestamp": "2026-08-28T12:00:00+00:00",
		"attachments": [{"url": "https://cdn.discordapp.com/attachments/1/2/cat.png", "content_type": "image/png"}],
		"embeds": [{"url": "https://tenor.com/view/thing"}],
		"referenced_message": {"author": {"username": "jordan"}, "content": "original"}
	}`)

	msg, err := parseMessage(data)
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	if msg.ID != "111" || msg.ChannelID != "c1" || msg.GuildID != "g1" {
		t.Errorf("unexpected ids: %+v", msg)
	}
	if msg.Author.Display() != "Pudge" {
		t.Errorf("expected display name Pudge, got %q", msg.Author.Display())
	}
	if !strings.Contains(msg.Author.AvatarURL, "u1/abc123") {
		t.Errorf("unexpected avatar url %q", msg.Author.AvatarURL)
	}
	if msg.Timestamp.Hour() != 12 {
		t.Errorf("timestamp not parsed: %v", msg.Timestamp)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].ContentType != "image/png" {
		t.Errorf("attachments not parsed: %+v", msg.Attachments)
	}
	if len(msg.EmbedURLs) != 1 {
		t.Errorf("embed urls not parsed: %+v", msg.EmbedURLs)
	}
	if msg.ReplyTo == nil || msg.ReplyTo.AuthorName != "jordan" {
		t.Errorf("reply ref not parsed: %+v", msg.ReplyTo)
	}
	if want := "https://discord.com/channels/g1/c1/111"; msg.JumpURL() != want {
		t.Errorf("jump url = %q, want %q", msg.JumpURL(), want)
	}
}

func TestParseMessageMissingID(t *testing.T) {
	if _, err := parseMessage([]byte(`{"channel_id": "c1"}`)); err == nil {
		t.Error("expected error for message without id")
	}
}

func TestParseMessageDefaultAvatar(t *testing.T) {
	msg, err := parseMessage([]byte(`{"id": "1", "author": {"id": "u1", "username": "x"}}`))
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	if !strings.Contains(msg.Author.AvatarURL, "embed/avatars") {
		t.Errorf("expected default avatar, got %q", msg.Author.AvatarURL)
	}
}

func TestParseReaction(t *testing.T) {
	data := []byte(`{
		"message_id": "m1",
		"channel_id": "c1",
		"user_id": "u2",
		"emoji": {"name": "🔥"},
		"member": {"user": {"id": "u2", "username": "jordan"}}
	}`)
	r, err := parseReaction(data)
	if err != nil {
		t.Fatalf("parseReaction: %v", err)
	}
	if r.MessageID != "m1" || r.UserID != "u2" || r.Emoji != "🔥" || r.UserName != "jordan" {
		t.Errorf("unexpected reaction: %+v", r)
	}
}

// recordingHandler collects dispatched events for assertions.
type recordingHandler struct {
	mu        sync.Mutex
	created   []discord.Message
	updated   []discord.Message
	deleted   []string
	reactions []discord.Reaction
	removed   []discord.Reaction
}

func (h *recordingHandler) HandleMessageCreate(_ context.Context, m discord.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, m)
}

func (h *recordingHandler) HandleMessageUpdate(_ context.Context, m discord.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updated = append(h.updated, m)
}

func (h *recordingHandler) HandleMessageDelete(_ context.Context, _, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, id)
}

func (h *recordingHandler) HandleReactionAdd(_ context.Context, r discord.Reaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reactions = append(h.reactions, r)
}

func (h *recordingHandler) HandleReactionRemove(_ context.Context, r discord.Reaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, r)
}

func (h *recordingHandler) counts() (int, int, int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.created), len(h.updated), len(h.deleted), len(h.reactions)
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// fakeGateway speaks just enough of the protocol for a handshake test: it
// sends hello, waits for identify, replays the given dispatches, then closes.
func fakeGateway(t *testing.T, dispatches []payload) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		hello, _ := json.Marshal(helloData{HeartbeatInterval: 45000})
		if err := conn.WriteJSON(payload{Op: opHello, D: hello}); err != nil {
			t.Errorf("write hello: %v", err)
			return
		}

		var identify payload
		if err := conn.ReadJSON(&identify); err != nil {
			t.Errorf("read identify: %v", err)
			return
		}
		if identify.Op != opIdentify {
			t.Errorf("expected identify, got op %d", identify.Op)
			return
		}
		var id identifyData
		if err := json.Unmarshal(identify.D, &id); err != nil || id.Token != "test-token" {
			t.Errorf("bad identify payload: %v %+v", err, id)
			return
		}

		for i, d := range dispatches {
			d.S = int64(i + 1)
			if err := conn.WriteJSON(d); err != nil {
				return
			}
		}

		// give the subscriber time to drain before closing
		time.Sleep(100 * time.Millisecond)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
}

func dispatchPayload(t *testing.T, event string, data string) payload {
	t.Helper()
	return payload{Op: opDispatch, T: event, D: json.RawMessage(data)}
}

func TestSubscribeDispatchesEvents(t *testing.T) {
	srv := fakeGateway(t, []payload{
		dispatchPayload(t, "MESSAGE_CREATE", `{"id": "m1", "channel_id": "c1", "author": {"id": "u1", "username": "pudge"}, "content": "hi"}`),
		dispatchPayload(t, "MESSAGE_UPDATE", `{"id": "m1", "channel_id": "c1", "author": {"id": "u1", "username": "pudge"}, "content": "hi edited"}`),
		dispatchPayload(t, "MESSAGE_REACTION_ADD", `{"message_id": "m1", "channel_id": "c1", "user_id": "u2", "emoji": {"name": "👍"}}`),
		dispatchPayload(t, "MESSAGE_DELETE", `{"id": "m1", "channel_id": "c1"}`),
	})
	defer srv.Close()

	handler := &recordingHandler{}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	sub := NewSubscriber(wsURL, "test-token", handler, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// subscribe returns with an error once the server closes the connection
	if err := sub.subscribe(ctx); err == nil {
		t.Fatal("expected subscribe to return an error on close")
	}

	created, updated, deleted, reactions := handler.counts()
	if created != 1 || updated != 1 || deleted != 1 || reactions != 1 {
		t.Errorf("dispatch counts = create %d, update %d, delete %d, reaction %d",
			created, updated, deleted, reactions)
	}
	if handler.created[0].Content != "hi" || handler.updated[0].Content != "hi edited" {
		t.Errorf("unexpected contents: %+v %+v", handler.created[0], handler.updated[0])
	}
	if handler.deleted[0] != "m1" {
		t.Errorf("unexpected delete id %q", handler.deleted[0])
	}
}
