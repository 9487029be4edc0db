package bot

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/onnwee/guild-mirror/backend/grouper"
)

func slot(id, content string) grouper.GroupedMessage {
	return grouper.GroupedMessage{
		ID:            id,
		AuthorName:    "pudge",
		AuthorDisplay: "Pudge",
		Content:       content,
		Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	// 🗑️-style emoji are 4 bytes; a byte cut at any offset must not split one.
	s := strings.Repeat("🔥", 30)
	for n := 1; n < len(s); n++ {
		out := truncate(s, n)
		if !utf8.ValidString(out) {
			t.Fatalf("truncate(%d) produced invalid UTF-8: %q", n, out)
		}
		if len(out) > n+len("...") {
			t.Fatalf("truncate(%d) returned %d bytes", n, len(out))
		}
	}
	if got := truncate("short", 80); got != "short" {
		t.Errorf("no-op truncate changed the string: %q", got)
	}
}

func TestRenderGroupDescriptionLimit(t *testing.T) {
	long := strings.Repeat("🔥", 2000) // 8000 bytes, over the embed cap
	payload := RenderGroup(grouper.Group{
		Key:      grouper.Key{AuthorID: "u1", ChannelID: "c1"},
		Messages: []grouper.GroupedMessage{slot("m1", long)},
	})
	desc := payload.Embeds[0].Description
	if len(desc) > descriptionLimit {
		t.Fatalf("description is %d bytes, cap is %d", len(desc), descriptionLimit)
	}
	if !utf8.ValidString(desc) {
		t.Fatal("truncated description is not valid UTF-8")
	}
	if !strings.HasSuffix(desc, "…") {
		t.Errorf("truncated description missing marker: %q", desc[len(desc)-12:])
	}
}

func TestRenderGroupDeletedAndReactions(t *testing.T) {
	deleted := slot("m1", "gone")
	deleted.Deleted = true
	reacted := slot("m2", "still here")
	reacted.Reactions = map[string]grouper.Reaction{
		"🔥": {Count: 2, Users: []string{"alice", "bob"}},
	}
	payload := RenderGroup(grouper.Group{
		Key:         grouper.Key{AuthorID: "u1", ChannelID: "c1"},
		ChannelName: "general",
		Messages:    []grouper.GroupedMessage{deleted, reacted},
	})
	desc := payload.Embeds[0].Description
	if strings.Contains(desc, "gone") {
		t.Errorf("deleted content rendered: %s", desc)
	}
	if !strings.Contains(desc, "deleted") {
		t.Errorf("no deletion placeholder: %s", desc)
	}
	if !strings.Contains(desc, "🔥 2 (alice, bob)") {
		t.Errorf("reaction tally missing: %s", desc)
	}
	if payload.Embeds[0].Footer == nil || payload.Embeds[0].Footer.Text != "#general" {
		t.Errorf("footer = %+v", payload.Embeds[0].Footer)
	}
}
