package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessageReturnsID(t *testing.T) {
	var gotAuth string
	var gotBody MessagePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/channels/c1/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "m42", "channel_id": "c1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	id, err := c.SendMessage(context.Background(), "c1", MessagePayload{Embeds: []Embed{{Description: "hi"}}})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != "m42" {
		t.Errorf("id = %q, want m42", id)
	}
	if gotAuth != "Bot tok" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if len(gotBody.Embeds) != 1 || gotBody.Embeds[0].Description != "hi" {
		t.Errorf("payload not forwarded: %+v", gotBody)
	}
}

func TestEditMessageStaleReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	err := c.EditMessage(context.Background(), "c1", "gone", MessagePayload{Content: "x"})
	if !errors.Is(err, ErrStaleReference) {
		t.Fatalf("err = %v, want ErrStaleReference", err)
	}
}

func TestServerErrorsSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing permission", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	if _, err := c.SendMessage(context.Background(), "c1", MessagePayload{}); err == nil {
		t.Fatal("expected error on 403")
	} else if errors.Is(err, ErrStaleReference) {
		t.Fatal("403 must not map to ErrStaleReference")
	}
}

func TestJumpURL(t *testing.T) {
	m := Message{ID: "m1", ChannelID: "c1", GuildID: "g1"}
	if got := m.JumpURL(); got != "https://discord.com/channels/g1/c1/m1" {
		t.Errorf("JumpURL = %q", got)
	}
}
