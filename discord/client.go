package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ErrStaleReference is returned when the referenced outbound message no
// longer exists (deleted behind our back). Callers decide whether to start a
// fresh render; the client never retries on its own.
var ErrStaleReference = errors.New("discord: stale message reference")

// Client is a minimal REST client for channel message writes.
type Client struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a Client for the given API base URL and bot token.
func NewClient(baseURL, token string) *Client {
	return &Client{Token: token, BaseURL: baseURL}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// sentMessage is the subset of the create/fetch response the mirror needs.
type sentMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// SendMessage posts a new message to a channel and returns its id, the
// opaque reference used for later edits.
func (c *Client) SendMessage(ctx context.Context, channelID string, payload MessagePayload) (string, error) {
	if channelID == "" {
		return "", fmt.Errorf("channelID empty")
	}
	var out sentMessage
	url := fmt.Sprintf("%s/channels/%s/messages", c.BaseURL, channelID)
	if err := c.do(ctx, http.MethodPost, url, payload, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// EditMessage replaces the content of a previously sent message. Returns
// ErrStaleReference if the message is gone.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, payload MessagePayload) error {
	if channelID == "" || messageID == "" {
		return fmt.Errorf("channelID/messageID empty")
	}
	url := fmt.Sprintf("%s/channels/%s/messages/%s", c.BaseURL, channelID, messageID)
	return c.do(ctx, http.MethodPatch, url, payload, nil)
}

// GetMessage fetches a previously sent message, verifying the reference is
// still valid. Returns ErrStaleReference if it is not.
func (c *Client) GetMessage(ctx context.Context, channelID, messageID string) error {
	if channelID == "" || messageID == "" {
		return fmt.Errorf("channelID/messageID empty")
	}
	url := fmt.Sprintf("%s/channels/%s/messages/%s", c.BaseURL, channelID, messageID)
	return c.do(ctx, http.MethodGet, url, nil, nil)
}

func (c *Client) do(ctx context.Context, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrStaleReference
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord api %s %s: status %d: %s", method, url, resp.StatusCode, snippet)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
