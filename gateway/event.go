package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/onnwee/guild-mirror/backend/discord"
)

// Gateway opcodes (the subset the subscriber speaks).
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// payload is the envelope every gateway frame uses.
type payload struct {
	Op int             `json:"op"`
	T  string          `json:"t,omitempty"`
	S  int64           `json:"s,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Intents requested on identify: guilds, guild messages, message content,
// and guild message reactions.
const identifyIntents = 1<<0 | 1<<9 | 1<<10 | 1<<15

// wireUser is a user object as it appears inside gateway payloads.
type wireUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
	Bot        bool   `json:"bot"`
}

func (u wireUser) avatarURL() string {
	if u.Avatar == "" {
		return "https://cdn.discordapp.com/embed/avatars/0.png"
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", u.ID, u.Avatar)
}

// wireMessage is MESSAGE_CREATE / MESSAGE_UPDATE dispatch data.
type wireMessage struct {
	ID          string   `json:"id"`
	GuildID     string   `json:"guild_id"`
	ChannelID   string   `json:"channel_id"`
	Author      wireUser `json:"author"`
	Content     string   `json:"content"`
	Timestamp   string   `json:"timestamp"`
	Attachments []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"attachments"`
	Embeds []struct {
		URL string `json:"url"`
	} `json:"embeds"`
	ReferencedMessage *struct {
		Author  wireUser `json:"author"`
		Content string   `json:"content"`
	} `json:"referenced_message"`
}

func parseMessage(data []byte) (discord.Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return discord.Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	if wm.ID == "" {
		return discord.Message{}, fmt.Errorf("message without id")
	}

	msg := discord.Message{
		ID:        wm.ID,
		GuildID:   wm.GuildID,
		ChannelID: wm.ChannelID,
		Author: discord.Author{
			ID:          wm.Author.ID,
			Username:    wm.Author.Username,
			DisplayName: wm.Author.GlobalName,
			AvatarURL:   wm.Author.avatarURL(),
			Bot:         wm.Author.Bot,
		},
		Content: wm.Content,
	}
	if wm.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, wm.Timestamp); err == nil {
			msg.Timestamp = ts.UTC()
		}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	for _, a := range wm.Attachments {
		msg.Attachments = append(msg.Attachments, discord.Attachment{URL: a.URL, ContentType: a.ContentType})
	}
	for _, e := range wm.Embeds {
		if e.URL != "" {
			msg.EmbedURLs = append(msg.EmbedURLs, e.URL)
		}
	}
	if wm.ReferencedMessage != nil {
		msg.ReplyTo = &discord.ReplyRef{
			AuthorName: wm.ReferencedMessage.Author.Username,
			Content:    wm.ReferencedMessage.Content,
		}
	}
	return msg, nil
}

// wireDelete is MESSAGE_DELETE dispatch data.
type wireDelete struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// wireReaction is MESSAGE_REACTION_ADD / _REMOVE dispatch data.
type wireReaction struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Emoji     struct {
		Name string `json:"name"`
	} `json:"emoji"`
	Member *struct {
		User wireUser `json:"user"`
	} `json:"member"`
}

func parseReaction(data []byte) (discord.Reaction, error) {
	var wr wireReaction
	if err := json.Unmarshal(data, &wr); err != nil {
		return discord.Reaction{}, fmt.Errorf("unmarshal reaction: %w", err)
	}
	r := discord.Reaction{
		MessageID: wr.MessageID,
		ChannelID: wr.ChannelID,
		UserID:    wr.UserID,
		Emoji:     wr.Emoji.Name,
	}
	if wr.Member != nil {
		r.UserName = wr.Member.User.Username
	}
	return r, nil
}
