// Package discord contains the platform-facing types and a minimal REST
// client for the mirror's outbound channel writes (send/edit/fetch),
// using the bot token for authorization.
package discord

import (
	"fmt"
	"time"
)

// Author identifies who sent a message, with the display fields the mirror
// denormalizes into transcripts and composite embeds.
type Author struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"global_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	RoleColor   int    `json:"role_color,omitempty"`
	Bot         bool   `json:"bot,omitempty"`
}

// Display returns the preferred display name, falling back to the username.
func (a Author) Display() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Username
}

// Attachment is a file attached to a message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// ReplyRef is a lightweight preview of the message being replied to.
type ReplyRef struct {
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
}

// Message is an inbound chat message as delivered by the gateway.
type Message struct {
	ID          string       `json:"id"`
	GuildID     string       `json:"guild_id,omitempty"`
	ChannelID   string       `json:"channel_id"`
	ChannelName string       `json:"channel_name,omitempty"`
	Author      Author       `json:"author"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
	EmbedURLs   []string     `json:"embed_urls,omitempty"`
	ReplyTo     *ReplyRef    `json:"reply_to,omitempty"`
}

// JumpURL returns the deep link into the client for this message.
func (m Message) JumpURL() string {
	guild := m.GuildID
	if guild == "" {
		guild = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guild, m.ChannelID, m.ID)
}

// Reaction is a reaction event as delivered by the gateway.
type Reaction struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	Emoji     string `json:"emoji"`
}
