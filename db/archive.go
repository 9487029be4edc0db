package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/guild-mirror/backend/fuzzy"
	"github.com/onnwee/guild-mirror/backend/telemetry"
)

// ArchivedMessage is one row of the message archive.
type ArchivedMessage struct {
	MessageID     string     `json:"message_id"`
	GuildID       string     `json:"guild_id,omitempty"`
	ChannelID     string     `json:"channel_id"`
	ChannelName   string     `json:"channel_name,omitempty"`
	AuthorID      string     `json:"author_id"`
	AuthorName    string     `json:"author_name"`
	AuthorDisplay string     `json:"author_display,omitempty"`
	AvatarURL     string     `json:"avatar_url,omitempty"`
	Content       string     `json:"content"`
	BeforeContent string     `json:"before_content,omitempty"`
	EventType     string     `json:"event_type"`
	Deleted       bool       `json:"deleted"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// InsertMessage archives a newly created message. Conflicts on message_id are
// ignored so replayed gateway events stay idempotent.
func InsertMessage(ctx context.Context, db *sql.DB, m ArchivedMessage) error {
	_, err := db.ExecContext(ctx, `INSERT INTO messages
		(message_id, guild_id, channel_id, channel_name, author_id, author_name, author_display, avatar_url, content, event_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'create', $10)
		ON CONFLICT (message_id) DO NOTHING`,
		m.MessageID, m.GuildID, m.ChannelID, m.ChannelName, m.AuthorID, m.AuthorName, m.AuthorDisplay, m.AvatarURL, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if telemetry.ArchiveInserts != nil {
		telemetry.ArchiveInserts.Inc()
	}
	return nil
}

// UpdateContent records an edit: the previous content moves to
// before_content and the row becomes an 'edit' event.
func UpdateContent(ctx context.Context, db *sql.DB, messageID, newContent string, editedAt time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE messages
		SET before_content = content, content = $2, event_type = 'edit', updated_at = $3
		WHERE message_id = $1`,
		messageID, newContent, editedAt)
	if err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	return nil
}

// MarkDeleted flags an archived message as deleted without dropping the row.
func MarkDeleted(ctx context.Context, db *sql.DB, messageID string, deletedAt time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE messages
		SET deleted = TRUE, event_type = 'delete', updated_at = $2
		WHERE message_id = $1`,
		messageID, deletedAt)
	if err != nil {
		return fmt.Errorf("mark message deleted: %w", err)
	}
	return nil
}

// searchScanLimit bounds how many recent rows one search will walk. The
// fuzzy filter runs in Go, so the SQL side only orders and caps.
const searchScanLimit = 20000

// SearchMessages scans the archive newest-first and returns messages whose
// content fuzzy-matches term under the word-token policy, preserving scan
// order, up to limit results.
func SearchMessages(ctx context.Context, db *sql.DB, term string, tolerance, limit int) ([]ArchivedMessage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := db.QueryContext(ctx, `SELECT message_id, guild_id, channel_id, channel_name, author_id, author_name, author_display, avatar_url, content, before_content, event_type, deleted, created_at, updated_at
		FROM messages ORDER BY created_at DESC LIMIT $1`, searchScanLimit)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()

	out := make([]ArchivedMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if fuzzy.MatchesTerm(m.Content, term, tolerance) {
			out = append(out, m)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, rows.Err()
}

// ListMessages returns the most recent archived messages for a channel (or
// all channels when channelID is empty).
func ListMessages(ctx context.Context, db *sql.DB, channelID string, limit int) ([]ArchivedMessage, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	var rows *sql.Rows
	var err error
	if channelID != "" {
		rows, err = db.QueryContext(ctx, `SELECT message_id, guild_id, channel_id, channel_name, author_id, author_name, author_display, avatar_url, content, before_content, event_type, deleted, created_at, updated_at
			FROM messages WHERE channel_id=$1 ORDER BY created_at DESC LIMIT $2`, channelID, limit)
	} else {
		rows, err = db.QueryContext(ctx, `SELECT message_id, guild_id, channel_id, channel_name, author_id, author_name, author_display, avatar_url, content, before_content, event_type, deleted, created_at, updated_at
			FROM messages ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()

	out := make([]ArchivedMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessages returns the total number of archived messages.
func CountMessages(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func scanMessage(rows *sql.Rows) (ArchivedMessage, error) {
	var m ArchivedMessage
	var guildID, channelName, authorName, authorDisplay, avatarURL, content, beforeContent sql.NullString
	var updatedAt sql.NullTime
	if err := rows.Scan(&m.MessageID, &guildID, &m.ChannelID, &channelName, &m.AuthorID, &authorName, &authorDisplay, &avatarURL, &content, &beforeContent, &m.EventType, &m.Deleted, &m.CreatedAt, &updatedAt); err != nil {
		return m, fmt.Errorf("scan message: %w", err)
	}
	m.GuildID = guildID.String
	m.ChannelName = channelName.String
	m.AuthorName = authorName.String
	m.AuthorDisplay = authorDisplay.String
	m.AvatarURL = avatarURL.String
	m.Content = content.String
	m.BeforeContent = beforeContent.String
	if updatedAt.Valid {
		t := updatedAt.Time
		m.UpdatedAt = &t
	}
	return m, nil
}
