// Package bot wires the gateway event stream into the mirror pipeline:
// transcript + archive writes, message grouping, composite rendering in the
// log channel, and keyword alerts.
package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/guild-mirror/backend/config"
	"github.com/onnwee/guild-mirror/backend/db"
	"github.com/onnwee/guild-mirror/backend/discord"
	"github.com/onnwee/guild-mirror/backend/fuzzy"
	"github.com/onnwee/guild-mirror/backend/grouper"
	"github.com/onnwee/guild-mirror/backend/telemetry"
	"github.com/onnwee/guild-mirror/backend/transcript"
)

// Bot handles decoded gateway events. It implements gateway.Handler.
//
// Every handler is log-and-continue: a failed transcript write, archive
// insert, or outbound send never stops the event loop, and a failed render
// leaves the group state intact for the next attempt.
type Bot struct {
	client  *discord.Client
	store   *transcript.Store
	db      *sql.DB
	groups  *grouper.Grouper
	matcher *fuzzy.Matcher

	logChannelID   string
	alertChannelID string
}

// New builds a Bot from its dependencies. database may be nil when the
// Postgres archive is disabled; alert channel may be empty when alerts are
// disabled.
func New(cfg *config.Config, client *discord.Client, store *transcript.Store, database *sql.DB, groups *grouper.Grouper) *Bot {
	return &Bot{
		client:         client,
		store:          store,
		db:             database,
		groups:         groups,
		matcher:        fuzzy.NewMatcher(cfg.Keywords, cfg.FuzzyTolerance),
		logChannelID:   cfg.LogChannelID,
		alertChannelID: cfg.AlertChannelID,
	}
}

// HandleMessageCreate records a new message and mirrors it into the log
// channel, grouping consecutive messages from the same author into one
// composite embed.
func (b *Bot) HandleMessageCreate(ctx context.Context, msg discord.Message) {
	if msg.Author.Bot || msg.GuildID == "" {
		return
	}
	// Gateway payloads carry no channel name; fall back to the id so
	// transcripts and footers stay attributable.
	if msg.ChannelName == "" {
		msg.ChannelName = msg.ChannelID
	}
	log := telemetry.LoggerWithCorr(ctx)

	b.appendTranscript(transcript.Entry{
		ID:            msg.ID,
		Author:        msg.Author.Username,
		AuthorDisplay: msg.Author.Display(),
		AvatarURL:     msg.Author.AvatarURL,
		Content:       msg.Content,
		Channel:       msg.ChannelName,
		CreatedAt:     msg.Timestamp,
		ReadableTime:  msg.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"),
		Type:          transcript.TypeCreate,
	})

	if b.db != nil {
		if err := db.InsertMessage(ctx, b.db, db.ArchivedMessage{
			MessageID:     msg.ID,
			GuildID:       msg.GuildID,
			ChannelID:     msg.ChannelID,
			ChannelName:   msg.ChannelName,
			AuthorID:      msg.Author.ID,
			AuthorName:    msg.Author.Username,
			AuthorDisplay: msg.Author.Display(),
			AvatarURL:     msg.Author.AvatarURL,
			Content:       msg.Content,
			CreatedAt:     msg.Timestamp,
		}); err != nil {
			log.Error("archive insert failed", slog.String("message_id", msg.ID), slog.Any("err", err))
		}
	}

	// Mirroring the log channel back into itself would loop forever.
	if msg.ChannelID != b.logChannelID && b.logChannelID != "" {
		action := b.groups.Ingest(groupMessage(msg))
		b.renderGroup(ctx, action.Key)
		telemetry.IncMessagesMirrored()
	}

	if keyword, ok := b.matcher.Match(msg.Content); ok {
		b.sendAlert(ctx, msg, keyword)
	}
}

// HandleMessageUpdate records an edit and patches the message's group slot,
// re-rendering the composite. Messages no longer in any group get a
// standalone edited-message notice instead.
func (b *Bot) HandleMessageUpdate(ctx context.Context, msg discord.Message) {
	if msg.Author.Bot {
		return
	}
	if msg.ChannelName == "" {
		msg.ChannelName = msg.ChannelID
	}
	log := telemetry.LoggerWithCorr(ctx)
	now := time.Now().UTC()

	before := "(no text)"
	if slot, _, ok := b.groups.Find(msg.ID); ok && slot.Content != "" {
		before = slot.Content
	}

	b.appendTranscript(transcript.Entry{
		ID:            msg.ID,
		Author:        msg.Author.Username,
		AuthorDisplay: msg.Author.Display(),
		AvatarURL:     msg.Author.AvatarURL,
		Content:       msg.Content,
		Channel:       msg.ChannelName,
		CreatedAt:     now,
		ReadableTime:  now.Format("2006-01-02 15:04:05 UTC"),
		Type:          transcript.TypeEdit,
		Before:        before,
	})

	if b.db != nil {
		if err := db.UpdateContent(ctx, b.db, msg.ID, msg.Content, now); err != nil {
			log.Error("archive edit failed", slog.String("message_id", msg.ID), slog.Any("err", err))
		}
	}

	if key, ok := b.groups.ApplyEdit(msg.ID, msg.Content, now); ok {
		b.renderGroup(ctx, key)
		return
	}

	// The group holding this message is gone; fall back to a one-off notice.
	b.sendNotice(ctx, discord.Embed{
		Title: fmt.Sprintf("✏️ Edited Message by %s", msg.Author.Display()),
		Color: discord.ColorGold,
		Fields: []discord.EmbedField{
			{Name: "Before", Value: before},
			{Name: "After", Value: orNoText(msg.Content)},
		},
	})
}

// HandleMessageDelete records a deletion and patches the message's group
// slot, keeping the composite's shape with a placeholder. Unindexed messages
// get a standalone deleted-message notice.
func (b *Bot) HandleMessageDelete(ctx context.Context, channelID, messageID string) {
	log := telemetry.LoggerWithCorr(ctx)
	now := time.Now().UTC()

	// The delete event carries no author or content; the group slot is the
	// only record still in memory.
	slot, _, indexed := b.groups.Find(messageID)

	b.appendTranscript(transcript.Entry{
		ID:            messageID,
		Author:        slot.AuthorName,
		AuthorDisplay: slot.AuthorDisplay,
		Content:       slot.Content,
		CreatedAt:     now,
		ReadableTime:  now.Format("2006-01-02 15:04:05 UTC"),
		Type:          transcript.TypeDelete,
	})

	if b.db != nil {
		if err := db.MarkDeleted(ctx, b.db, messageID, now); err != nil {
			log.Error("archive delete failed", slog.String("message_id", messageID), slog.Any("err", err))
		}
	}

	if indexed {
		if key, ok := b.groups.ApplyDelete(messageID); ok {
			b.renderGroup(ctx, key)
			return
		}
	}

	b.sendNotice(ctx, discord.Embed{
		Title:       "🗑️ Message Deleted",
		Description: fmt.Sprintf("**Author:** %s\n**Channel:** <#%s>\n\n> %s", orUnknown(slot.AuthorName), channelID, orNoText(slot.Content)),
		Color:       discord.ColorDarkGray,
	})
}

// HandleReactionAdd bumps the reaction tally on the message's group slot and
// re-renders. Reactions on unindexed messages are ignored.
func (b *Bot) HandleReactionAdd(ctx context.Context, r discord.Reaction) {
	if key, ok := b.groups.AddReaction(r.MessageID, r.Emoji, r.UserName); ok {
		b.renderGroup(ctx, key)
	}
}

// HandleReactionRemove drops a reaction from the message's group slot and
// re-renders.
func (b *Bot) HandleReactionRemove(ctx context.Context, r discord.Reaction) {
	if key, ok := b.groups.RemoveReaction(r.MessageID, r.Emoji, r.UserName); ok {
		b.renderGroup(ctx, key)
	}
}

// renderGroup snapshots the group and sends or edits its composite message
// in the log channel. Failures are logged and counted; the group state stays
// as-is so a later event can retry the render.
func (b *Bot) renderGroup(ctx context.Context, key grouper.Key) {
	if b.logChannelID == "" {
		return
	}
	snap, ok := b.groups.Snapshot(key)
	if !ok {
		return
	}
	log := telemetry.LoggerWithCorr(ctx)
	payload := RenderGroup(snap)

	var err error
	telemetry.TimeFunc(telemetry.RenderDuration, func() {
		if snap.Rendered == "" {
			var id string
			id, err = b.client.SendMessage(ctx, b.logChannelID, payload)
			if err == nil {
				b.groups.SetRendered(key, id)
			}
		} else {
			err = b.client.EditMessage(ctx, b.logChannelID, snap.Rendered, payload)
		}
	})
	if err != nil {
		telemetry.IncRenderFailures()
		if errors.Is(err, discord.ErrStaleReference) {
			log.Warn("composite message gone, keeping group state",
				slog.String("rendered", snap.Rendered), slog.Any("err", err))
			return
		}
		log.Error("composite render failed", slog.Any("err", err))
	}
}

// sendAlert posts the keyword alert embed with a jump-link button to the
// alert channel.
func (b *Bot) sendAlert(ctx context.Context, msg discord.Message, keyword string) {
	telemetry.IncKeywordAlerts()
	log := telemetry.LoggerWithCorr(ctx)
	log.Info("keyword detected",
		slog.String("keyword", keyword),
		slog.String("author", msg.Author.Username),
		slog.String("channel_id", msg.ChannelID))

	if b.alertChannelID == "" {
		return
	}
	alert := discord.Embed{
		Title: "🚨 Keyword Detected!",
		Description: fmt.Sprintf("**[%s]** mentioned a watched term in <#%s>:\n\n> %s",
			msg.Author.Display(), msg.ChannelID, msg.Content),
		Color:     discord.ColorRed,
		Thumbnail: &discord.EmbedMedia{URL: msg.Author.AvatarURL},
		Footer:    &discord.EmbedFooter{Text: "Detected at " + time.Now().UTC().Format("15:04:05 UTC")},
	}
	payload := discord.MessagePayload{
		Embeds:     []discord.Embed{alert},
		Components: []discord.Component{discord.LinkButtonRow("Jump to Message", msg.JumpURL())},
	}
	if _, err := b.client.SendMessage(ctx, b.alertChannelID, payload); err != nil {
		log.Error("alert send failed", slog.Any("err", err))
	}
}

// AlertChatLine posts a keyword alert for a bridged chat line that has no
// jump link (Twitch messages are not addressable the way guild messages are).
func (b *Bot) AlertChatLine(ctx context.Context, channel, username, content, keyword string) {
	if b.alertChannelID == "" {
		return
	}
	alert := discord.Embed{
		Title: "🚨 Keyword Detected!",
		Description: fmt.Sprintf("**[%s]** mentioned a watched term in twitch #%s:\n\n> %s",
			username, channel, content),
		Color:  discord.ColorRed,
		Footer: &discord.EmbedFooter{Text: "Detected at " + time.Now().UTC().Format("15:04:05 UTC")},
	}
	if _, err := b.client.SendMessage(ctx, b.alertChannelID, discord.MessagePayload{Embeds: []discord.Embed{alert}}); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("bridge alert send failed", slog.Any("err", err))
	}
}

// sendNotice posts a standalone embed to the log channel, used for edit and
// delete events whose message is no longer grouped.
func (b *Bot) sendNotice(ctx context.Context, embed discord.Embed) {
	if b.logChannelID == "" {
		return
	}
	if _, err := b.client.SendMessage(ctx, b.logChannelID, discord.MessagePayload{Embeds: []discord.Embed{embed}}); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("notice send failed", slog.Any("err", err))
	}
}

func (b *Bot) appendTranscript(e transcript.Entry) {
	if b.store == nil {
		return
	}
	if err := b.store.Append(e); err != nil {
		slog.Error("transcript write failed", slog.String("message_id", e.ID), slog.Any("err", err))
	}
}

func groupMessage(msg discord.Message) grouper.Message {
	gm := grouper.Message{
		ID:            msg.ID,
		ChannelID:     msg.ChannelID,
		ChannelName:   msg.ChannelName,
		AuthorID:      msg.Author.ID,
		AuthorName:    msg.Author.Username,
		AuthorDisplay: msg.Author.Display(),
		AvatarURL:     msg.Author.AvatarURL,
		Content:       msg.Content,
		Timestamp:     msg.Timestamp,
		EmbedURLs:     append([]string(nil), msg.EmbedURLs...),
	}
	for _, a := range msg.Attachments {
		gm.Attachments = append(gm.Attachments, grouper.Attachment{URL: a.URL, ContentType: a.ContentType})
	}
	if msg.ReplyTo != nil {
		gm.ReplyPreview = fmt.Sprintf("%s: %s", msg.ReplyTo.AuthorName, msg.ReplyTo.Content)
	}
	return gm
}

func orNoText(s string) string {
	if s == "" {
		return "(no text)"
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}
