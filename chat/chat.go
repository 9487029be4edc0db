// Package chat is the optional Twitch bridge: it joins one Twitch channel
// and feeds PRIVMSG traffic into the same transcript, archive, and keyword
// alert pipeline the gateway events use. Grouping is not applied; Twitch
// lines are mirrored as transcript and archive entries only.
package chat

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/guild-mirror/backend/config"
	"github.com/onnwee/guild-mirror/backend/db"
	"github.com/onnwee/guild-mirror/backend/fuzzy"
	"github.com/onnwee/guild-mirror/backend/telemetry"
	"github.com/onnwee/guild-mirror/backend/transcript"
)

// Alerter posts a keyword alert for a bridged chat line. The bot's alert
// channel sender satisfies this.
type Alerter interface {
	AlertChatLine(ctx context.Context, channel, username, content, keyword string)
}

// StartBridge connects to Twitch chat and mirrors messages until ctx is
// cancelled. Missing credentials disable the bridge silently; that is the
// expected state for Discord-only deployments.
func StartBridge(ctx context.Context, cfg *config.Config, store *transcript.Store, database *sql.DB, alerter Alerter) {
	if err := cfg.ValidateBridgeReady(); err != nil {
		slog.Info("twitch creds not set; skipping chat bridge")
		return
	}

	matcher := fuzzy.NewMatcher(cfg.Keywords, cfg.FuzzyTolerance)
	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		now := time.Now().UTC()

		if store != nil {
			entry := transcript.Entry{
				ID:           msg.ID,
				Author:       msg.User.Name,
				Content:      msg.Message,
				Channel:      "twitch:" + msg.Channel,
				CreatedAt:    now,
				ReadableTime: now.Format("2006-01-02 15:04:05 UTC"),
				Type:         transcript.TypeCreate,
			}
			if err := store.Append(entry); err != nil {
				slog.Error("bridge transcript write failed", slog.Any("err", err))
			}
		}

		if database != nil {
			if err := db.InsertMessage(ctx, database, db.ArchivedMessage{
				MessageID:   "twitch-" + msg.ID,
				ChannelID:   "twitch:" + msg.Channel,
				ChannelName: msg.Channel,
				AuthorID:    msg.User.ID,
				AuthorName:  msg.User.Name,
				Content:     msg.Message,
				CreatedAt:   now,
			}); err != nil {
				slog.Error("bridge archive insert failed", slog.Any("err", err))
			}
		}

		if keyword, ok := matcher.Match(msg.Message); ok {
			telemetry.IncKeywordAlerts()
			slog.Info("keyword detected in twitch chat",
				slog.String("keyword", keyword),
				slog.String("user", msg.User.Name),
				slog.String("channel", msg.Channel))
			if alerter != nil {
				alerter.AlertChatLine(ctx, msg.Channel, msg.User.DisplayName, msg.Message, keyword)
			}
		}
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(cfg.TwitchChannel)
	slog.Info("twitch chat bridge connecting", slog.String("channel", cfg.TwitchChannel))
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}
