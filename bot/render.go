package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/onnwee/guild-mirror/backend/discord"
	"github.com/onnwee/guild-mirror/backend/grouper"
)

// descriptionLimit is the platform cap on embed descriptions. Groups long
// enough to hit it get truncated with a marker rather than failing the send.
const descriptionLimit = 4096

const deletedPlaceholder = "🗑️ *(deleted)*"

// RenderGroup builds the composite embed for a message group: one embed whose
// description holds every message in the burst, with the author header, the
// channel footer, and the group's sticky image.
func RenderGroup(grp grouper.Group) discord.MessagePayload {
	var b strings.Builder
	for i, m := range grp.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderSlot(m))
	}
	description := b.String()
	if description == "" {
		description = "(no text)"
	}
	if len(description) > descriptionLimit {
		description = cutAtRune(description, descriptionLimit-4) + " …"
	}

	embed := discord.Embed{
		Description: description,
		Color:       discord.ColorBlurple,
	}
	if len(grp.Messages) > 0 {
		first := grp.Messages[0]
		name := first.AuthorDisplay
		if name == "" {
			name = first.AuthorName
		}
		embed.Author = &discord.EmbedAuthor{Name: name, IconURL: grp.ThumbnailURL}
		embed.Timestamp = grp.Messages[len(grp.Messages)-1].Timestamp.UTC().Format(time.RFC3339)
	}
	if grp.ChannelName != "" {
		embed.Footer = &discord.EmbedFooter{Text: "#" + grp.ChannelName}
	}
	if grp.RepresentativeImageURL != "" {
		embed.Image = &discord.EmbedMedia{URL: grp.RepresentativeImageURL}
	}

	// Non-image attachments surface as fields so nothing is dropped.
	for _, m := range grp.Messages {
		for _, url := range m.Attachments {
			if url != grp.RepresentativeImageURL {
				embed.Fields = append(embed.Fields, discord.EmbedField{Name: "Attachment", Value: url})
			}
		}
	}

	return discord.MessagePayload{Embeds: []discord.Embed{embed}}
}

// renderSlot renders one message of the group, including its reply preview,
// deletion placeholder, and reaction tallies.
func renderSlot(m grouper.GroupedMessage) string {
	var b strings.Builder
	if m.ReplyPreview != "" {
		b.WriteString("> " + truncate(m.ReplyPreview, 80) + "\n")
	}
	switch {
	case m.Deleted:
		b.WriteString(deletedPlaceholder)
	case m.Content == "":
		b.WriteString("(no text)")
	default:
		b.WriteString(m.Content)
	}
	if line := renderReactions(m.Reactions); line != "" {
		b.WriteString("\n" + line)
	}
	return b.String()
}

// renderReactions formats the per-emoji tallies, emoji sorted for stable
// output.
func renderReactions(reactions map[string]grouper.Reaction) string {
	if len(reactions) == 0 {
		return ""
	}
	emojis := make([]string, 0, len(reactions))
	for e := range reactions {
		emojis = append(emojis, e)
	}
	sort.Strings(emojis)

	parts := make([]string, 0, len(emojis))
	for _, e := range emojis {
		r := reactions[e]
		if len(r.Users) > 0 {
			parts = append(parts, fmt.Sprintf("%s %d (%s)", e, r.Count, strings.Join(r.Users, ", ")))
		} else {
			parts = append(parts, fmt.Sprintf("%s %d", e, r.Count))
		}
	}
	return "└ " + strings.Join(parts, "  ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return cutAtRune(s, n) + "..."
}

// cutAtRune cuts s to at most n bytes without splitting a multi-byte rune.
func cutAtRune(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
