// Package grouper collapses bursts of consecutive messages from the same
// author in the same channel into one evolving group, so the mirror can edit
// a single composite message instead of sending one per chat line.
//
// The Grouper owns three pieces of state: the group cache keyed by
// (author, channel), an index from message id to its slot inside a group,
// and a per-channel last-sender record. The last-sender record is the guard
// that breaks grouping when another author interjects, even when the group's
// own activity window would still allow an extension.
//
// All methods are safe for concurrent use; callers that need to render a
// group outside the lock should take a Snapshot and treat any later write
// (SetRendered) as best-effort.
package grouper

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/guild-mirror/backend/telemetry"
)

const (
	// DefaultWindow is the maximum gap between consecutive messages from the
	// same author for them to join the same group.
	DefaultWindow = 60 * time.Second
	// DefaultSweepInterval is how often the prune sweep runs.
	DefaultSweepInterval = 15 * time.Second

	// maxReactionUsers caps how many contributor names are kept per emoji.
	maxReactionUsers = 5
)

// Key identifies a group: one author posting in one channel.
type Key struct {
	AuthorID  string
	ChannelID string
}

// Attachment is one file attached to an inbound message.
type Attachment struct {
	URL         string
	ContentType string
}

// Message is the grouper's view of an inbound chat message.
type Message struct {
	ID            string
	ChannelID     string
	ChannelName   string
	AuthorID      string
	AuthorName    string
	AuthorDisplay string
	AvatarURL     string
	Content       string
	Timestamp     time.Time
	Attachments   []Attachment
	ReplyPreview  string
	EmbedURLs     []string
}

// Reaction tallies one emoji on one grouped message.
type Reaction struct {
	Count int
	Users []string
}

// GroupedMessage is one slot inside a group.
type GroupedMessage struct {
	ID            string
	AuthorName    string
	AuthorDisplay string
	Content       string
	Timestamp     time.Time
	Attachments   []string
	ReplyPreview  string
	Reactions     map[string]Reaction
	Deleted       bool
}

// Group is one contiguous burst of messages from a single author.
type Group struct {
	Key          Key
	Messages     []GroupedMessage
	LastActivity time.Time

	// Rendered is the opaque reference to the outbound composite message,
	// empty until the first send succeeds. It may go stale behind our back
	// if the composite is deleted externally; renders must tolerate that.
	Rendered string

	// RepresentativeImageURL is the first image/video attachment or media
	// link seen in the group. First write wins.
	RepresentativeImageURL string

	ThumbnailURL string
	ChannelName  string
}

// ActionKind says what Ingest did with a message.
type ActionKind int

const (
	// Created means a fresh group was started for the message.
	Created ActionKind = iota
	// Extended means the message was appended to an existing group.
	Extended
)

func (k ActionKind) String() string {
	if k == Extended {
		return "extended"
	}
	return "created"
}

// Action is the result of ingesting one message.
type Action struct {
	Kind  ActionKind
	Key   Key
	Index int
}

type indexRef struct {
	key   Key
	index int
}

type lastSender struct {
	authorID  string
	messageID string
	at        time.Time
}

// Grouper holds the group cache, the message index, and the channel
// last-sender tracker. Construct with New and tear down by cancelling the
// sweep context; groups are only ever removed by the prune sweep.
type Grouper struct {
	mu         sync.Mutex
	groups     map[Key]*Group
	index      map[string]indexRef
	lastSender map[string]lastSender

	window     time.Duration
	pruneAfter time.Duration

	now func() time.Time
}

// New returns a Grouper with the given grouping window and prune threshold.
// Non-positive values fall back to DefaultWindow and 6x the window; the
// prune threshold is always kept strictly greater than the window.
func New(window, pruneAfter time.Duration) *Grouper {
	if window <= 0 {
		window = DefaultWindow
	}
	if pruneAfter <= window {
		pruneAfter = 6 * window
	}
	return &Grouper{
		groups:     make(map[Key]*Group),
		index:      make(map[string]indexRef),
		lastSender: make(map[string]lastSender),
		window:     window,
		pruneAfter: pruneAfter,
		now:        time.Now,
	}
}

// Ingest decides whether m extends the author's current group in its channel
// or starts a new one, and records it. The channel's last-sender record is
// updated unconditionally so later decisions stay correct even when the
// caller cannot render the group anywhere.
func (g *Grouper) Ingest(m Message) Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	key := Key{AuthorID: m.AuthorID, ChannelID: m.ChannelID}

	defer func() {
		g.lastSender[m.ChannelID] = lastSender{authorID: m.AuthorID, messageID: m.ID, at: now}
	}()

	if grp, ok := g.groups[key]; ok && g.canExtend(grp, m, now) {
		grp.Messages = append(grp.Messages, newSlot(m))
		grp.LastActivity = now
		if grp.ChannelName == "" {
			grp.ChannelName = m.ChannelName
		}
		if grp.RepresentativeImageURL == "" {
			grp.RepresentativeImageURL = firstMediaURL(m)
		}
		idx := len(grp.Messages) - 1
		g.index[m.ID] = indexRef{key: key, index: idx}
		telemetry.IncGroupsExtended()
		return Action{Kind: Extended, Key: key, Index: idx}
	}

	// A fresh group replaces any stale one under the same key; its index
	// entries must go with it or later edits would patch the wrong slots.
	if old, ok := g.groups[key]; ok {
		for _, slot := range old.Messages {
			delete(g.index, slot.ID)
		}
	}

	grp := &Group{
		Key:                    key,
		Messages:               []GroupedMessage{newSlot(m)},
		LastActivity:           now,
		RepresentativeImageURL: firstMediaURL(m),
		ThumbnailURL:           m.AvatarURL,
		ChannelName:            m.ChannelName,
	}
	g.groups[key] = grp
	g.index[m.ID] = indexRef{key: key, index: 0}
	telemetry.IncGroupsCreated()
	telemetry.SetActiveGroups(len(g.groups))
	return Action{Kind: Created, Key: key, Index: 0}
}

// canExtend applies the compound grouping condition: the group is fresh
// enough AND the channel's last message came from this author AND that last
// message is the last slot currently in the group. The third check is what
// stops a burst from resuming after someone else posted in between.
func (g *Grouper) canExtend(grp *Group, m Message, now time.Time) bool {
	if now.Sub(grp.LastActivity) > g.window {
		return false
	}
	last, ok := g.lastSender[m.ChannelID]
	if !ok || last.authorID != m.AuthorID {
		return false
	}
	if len(grp.Messages) == 0 {
		return false
	}
	return last.messageID == grp.Messages[len(grp.Messages)-1].ID
}

// SetRendered records the outbound composite reference for a group. It is the
// post-send continuation: if the group was pruned while the send was in
// flight, this is a no-op.
func (g *Grouper) SetRendered(key Key, ref string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if grp, ok := g.groups[key]; ok {
		grp.Rendered = ref
	}
}

// Snapshot returns a deep copy of the group so callers can render it without
// holding the lock across a network call.
func (g *Grouper) Snapshot(key Key) (Group, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, ok := g.groups[key]
	if !ok {
		return Group{}, false
	}
	return copyGroup(grp), true
}

// Find returns a copy of the indexed slot for messageID, with the key of the
// group holding it.
func (g *Grouper) Find(messageID string) (GroupedMessage, Key, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.index[messageID]
	if !ok {
		return GroupedMessage{}, Key{}, false
	}
	grp := g.groups[ref.key]
	if grp == nil || ref.index >= len(grp.Messages) {
		return GroupedMessage{}, Key{}, false
	}
	slot := grp.Messages[ref.index]
	slot.Attachments = append([]string(nil), slot.Attachments...)
	if slot.Reactions != nil {
		rc := make(map[string]Reaction, len(slot.Reactions))
		for emoji, r := range slot.Reactions {
			r.Users = append([]string(nil), r.Users...)
			rc[emoji] = r
		}
		slot.Reactions = rc
	}
	return slot, ref.key, true
}

// ApplyEdit replaces the stored text and timestamp of an indexed message.
// Returns false when the message is not part of any group.
func (g *Grouper) ApplyEdit(messageID, content string, at time.Time) (Key, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.index[messageID]
	if !ok {
		return Key{}, false
	}
	grp := g.groups[ref.key]
	if grp == nil || ref.index >= len(grp.Messages) {
		return Key{}, false
	}
	grp.Messages[ref.index].Content = content
	grp.Messages[ref.index].Timestamp = at
	return ref.key, true
}

// ApplyDelete marks an indexed message as deleted. The slot stays in place
// so the composite keeps its shape; rendering shows a placeholder.
func (g *Grouper) ApplyDelete(messageID string) (Key, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.index[messageID]
	if !ok {
		return Key{}, false
	}
	grp := g.groups[ref.key]
	if grp == nil || ref.index >= len(grp.Messages) {
		return Key{}, false
	}
	grp.Messages[ref.index].Deleted = true
	return ref.key, true
}

// AddReaction bumps the tally for emoji on an indexed message, keeping up to
// five contributor names as a sample.
func (g *Grouper) AddReaction(messageID, emoji, username string) (Key, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.index[messageID]
	if !ok {
		return Key{}, false
	}
	grp := g.groups[ref.key]
	if grp == nil || ref.index >= len(grp.Messages) {
		return Key{}, false
	}
	slot := &grp.Messages[ref.index]
	if slot.Reactions == nil {
		slot.Reactions = make(map[string]Reaction)
	}
	r := slot.Reactions[emoji]
	r.Count++
	if username != "" && len(r.Users) < maxReactionUsers && !contains(r.Users, username) {
		r.Users = append(r.Users, username)
	}
	slot.Reactions[emoji] = r
	return ref.key, true
}

// RemoveReaction decrements the tally for emoji on an indexed message,
// dropping the emoji entirely when the count reaches zero.
func (g *Grouper) RemoveReaction(messageID, emoji, username string) (Key, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.index[messageID]
	if !ok {
		return Key{}, false
	}
	grp := g.groups[ref.key]
	if grp == nil || ref.index >= len(grp.Messages) || grp.Messages[ref.index].Reactions == nil {
		return Key{}, false
	}
	slot := &grp.Messages[ref.index]
	r, ok := slot.Reactions[emoji]
	if !ok {
		return Key{}, false
	}
	r.Count--
	r.Users = remove(r.Users, username)
	if r.Count <= 0 {
		delete(slot.Reactions, emoji)
	} else {
		slot.Reactions[emoji] = r
	}
	return ref.key, true
}

// Prune evicts every group idle for at least the prune threshold and purges
// all index entries pointing at it. Idempotent; returns the evicted keys.
func (g *Grouper) Prune(now time.Time) []Key {
	g.mu.Lock()
	defer g.mu.Unlock()

	var evicted []Key
	for key, grp := range g.groups {
		if now.Sub(grp.LastActivity) >= g.pruneAfter {
			delete(g.groups, key)
			evicted = append(evicted, key)
		}
	}
	if len(evicted) > 0 {
		for id, ref := range g.index {
			for _, key := range evicted {
				if ref.key == key {
					delete(g.index, id)
					break
				}
			}
		}
		telemetry.AddGroupsPruned(len(evicted))
		telemetry.SetActiveGroups(len(g.groups))
	}
	return evicted
}

// StartPruneSweep runs Prune on a fixed interval until ctx is cancelled.
func (g *Grouper) StartPruneSweep(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultSweepInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	slog.Info("group prune sweep started", slog.Duration("interval", every), slog.Duration("prune_after", g.pruneAfter))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := g.Prune(g.now()); len(evicted) > 0 {
				slog.Debug("pruned idle groups", slog.Int("count", len(evicted)))
			}
		}
	}
}

// Len reports the number of active groups.
func (g *Grouper) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.groups)
}

func newSlot(m Message) GroupedMessage {
	urls := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		urls = append(urls, a.URL)
	}
	return GroupedMessage{
		ID:            m.ID,
		AuthorName:    m.AuthorName,
		AuthorDisplay: m.AuthorDisplay,
		Content:       m.Content,
		Timestamp:     m.Timestamp,
		Attachments:   urls,
		ReplyPreview:  m.ReplyPreview,
	}
}

func copyGroup(grp *Group) Group {
	out := *grp
	out.Messages = make([]GroupedMessage, len(grp.Messages))
	for i, msg := range grp.Messages {
		cp := msg
		cp.Attachments = append([]string(nil), msg.Attachments...)
		if msg.Reactions != nil {
			cp.Reactions = make(map[string]Reaction, len(msg.Reactions))
			for emoji, r := range msg.Reactions {
				r.Users = append([]string(nil), r.Users...)
				cp.Reactions[emoji] = r
			}
		}
		out.Messages[i] = cp
	}
	return out
}

var mediaURLPattern = regexp.MustCompile(`https?://(?:media\.|cdn\.|i\.)?(?:discordapp\.(?:com|net)|tenor\.com|giphy\.com|imgur\.com)/\S+`)

var mediaExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".mp4", ".mov", ".webm"}

// firstMediaURL picks the group's sticky representative image: the first
// image/video attachment, else the first known media-hosting link in the
// message text.
func firstMediaURL(m Message) string {
	for _, a := range m.Attachments {
		ct := strings.ToLower(a.ContentType)
		if strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "video/") {
			return a.URL
		}
		lower := strings.ToLower(a.URL)
		for _, ext := range mediaExtensions {
			if strings.Contains(lower, ext) {
				return a.URL
			}
		}
	}
	for _, u := range m.EmbedURLs {
		if u != "" {
			return u
		}
	}
	return mediaURLPattern.FindString(m.Content)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
