package discord

// Embed colors, matching the palette the mirror uses in the log channel.
const (
	ColorBlurple  = 0x5865F2
	ColorRed      = 0xED4245
	ColorGold     = 0xF1C40F
	ColorDarkGray = 0x607D8B
	ColorGreen    = 0x57F287
)

// Embed is the outbound rich-embed document.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type EmbedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type EmbedMedia struct {
	URL string `json:"url"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Component message-component types and button styles (only what the mirror
// sends: one action row holding one link button).
const (
	ComponentActionRow = 1
	ComponentButton    = 2
	ButtonStyleLink    = 5
)

// Component is a message component (action row or button).
type Component struct {
	Type       int         `json:"type"`
	Style      int         `json:"style,omitempty"`
	Label      string      `json:"label,omitempty"`
	URL        string      `json:"url,omitempty"`
	Components []Component `json:"components,omitempty"`
}

// LinkButtonRow builds one action row holding a single link button.
func LinkButtonRow(label, url string) Component {
	return Component{
		Type: ComponentActionRow,
		Components: []Component{{
			Type:  ComponentButton,
			Style: ButtonStyleLink,
			Label: label,
			URL:   url,
		}},
	}
}

// MessagePayload is the body for message create/edit calls.
type MessagePayload struct {
	Content    string      `json:"content,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []Component `json:"components,omitempty"`
}
