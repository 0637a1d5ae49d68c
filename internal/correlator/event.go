// Package correlator consumes upstream notifications and resolves them to
// in-flight tasks: progress updates, button grids, terminal transitions.
package correlator

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// EventType classifies a normalized upstream event.
type EventType string

const (
	EventCreate      EventType = "create"
	EventUpdate      EventType = "update"
	EventDelete      EventType = "delete"
	EventInteraction EventType = "interaction" // interaction success / iframe modal create
)

// Attachment is one file on an upstream message.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// InteractionMetadata identifies the interaction a message answers.
type InteractionMetadata struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// EventData is one normalized upstream notification. Chat-gateway messages
// and partner/official poll results both reduce to this shape.
type EventData struct {
	ID                  string              `json:"id"`
	AuthorID            string              `json:"authorId,omitempty"`
	Type                EventType           `json:"type"`
	ChannelID           string              `json:"channelId"`
	Content             string              `json:"content,omitempty"`
	Attachments         []Attachment        `json:"attachments,omitempty"`
	Components          []task.Button       `json:"components,omitempty"`
	Interaction         InteractionMetadata `json:"interactionMetadata,omitempty"`
	Flags               int64               `json:"flags,omitempty"`
	ReferencedMessageID string              `json:"referencedMessageId,omitempty"`
	Nonce               string              `json:"nonce,omitempty"`
	Embeds              []Embed             `json:"embeds,omitempty"`
}

// Embed carries the fields the correlator inspects from message embeds.
type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
}

// DedupKey folds the message id, event type and a content fingerprint so a
// replay of the same event drops while successive edits of one message pass.
func (e *EventData) DedupKey() string {
	h := fnv.New64a()
	h.Write([]byte(e.Content))
	for _, a := range e.Attachments {
		h.Write([]byte(a.URL))
	}
	return fmt.Sprintf("%s:%s:%x", e.ID, e.Type, h.Sum64())
}

// FirstImageURL returns the first image attachment URL, or "".
func (e *EventData) FirstImageURL() string {
	if len(e.Attachments) == 0 {
		return ""
	}
	return e.Attachments[0].URL
}

// Content markers the upstream embeds in message text.
const (
	markerWaitingToStart = "(Waiting to start)"
	markerStopped        = "(Stopped)"
	markerPaused         = "(Paused)"
)

var progressRe = regexp.MustCompile(`\((\d{1,3}%)\)`)

// ParseProgress extracts a "50%" style progress token, or "".
func ParseProgress(content string) string {
	m := progressRe.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return m[1]
}

// InProgress reports whether the content represents a non-final render state.
func InProgress(content string) bool {
	return strings.Contains(content, markerWaitingToStart) ||
		strings.Contains(content, markerStopped) ||
		strings.Contains(content, markerPaused) ||
		ParseProgress(content) != ""
}

// contentRes are the four header shapes for "**prompt** - ..." messages,
// tried strictly in order.
var contentRes = []*regexp.Regexp{
	regexp.MustCompile(`\*\*(.*)\*\* - (.*?)<@\d+> \((.*?)\)`),
	regexp.MustCompile(`\*\*(.*)\*\* - <@\d+> \((.*?)\)`),
	regexp.MustCompile(`\*\*(.*)\*\* - Variations by <@\d+> \((.*?)\)`),
	regexp.MustCompile(`\*\*(.*)\*\* - Variations \(.*?\) by <@\d+> \((.*?)\)`),
}

// ParseContentPrompt extracts the bold prompt header. The second return is
// the trailing parenthesised status ("Waiting to start", "fast", ...).
func ParseContentPrompt(content string) (prompt, status string, ok bool) {
	for _, re := range contentRes {
		m := re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		return m[1], m[len(m)-1], true
	}
	return "", "", false
}

// ParseMessageHash extracts the grid image hash from an attachment URL: the
// segment between the last underscore and the extension.
func ParseMessageHash(imageURL string) string {
	if imageURL == "" {
		return ""
	}
	// Strip query string, then the extension.
	if i := strings.IndexByte(imageURL, '?'); i >= 0 {
		imageURL = imageURL[:i]
	}
	base := imageURL
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if i := strings.LastIndexByte(base, '_'); i >= 0 {
		return base[i+1:]
	}
	return ""
}

// normalizePrompt flattens a prompt for fuzzy content matching: URLs, mention
// tokens and repeated whitespace collapse away.
var (
	urlRe   = regexp.MustCompile(`https?://\S+`)
	spaceRe = regexp.MustCompile(`\s+`)
)

func normalizePrompt(p string) string {
	p = urlRe.ReplaceAllString(p, "")
	p = strings.NewReplacer("**", "", "<", "", ">", "").Replace(p)
	p = spaceRe.ReplaceAllString(p, " ")
	return strings.TrimSpace(strings.ToLower(p))
}

// PromptsMatch reports whether an in-flight task prompt corresponds to the
// prompt parsed from message content.
func PromptsMatch(taskPrompt, contentPrompt string) bool {
	a := normalizePrompt(taskPrompt)
	b := normalizePrompt(contentPrompt)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(b, a) || strings.Contains(a, b)
}
