// Package discord implements the chat-backend sender and gateway listener on
// top of a logged-in account session. Commands go out as raw interaction
// payloads; task progress comes back through gateway message events.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
	"github.com/WGwuzhi/midjourney-proxy/internal/correlator"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// EventSink receives normalized gateway events; the correlator implements it.
type EventSink func(ev *correlator.EventData)

// Client owns one account's gateway connection and its command sender.
type Client struct {
	account *account.Account
	session *discordgo.Session
	rest    *http.Client
	sink    EventSink
}

// New builds a client for the account. Call Start before sending.
func New(a *account.Account, sink EventSink) (*Client, error) {
	session, err := discordgo.New(a.UserToken)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", a.ChannelID, err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Client{
		account: a,
		session: session,
		rest:    &http.Client{Timeout: 60 * time.Second},
		sink:    sink,
	}, nil
}

// Start opens the gateway connection and begins forwarding events.
func (c *Client) Start(_ context.Context) error {
	c.session.AddHandler(c.onRawEvent)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open gateway for %s: %w", c.account.ChannelID, err)
	}
	c.account.Running = true
	slog.Info("account gateway connected", "channel_id", c.account.ChannelID, "guild_id", c.account.GuildID)
	return nil
}

// Stop closes the gateway connection.
func (c *Client) Stop(_ context.Context) error {
	c.account.Running = false
	return c.session.Close()
}

func (c *Client) emit(ev *correlator.EventData) {
	if c.sink != nil && ev != nil {
		c.sink(ev)
	}
}

// wireMessage is the slice of a gateway MESSAGE_* frame the proxy reads.
// Decoded from the raw frame rather than discordgo's typed struct because the
// nonce only surfaces on the wire.
type wireMessage struct {
	ID          string `json:"id"`
	ChannelID   string `json:"channel_id"`
	Content     string `json:"content"`
	Nonce       any    `json:"nonce"`
	Flags       int64  `json:"flags"`
	Author      *struct {
		ID string `json:"id"`
	} `json:"author"`
	Attachments []struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
	} `json:"attachments"`
	Embeds []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Color       int    `json:"color"`
	} `json:"embeds"`
	Components []struct {
		Type       int `json:"type"`
		Components []struct {
			Type     int    `json:"type"`
			Style    int    `json:"style"`
			Label    string `json:"label"`
			CustomID string `json:"custom_id"`
			Emoji    *struct {
				Name string `json:"name"`
			} `json:"emoji"`
		} `json:"components"`
	} `json:"components"`
	MessageReference *struct {
		MessageID string `json:"message_id"`
	} `json:"message_reference"`
	Interaction *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"interaction"`
}

// iframeModalEvent is the undocumented gateway frame announcing a confirm
// window (remix, zoom, region repaint).
type iframeModalEvent struct {
	ID        string `json:"id"`
	Nonce     string `json:"nonce"`
	ChannelID string `json:"channel_id"`
	CustomID  string `json:"custom_id"`
}

// onRawEvent demultiplexes the raw gateway frames the proxy cares about.
// discordgo has no typed events for the interaction frames, and the message
// frames are decoded raw to keep the nonce.
func (c *Client) onRawEvent(_ *discordgo.Session, e *discordgo.Event) {
	switch e.Type {
	case "MESSAGE_CREATE":
		c.emit(c.normalizeMessage(e.RawData, correlator.EventCreate))
	case "MESSAGE_UPDATE":
		c.emit(c.normalizeMessage(e.RawData, correlator.EventUpdate))
	case "INTERACTION_IFRAME_MODAL_CREATE", "INTERACTION_MODAL_CREATE":
		var m iframeModalEvent
		if err := json.Unmarshal(e.RawData, &m); err != nil {
			slog.Warn("decode modal frame failed", "type", e.Type, "error", err)
			return
		}
		channelID := m.ChannelID
		if channelID == "" {
			channelID = c.account.ChannelID
		}
		c.emit(&correlator.EventData{
			ID:        m.ID,
			Type:      correlator.EventInteraction,
			ChannelID: channelID,
			Nonce:     m.Nonce,
			Interaction: correlator.InteractionMetadata{
				ID:   m.ID,
				Name: m.CustomID,
			},
		})
	case "INTERACTION_SUCCESS":
		var m iframeModalEvent
		if err := json.Unmarshal(e.RawData, &m); err != nil {
			return
		}
		c.emit(&correlator.EventData{
			ID:        m.ID,
			Type:      correlator.EventInteraction,
			ChannelID: c.account.ChannelID,
			Nonce:     m.Nonce,
		})
	}
}

// normalizeMessage reduces a raw message frame to the correlator's shape.
func (c *Client) normalizeMessage(raw json.RawMessage, typ correlator.EventType) *correlator.EventData {
	var m wireMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		slog.Warn("decode message frame failed", "error", err)
		return nil
	}
	if m.ID == "" {
		return nil
	}

	ev := &correlator.EventData{
		ID:        m.ID,
		Type:      typ,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Flags:     m.Flags,
	}
	if m.Author != nil {
		ev.AuthorID = m.Author.ID
	}
	switch n := m.Nonce.(type) {
	case string:
		ev.Nonce = n
	case float64:
		ev.Nonce = fmt.Sprintf("%.0f", n)
	}
	if m.MessageReference != nil {
		ev.ReferencedMessageID = m.MessageReference.MessageID
	}
	if m.Interaction != nil {
		ev.Interaction = correlator.InteractionMetadata{ID: m.Interaction.ID, Name: m.Interaction.Name}
	}
	for _, att := range m.Attachments {
		ev.Attachments = append(ev.Attachments, correlator.Attachment{URL: att.URL, Filename: att.Filename})
	}
	for _, e := range m.Embeds {
		ev.Embeds = append(ev.Embeds, correlator.Embed{Title: e.Title, Description: e.Description, Color: e.Color})
	}
	for _, row := range m.Components {
		for _, comp := range row.Components {
			btn := task.Button{
				CustomID: comp.CustomID,
				Label:    comp.Label,
				Type:     comp.Type,
				Style:    comp.Style,
			}
			if comp.Emoji != nil {
				btn.Emoji = comp.Emoji.Name
			}
			ev.Components = append(ev.Components, btn)
		}
	}
	return ev
}
