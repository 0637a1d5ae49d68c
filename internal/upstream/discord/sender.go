package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/bwmarrin/discordgo"

	"github.com/WGwuzhi/midjourney-proxy/internal/task"
	"github.com/WGwuzhi/midjourney-proxy/internal/upstream"
)

// Interaction request types on the wire.
const (
	interactionCommand   = 2
	interactionComponent = 3
	interactionModal     = 5
)

// interactionRequest is the envelope posted to the interactions endpoint.
type interactionRequest struct {
	Type          int    `json:"type"`
	ApplicationID string `json:"application_id"`
	GuildID       string `json:"guild_id,omitempty"`
	ChannelID     string `json:"channel_id"`
	MessageID     string `json:"message_id,omitempty"`
	MessageFlags  int64  `json:"message_flags,omitempty"`
	SessionID     string `json:"session_id"`
	Data          any    `json:"data"`
	Nonce         string `json:"nonce,omitempty"`
}

type commandOption struct {
	Type    int             `json:"type"`
	Name    string          `json:"name"`
	Value   any             `json:"value,omitempty"`
	Options []commandOption `json:"options,omitempty"`
}

type commandAttachment struct {
	ID               string `json:"id"`
	Filename         string `json:"filename"`
	UploadedFilename string `json:"uploaded_filename"`
}

type commandData struct {
	Version     string              `json:"version"`
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Type        int                 `json:"type"`
	Options     []commandOption     `json:"options"`
	Attachments []commandAttachment `json:"attachments,omitempty"`
}

type componentData struct {
	ComponentType int      `json:"component_type"`
	CustomID      string   `json:"custom_id"`
	Values        []string `json:"values,omitempty"`
}

type modalData struct {
	ID         string     `json:"id"`
	CustomID   string     `json:"custom_id"`
	Components []modalRow `json:"components"`
}

type modalRow struct {
	Type       int          `json:"type"`
	Components []modalInput `json:"components"`
}

type modalInput struct {
	Type     int    `json:"type"`
	CustomID string `json:"custom_id"`
	Value    string `json:"value"`
}

var interactionsEndpoint = discordgo.EndpointAPI + "interactions"

// send posts one interaction payload and maps the outcome to a task message.
// A 204 means accepted; the real verdict arrives through the gateway.
func (c *Client) send(payload *interactionRequest) task.Message {
	payload.SessionID = c.session.State.SessionID
	if _, err := c.session.RequestWithBucketID(http.MethodPost, interactionsEndpoint, payload, interactionsEndpoint); err != nil {
		return task.MessageFailure(restError(err))
	}
	return task.MessageSuccess()
}

func restError(err error) string {
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Message != nil {
		return re.Message.Message
	}
	return err.Error()
}

func (c *Client) commandRequest(cmd command, bot task.BotFamily, channelID, nonce string, options []commandOption, atts []commandAttachment) *interactionRequest {
	if channelID == "" {
		channelID = c.account.ChannelID
	}
	return &interactionRequest{
		Type:          interactionCommand,
		ApplicationID: applicationID(bot),
		GuildID:       c.account.GuildID,
		ChannelID:     channelID,
		Nonce:         nonce,
		Data: commandData{
			Version:     cmd.Version,
			ID:          cmd.ID,
			Name:        cmd.Name,
			Type:        1,
			Options:     options,
			Attachments: atts,
		},
	}
}

// Imagine issues /imagine with the finished prompt.
func (c *Client) Imagine(_ context.Context, prompt, nonce string, bot task.BotFamily) task.Message {
	return c.send(c.commandRequest(cmdImagine, bot, "", nonce, []commandOption{
		{Type: 3, Name: "prompt", Value: prompt},
	}, nil))
}

// Upscale clicks U{index} on the grid message.
func (c *Client) Upscale(ctx context.Context, messageID string, index int, hash string, flags int64, nonce string, bot task.BotFamily) task.Message {
	return c.Action(ctx, messageID, fmt.Sprintf("MJ::JOB::upsample::%d::%s", index, hash), flags, nonce, bot)
}

// Variation clicks V{index} on the grid message.
func (c *Client) Variation(ctx context.Context, messageID string, index int, hash string, flags int64, nonce string, bot task.BotFamily) task.Message {
	return c.Action(ctx, messageID, fmt.Sprintf("MJ::JOB::variation::%d::%s", index, hash), flags, nonce, bot)
}

// Reroll clicks the 🔄 button.
func (c *Client) Reroll(ctx context.Context, messageID, hash string, flags int64, nonce string, bot task.BotFamily) task.Message {
	return c.Action(ctx, messageID, fmt.Sprintf("MJ::JOB::reroll::0::%s::SOLO", hash), flags, nonce, bot)
}

// Action clicks an arbitrary component by custom id.
func (c *Client) Action(_ context.Context, messageID, customID string, flags int64, nonce string, bot task.BotFamily) task.Message {
	return c.send(&interactionRequest{
		Type:          interactionComponent,
		ApplicationID: applicationID(bot),
		GuildID:       c.account.GuildID,
		ChannelID:     c.account.ChannelID,
		MessageID:     messageID,
		MessageFlags:  flags,
		Nonce:         nonce,
		Data: componentData{
			ComponentType: 2,
			CustomID:      customID,
		},
	})
}

// Modal submits the second phase of a two-phase interaction.
func (c *Client) Modal(_ context.Context, req upstream.ModalRequest) task.Message {
	return c.send(&interactionRequest{
		Type:          interactionModal,
		ApplicationID: applicationID(req.Bot),
		GuildID:       c.account.GuildID,
		ChannelID:     c.account.ChannelID,
		Nonce:         req.Nonce,
		Data: modalData{
			ID:       req.MessageID,
			CustomID: req.CustomID,
			Components: []modalRow{{
				Type: 1,
				Components: []modalInput{{
					Type:     4,
					CustomID: modalInputID(req.CustomID),
					Value:    req.Prompt,
				}},
			}},
		},
	})
}

// inpaintJob is the region-repaint submission posted to the bot's iframe
// service rather than the interactions endpoint.
type inpaintJob struct {
	CustomID   string  `json:"customId"`
	Prompt     string  `json:"prompt"`
	UserID     string  `json:"userId"`
	Username   string  `json:"username"`
	Mask       string  `json:"mask"`
	FullPrompt *string `json:"full_prompt"`
}

// InpaintModal posts the mask and prompt to the inpaint iframe service.
func (c *Client) InpaintModal(ctx context.Context, req upstream.ModalRequest) task.Message {
	mask := req.MaskBase64
	if mask != "" && !bytes.HasPrefix([]byte(mask), []byte("data:")) {
		mask = "data:image/png;base64," + mask
	}
	body, err := json.Marshal(inpaintJob{
		CustomID: req.CustomID,
		Prompt:   req.Prompt,
		UserID:   "0",
		Username: "0",
		Mask:     mask,
	})
	if err != nil {
		return task.MessageFailure(err.Error())
	}

	url := fmt.Sprintf("https://%s.discordsays.com/inpaint/api/submit-job", applicationID(req.Bot))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return task.MessageFailure(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.rest.Do(httpReq)
	if err != nil {
		return task.MessageFailure(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return task.MessageFailure(fmt.Sprintf("inpaint submit: status %d", resp.StatusCode))
	}
	return task.MessageSuccess()
}

// Describe issues /describe with an uploaded image.
func (c *Client) Describe(_ context.Context, uploadName, nonce string, bot task.BotFamily) task.Message {
	return c.send(c.commandRequest(cmdDescribe, bot, "", nonce,
		[]commandOption{{Type: 11, Name: "image", Value: 0}},
		[]commandAttachment{{ID: "0", Filename: path.Base(uploadName), UploadedFilename: uploadName}},
	))
}

// DescribeByLink issues /describe with the link subcommand.
func (c *Client) DescribeByLink(_ context.Context, link, nonce string, bot task.BotFamily) task.Message {
	return c.send(c.commandRequest(cmdDescribe, bot, "", nonce, []commandOption{
		{Type: 1, Name: "link", Options: []commandOption{{Type: 3, Name: "link", Value: link}}},
	}, nil))
}

// blendDimensionValues maps the task-facing dimension names onto the command
// option values the bot expects.
var blendDimensionValues = map[string]string{
	"PORTRAIT":  "--ar 2:3",
	"SQUARE":    "--ar 1:1",
	"LANDSCAPE": "--ar 3:2",
}

// Blend issues /blend with 2–5 uploaded images.
func (c *Client) Blend(_ context.Context, uploadNames []string, dimensions, nonce string, bot task.BotFamily) task.Message {
	options := make([]commandOption, 0, len(uploadNames)+1)
	atts := make([]commandAttachment, 0, len(uploadNames))
	for i, name := range uploadNames {
		options = append(options, commandOption{Type: 11, Name: fmt.Sprintf("image%d", i+1), Value: i})
		atts = append(atts, commandAttachment{
			ID:               fmt.Sprintf("%d", i),
			Filename:         path.Base(name),
			UploadedFilename: name,
		})
	}
	if v, ok := blendDimensionValues[dimensions]; ok {
		options = append(options, commandOption{Type: 3, Name: "dimensions", Value: v})
	}
	return c.send(c.commandRequest(cmdBlend, bot, "", nonce, options, atts))
}

// Shorten issues /shorten for prompt analysis.
func (c *Client) Shorten(_ context.Context, prompt, nonce string, bot task.BotFamily) task.Message {
	return c.send(c.commandRequest(cmdShorten, bot, "", nonce, []commandOption{
		{Type: 3, Name: "prompt", Value: prompt},
	}, nil))
}

// Edit is only served by cloud backends.
func (c *Client) Edit(context.Context, string, string, task.BotFamily) task.Message {
	return task.MessageFailure("edit is not supported on chat accounts")
}

// Retexture is only served by cloud backends.
func (c *Client) Retexture(context.Context, string, string, task.BotFamily) task.Message {
	return task.MessageFailure("retexture is not supported on chat accounts")
}

// Settings issues /settings into the given channel.
func (c *Client) Settings(_ context.Context, channelID, nonce string, bot task.BotFamily) task.Message {
	return c.send(c.commandRequest(cmdSettings, bot, channelID, nonce, nil, nil))
}

// Info issues /info into the given channel.
func (c *Client) Info(_ context.Context, channelID, nonce string, bot task.BotFamily) task.Message {
	return c.send(c.commandRequest(cmdInfo, bot, channelID, nonce, nil, nil))
}

// SettingSelect picks a value in a settings select menu.
func (c *Client) SettingSelect(_ context.Context, messageID, customID, value, nonce string, bot task.BotFamily) task.Message {
	return c.send(&interactionRequest{
		Type:          interactionComponent,
		ApplicationID: applicationID(bot),
		GuildID:       c.account.GuildID,
		ChannelID:     c.account.ChannelID,
		MessageID:     messageID,
		Nonce:         nonce,
		Data: componentData{
			ComponentType: 3,
			CustomID:      customID,
			Values:        []string{value},
		},
	})
}

// SettingButton clicks a settings toggle.
func (c *Client) SettingButton(ctx context.Context, messageID, customID, nonce string, bot task.BotFamily) task.Message {
	return c.Action(ctx, messageID, customID, 0, nonce, bot)
}

// ShowJob issues /show for a job hash into the target channel.
func (c *Client) ShowJob(_ context.Context, channelID, jobID, nonce string, bot task.BotFamily) task.Message {
	return c.send(c.commandRequest(cmdShow, bot, channelID, nonce, []commandOption{
		{Type: 3, Name: "job_id", Value: jobID},
	}, nil))
}

// SeedReact adds the envelope reaction that asks the bot to DM the seed.
func (c *Client) SeedReact(_ context.Context, channelID, messageID string) task.Message {
	if err := c.session.MessageReactionAdd(channelID, messageID, "✉️"); err != nil {
		return task.MessageFailure(restError(err))
	}
	return task.MessageSuccess()
}
