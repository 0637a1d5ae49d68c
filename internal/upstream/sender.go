// Package upstream defines the command-send contract every backend family
// implements: the Discord chat gateway, the partner cloud API, and the
// official cloud API. The instance scheduler and the orchestrator depend only
// on this interface.
package upstream

import (
	"context"

	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// ModalRequest is the second phase of a two-phase (modal) interaction: the
// submit inside the confirm window opened by the first phase.
type ModalRequest struct {
	MessageID string
	CustomID  string // e.g. MJ::RemixModal::{hash}::{index}::{suffix}
	Nonce     string
	Bot       task.BotFamily

	// Prompt fills the modal text input where the custom id expects one
	// (ImagineModal, RemixModal, PanModal, CustomZoom, PicReader).
	Prompt string
	// MaskBase64 carries the region mask for Inpaint modals.
	MaskBase64 string
}

// Sender issues backend commands for one account. Implementations must be
// safe for concurrent use; pacing is the instance's job, not the sender's.
type Sender interface {
	// Imagine issues /imagine with the full prompt (image URLs already prepended).
	Imagine(ctx context.Context, prompt, nonce string, bot task.BotFamily) task.Message

	// Upscale, Variation, Reroll, Zoom and Pan click the corresponding grid
	// button on a parent message.
	Upscale(ctx context.Context, messageID string, index int, hash string, flags int64, nonce string, bot task.BotFamily) task.Message
	Variation(ctx context.Context, messageID string, index int, hash string, flags int64, nonce string, bot task.BotFamily) task.Message
	Reroll(ctx context.Context, messageID, hash string, flags int64, nonce string, bot task.BotFamily) task.Message

	// Action clicks an arbitrary component by custom id (zoom, pan, bookmark,
	// PicReader, the modal openers).
	Action(ctx context.Context, messageID, customID string, flags int64, nonce string, bot task.BotFamily) task.Message

	// Modal submits the second phase of a two-phase interaction.
	Modal(ctx context.Context, req ModalRequest) task.Message
	// InpaintModal submits the region-repaint mask through the iframe custom id.
	InpaintModal(ctx context.Context, req ModalRequest) task.Message

	Describe(ctx context.Context, uploadName, nonce string, bot task.BotFamily) task.Message
	DescribeByLink(ctx context.Context, link, nonce string, bot task.BotFamily) task.Message
	Blend(ctx context.Context, uploadNames []string, dimensions, nonce string, bot task.BotFamily) task.Message
	Shorten(ctx context.Context, prompt, nonce string, bot task.BotFamily) task.Message
	Edit(ctx context.Context, prompt, nonce string, bot task.BotFamily) task.Message
	Retexture(ctx context.Context, prompt, nonce string, bot task.BotFamily) task.Message

	// Settings surface: /settings plus clicking its selects and buttons.
	Settings(ctx context.Context, channelID, nonce string, bot task.BotFamily) task.Message
	Info(ctx context.Context, channelID, nonce string, bot task.BotFamily) task.Message
	SettingSelect(ctx context.Context, messageID, customID, value, nonce string, bot task.BotFamily) task.Message
	SettingButton(ctx context.Context, messageID, customID, nonce string, bot task.BotFamily) task.Message

	// Seed retrieval: /show into the private channel, then a letter reaction
	// on the seed message.
	ShowJob(ctx context.Context, channelID, jobID, nonce string, bot task.BotFamily) task.Message
	SeedReact(ctx context.Context, channelID, messageID string) task.Message

	// UploadFile stores bytes upstream and returns the upload handle or an
	// http(s) URL when the backend rehosts directly.
	UploadFile(ctx context.Context, fileName string, data []byte) (string, error)
	// SendImageMessage posts an uploaded file into the channel and returns the
	// resulting attachment URL.
	SendImageMessage(ctx context.Context, content, uploadName string) (string, error)
}
