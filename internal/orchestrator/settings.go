package orchestrator

import (
	"context"

	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// SyncSettings issues /settings into the account's private channel; the
// event side mirrors the resulting button grid onto the account.
func (o *Orchestrator) SyncSettings(ctx context.Context, channelID string, bot task.BotFamily) *task.SubmitResult {
	inst := o.manager.Get(channelID)
	if inst == nil {
		return task.SubmitNotFound("account instance unavailable")
	}
	private := inst.Account().PrivateChannel(bot)
	if private == "" {
		return task.SubmitValidationError("account has no private channel configured")
	}
	msg := inst.Sender().Settings(ctx, private, task.NewNonce(), bot)
	if msg.Code != task.CodeSuccess {
		return task.SubmitFailure(msg.Description)
	}
	return task.SubmitSuccess(channelID)
}

// ChangeSetting clicks one settings control (mode buttons, remix toggle,
// version select) on the account's settings message.
func (o *Orchestrator) ChangeSetting(ctx context.Context, channelID, messageID, customID, value string, bot task.BotFamily) *task.SubmitResult {
	inst := o.manager.Get(channelID)
	if inst == nil {
		return task.SubmitNotFound("account instance unavailable")
	}
	var msg task.Message
	if value != "" {
		msg = inst.Sender().SettingSelect(ctx, messageID, customID, value, task.NewNonce(), bot)
	} else {
		msg = inst.Sender().SettingButton(ctx, messageID, customID, task.NewNonce(), bot)
	}
	if msg.Code != task.CodeSuccess {
		return task.SubmitFailure(msg.Description)
	}
	// The upstream answers with a fresh grid; re-issue /settings so the
	// mirrored state converges even when the edit event is missed.
	return o.SyncSettings(ctx, channelID, bot)
}
