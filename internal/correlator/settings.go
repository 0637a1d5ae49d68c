package correlator

import (
	"log/slog"

	"github.com/WGwuzhi/midjourney-proxy/internal/instance"
)

// settingsHandler mirrors the /settings button grid onto the account. The
// grid's High Variability toggle backs the remix-modal suffix rule, so it has
// to track upstream state.
type settingsHandler struct{}

func (*settingsHandler) Name() string { return "settings" }

func (*settingsHandler) Match(ev *EventData) bool {
	return ev.Interaction.Name == "settings" && len(ev.Components) > 0
}

func (*settingsHandler) Handle(c *Correlator, inst *instance.Instance, ev *EventData) bool {
	a := inst.Account()
	if ev.AuthorID == nijiBotID {
		a.NijiComponents = ev.Components
	} else {
		a.Components = ev.Components
	}
	slog.Info("account settings synced",
		"channel_id", a.ChannelID, "bot", ev.AuthorID, "buttons", len(ev.Components))
	return true
}
