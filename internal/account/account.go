// Package account holds the upstream account entity and the in-memory
// registry the selector and correlator read from.
package account

import (
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// Account is one upstream drawing account. Created and mutated out-of-band;
// the core observes it through the Registry.
type Account struct {
	ChannelID string `json:"channelId"`
	GuildID   string `json:"guildId,omitempty"`
	UserToken string `json:"userToken,omitempty"`
	BotToken  string `json:"botToken,omitempty"`

	// Private channels receiving /info and /show per bot family.
	PrivateChannelID     string `json:"privateChannelId,omitempty"`
	NijiPrivateChannelID string `json:"nijiBotChannelId,omitempty"`

	BackendFamily task.BackendFamily `json:"backendType"`
	// Partner/official API base and secret; unused for chat accounts.
	APIURL    string `json:"apiUrl,omitempty"`
	APISecret string `json:"apiSecret,omitempty"`

	Enable     bool `json:"enable"`
	EnableMj   bool `json:"enableMj"`
	EnableNiji bool `json:"enableNiji"`

	CoreSize         int `json:"coreSize"`
	QueueSize        int `json:"queueSize"`
	RelaxQueueSize   int `json:"relaxQueueSize,omitempty"`
	TimeoutMinutes   int `json:"timeoutMinutes"`
	Interval         float64 `json:"interval,omitempty"`
	AfterIntervalMin float64 `json:"afterIntervalMin,omitempty"`
	AfterIntervalMax float64 `json:"afterIntervalMax,omitempty"`

	Weight int `json:"weight,omitempty"`
	Sort   int `json:"sort,omitempty"`

	// WorkTime / FishingTime are cron expressions bounding when the account
	// takes new work and when it only keeps draining ("fishing" window).
	WorkTime    string `json:"workTime,omitempty"`
	FishingTime string `json:"fishingTime,omitempty"`

	// SubChannels maps a shared sub-channel id to this account's channel.
	SubChannels []string `json:"subChannelList,omitempty"`

	AllowModes []task.Mode `json:"allowModes,omitempty"`
	Mode       task.Mode   `json:"mode,omitempty"`

	IsBlend          bool     `json:"isBlend"`
	IsDescribe       bool     `json:"isDescribe"`
	IsShorten        bool     `json:"isShorten"`
	IsVerticalDomain bool     `json:"isVerticalDomain,omitempty"`
	VerticalDomains  []string `json:"verticalDomainIds,omitempty"`

	// Settings state mirrored from the upstream /settings grid.
	Components     []task.Button `json:"components,omitempty"`
	NijiComponents []task.Button `json:"nijiComponents,omitempty"`

	MjRemixOn       bool `json:"mjRemixOn,omitempty"`
	NijiRemixOn     bool `json:"nijiRemixOn,omitempty"`
	RemixAutoSubmit bool `json:"remixAutoSubmit,omitempty"`

	// Running is flipped by the transport layer on connect/disconnect.
	Running bool `json:"running,omitempty"`
}

// SupportsBot reports whether the account serves the given bot family.
func (a *Account) SupportsBot(bot task.BotFamily) bool {
	switch bot {
	case task.BotNiji:
		return a.EnableNiji
	default:
		return a.EnableMj
	}
}

// RemixOn returns the remix toggle for a bot family.
func (a *Account) RemixOn(bot task.BotFamily) bool {
	if bot == task.BotNiji {
		return a.NijiRemixOn
	}
	return a.MjRemixOn
}

// PrivateChannel returns the private channel receiving /show and /info for
// the bot family, falling back to the MJ channel.
func (a *Account) PrivateChannel(bot task.BotFamily) string {
	if bot == task.BotNiji && a.NijiPrivateChannelID != "" {
		return a.NijiPrivateChannelID
	}
	return a.PrivateChannelID
}

// AllowsMode reports whether the account advertises the mode. An empty
// AllowModes list allows everything.
func (a *Account) AllowsMode(m task.Mode) bool {
	if len(a.AllowModes) == 0 {
		return true
	}
	for _, allowed := range a.AllowModes {
		if allowed == m {
			return true
		}
	}
	return false
}

// QueueSizeFor returns the bounded queue capacity for a mode. RELAX may carry
// its own capacity; FAST/TURBO share QueueSize.
func (a *Account) QueueSizeFor(m task.Mode) int {
	if m == task.ModeRelax && a.RelaxQueueSize > 0 {
		return a.RelaxQueueSize
	}
	return a.QueueSize
}

// HasVerticalDomain reports whether the account is tagged with any of ids.
func (a *Account) HasVerticalDomain(ids []string) bool {
	if !a.IsVerticalDomain {
		return false
	}
	for _, want := range ids {
		for _, have := range a.VerticalDomains {
			if want == have {
				return true
			}
		}
	}
	return false
}

// InWorkWindow reports whether now falls inside the account's work-hours.
// WorkTime is a cron expression matched with minute resolution; empty means
// always on duty.
func (a *Account) InWorkWindow(now time.Time) bool {
	return cronDue(a.WorkTime, now, true)
}

// InFishingWindow reports whether the account is in its fishing (drain-only)
// window. Empty means never.
func (a *Account) InFishingWindow(now time.Time) bool {
	return cronDue(a.FishingTime, now, false)
}

func cronDue(expr string, now time.Time, emptyDefault bool) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return emptyDefault
	}
	// A fresh Gronx per check: the checker keeps per-call state, so a shared
	// instance is not safe across concurrently polled accounts.
	due, err := gronx.New().IsDue(expr, now)
	if err != nil {
		return emptyDefault
	}
	return due
}

// Alive reports whether the account can take new work right now:
// enabled, transport connected, inside work hours, outside fishing hours.
func (a *Account) Alive(now time.Time) bool {
	return a.Enable && a.Running && a.InWorkWindow(now) && !a.InFishingWindow(now)
}

// HighVariabilityOn reports whether the settings grid currently shows the
// High Variability Mode toggle as active. Backs the RemixModal suffix rule.
func (a *Account) HighVariabilityOn(bot task.BotFamily) bool {
	comps := a.Components
	if bot == task.BotNiji {
		comps = a.NijiComponents
	}
	for _, c := range comps {
		if strings.HasPrefix(c.CustomID, "MJ::Settings::HighVariabilityMode::") {
			// The active toggle renders green (style 3).
			return c.Style == 3
		}
	}
	return false
}
