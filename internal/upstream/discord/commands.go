package discord

import (
	"strings"

	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// splitCustomID breaks a Discord component custom id into its "::" segments.
func splitCustomID(raw string) []string {
	return strings.Split(raw, "::")
}

// Application ids of the two drawing bots.
const (
	mjApplicationID   = "936929561302675456"
	nijiApplicationID = "1022952195194359889"
)

func applicationID(bot task.BotFamily) string {
	if bot == task.BotNiji {
		return nijiApplicationID
	}
	return mjApplicationID
}

// command pins one slash command's registered id and version. The ids are
// global per application; versions move when the bot redeploys a command.
type command struct {
	ID      string
	Version string
	Name    string
}

var (
	cmdImagine  = command{ID: "938956540159881230", Version: "1237876415471554623", Name: "imagine"}
	cmdBlend    = command{ID: "1062880104792997970", Version: "1237876415471554625", Name: "blend"}
	cmdDescribe = command{ID: "1092492867185950852", Version: "1237876415471554624", Name: "describe"}
	cmdShorten  = command{ID: "1121575339396128829", Version: "1237876415471554626", Name: "shorten"}
	cmdInfo     = command{ID: "972289487818334209", Version: "1237876415471554621", Name: "info"}
	cmdSettings = command{ID: "972289487818334211", Version: "1237876415471554622", Name: "settings"}
	cmdShow     = command{ID: "971614811036459068", Version: "1237876415471554620", Name: "show"}
)

// Modal text-input custom ids, keyed by the modal custom id's second segment.
var modalInputIDs = map[string]string{
	"ImagineModal": "MJ::ImagineModal::new_prompt",
	"RemixModal":   "MJ::RemixModal::new_prompt",
	"PanModal":     "MJ::PanModal::prompt",
	"CustomZoom":   "MJ::OutpaintCustomZoomModal::prompt",
	"Picread":      "MJ::Picread::Modal::PromptField",
	"Job":          "MJ::Picread::Modal::PromptField",
	"JOB":          "MJ::Picread::Modal::PromptField",
}

// modalInputID resolves the text-input custom id for a modal custom id.
func modalInputID(modalCustomID string) string {
	parts := splitCustomID(modalCustomID)
	if len(parts) >= 2 {
		if id, ok := modalInputIDs[parts[1]]; ok {
			return id
		}
	}
	return "MJ::ImagineModal::new_prompt"
}
