// Package task defines the drawing task entity, its state machine, and the
// submit result envelope shared by every backend family.
package task

import (
	"fmt"
	"sync"
	"time"
)

// Action is the drawing operation a task performs.
type Action string

const (
	ActionImagine   Action = "IMAGINE"
	ActionUpscale   Action = "UPSCALE"
	ActionVariation Action = "VARIATION"
	ActionReroll    Action = "REROLL"
	ActionDescribe  Action = "DESCRIBE"
	ActionBlend     Action = "BLEND"
	ActionShorten   Action = "SHORTEN"
	ActionZoom      Action = "ZOOM"
	ActionPan       Action = "PAN"
	ActionInpaint   Action = "INPAINT"
	ActionEdit      Action = "EDIT"
	ActionRetexture Action = "RETEXTURE"
	ActionVideo     Action = "VIDEO"
	ActionShow      Action = "SHOW"
	ActionAction    Action = "ACTION"
	ActionSeed      Action = "SEED"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusNotStart   Status = "NOT_START"
	StatusModal      Status = "MODAL"
	StatusSubmitted  Status = "SUBMITTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
	StatusCancel     Status = "CANCEL"
)

// Terminal reports whether s is a final state. Terminal states never change.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCancel
}

// rank orders statuses for the monotonicity check. MODAL sits between
// NOT_START and SUBMITTED; the one legal backward edge is MODAL → NOT_START.
var statusRank = map[Status]int{
	StatusNotStart:   0,
	StatusModal:      1,
	StatusSubmitted:  2,
	StatusInProgress: 3,
	StatusSuccess:    4,
	StatusFailure:    4,
	StatusCancel:     4,
}

// CanTransition reports whether moving from → to is legal.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if from == StatusModal && to == StatusNotStart {
		return true
	}
	return statusRank[to] >= statusRank[from]
}

// BotFamily is the logical drawing style.
type BotFamily string

const (
	BotMidjourney BotFamily = "MID_JOURNEY"
	BotNiji       BotFamily = "NIJI_JOURNEY"
)

// BackendFamily identifies the upstream provider kind for an account.
type BackendFamily string

const (
	BackendChat     BackendFamily = "CHAT"     // chat-platform bot (Discord)
	BackendPartner  BackendFamily = "PARTNER"  // partner cloud API
	BackendOfficial BackendFamily = "OFFICIAL" // official cloud API
)

// Mode is the scheduling speed.
type Mode string

const (
	ModeFast  Mode = "FAST"
	ModeRelax Mode = "RELAX"
	ModeTurbo Mode = "TURBO"
)

// Button is one actionable component on a finished task (U1..U4, V1..V4, 🔄, ...).
type Button struct {
	CustomID string `json:"customId"`
	Emoji    string `json:"emoji,omitempty"`
	Label    string `json:"label,omitempty"`
	Type     int    `json:"type,omitempty"`
	Style    int    `json:"style,omitempty"`
}

// Properties is the typed bag of correlation and follow-up state a task
// accumulates while it runs. Anything outside these fields is rejected at the
// boundary.
type Properties struct {
	Nonce                 string `json:"nonce,omitempty"`
	MessageID             string `json:"messageId,omitempty"`
	MessageHash           string `json:"messageHash,omitempty"`
	Flags                 int64  `json:"flags,omitempty"`
	CustomID              string `json:"customId,omitempty"`
	FinalPrompt           string `json:"finalPrompt,omitempty"`
	Remix                 bool   `json:"remix,omitempty"`
	RemixCustomID         string `json:"remixCustomId,omitempty"`
	RemixModal            string `json:"remixModal,omitempty"`
	RemixModalMessageID   string `json:"remixModalMessageId,omitempty"`
	RemixUCustomID        string `json:"remixUCustomId,omitempty"`
	InteractionMetadataID string `json:"interactionMetadataId,omitempty"`
	DiscordInstanceID     string `json:"discordInstanceId,omitempty"`
	SeedMessageID         string `json:"seedMessageId,omitempty"`
	NotifyHook            string `json:"notifyHook,omitempty"`
	ProgressMessageID     string `json:"progressMessageId,omitempty"`
}

// AccountFilter carries the caller's account preferences for selection.
type AccountFilter struct {
	InstanceIDs []string `json:"instanceIds,omitempty"`
	Modes       []Mode   `json:"modes,omitempty"`
	DomainIDs   []string `json:"domainIds,omitempty"`
	Remix       *bool    `json:"remix,omitempty"`
}

// Task is one drawing job. It is created by the orchestrator, mutated by the
// orchestrator and the correlator while non-terminal, and retained forever.
type Task struct {
	mu sync.Mutex

	ID            string        `json:"id"`
	ParentID      string        `json:"parentId,omitempty"`
	Action        Action        `json:"action"`
	Status        Status        `json:"status"`
	BotFamily     BotFamily     `json:"botType"`
	BackendFamily BackendFamily `json:"backendType"`
	Mode          Mode          `json:"mode,omitempty"`

	Prompt      string   `json:"prompt,omitempty"`
	PromptEn    string   `json:"promptEn,omitempty"`
	Description string   `json:"description,omitempty"`
	State       string   `json:"state,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
	Buttons     []Button `json:"buttons,omitempty"`

	Properties    Properties    `json:"properties"`
	AccountFilter AccountFilter `json:"accountFilter,omitempty"`

	SubmitTime int64 `json:"submitTime,omitempty"`
	StartTime  int64 `json:"startTime,omitempty"`
	FinishTime int64 `json:"finishTime,omitempty"`

	Progress   string `json:"progress,omitempty"`
	FailReason string `json:"failReason,omitempty"`
	Seed       string `json:"seed,omitempty"`

	InstanceID    string `json:"instanceId,omitempty"`
	SubInstanceID string `json:"subInstanceId,omitempty"`
}

// Lock serializes mutations to the task. Callers must hold it across any
// read-modify-save sequence.
func (t *Task) Lock() { t.mu.Lock() }

// Unlock releases the task lock.
func (t *Task) Unlock() { t.mu.Unlock() }

// Transition moves the task to a new status, enforcing the state machine.
func (t *Task) Transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("illegal status transition %s -> %s for task %s", t.Status, to, t.ID)
	}
	t.Status = to
	return nil
}

// Start marks the task running.
func (t *Task) Start() {
	t.Status = StatusInProgress
	t.StartTime = time.Now().UnixMilli()
	if t.Progress == "" {
		t.Progress = "0%"
	}
}

// Succeed marks the task finished.
func (t *Task) Succeed() {
	t.Status = StatusSuccess
	t.Progress = "100%"
	t.FinishTime = time.Now().UnixMilli()
}

// Fail marks the task failed with a reason.
func (t *Task) Fail(reason string) {
	t.Status = StatusFailure
	t.FailReason = reason
	t.FinishTime = time.Now().UnixMilli()
}

// AppendImageURL records an intermediate or final image, de-duplicated.
func (t *Task) AppendImageURL(url string) {
	if url == "" {
		return
	}
	t.ImageURL = url
	for _, u := range t.ImageURLs {
		if u == url {
			return
		}
	}
	t.ImageURLs = append(t.ImageURLs, url)
}

// Clone returns a shallow copy safe to hand outside the lock. Slices are
// copied; the embedded mutex is not.
func (t *Task) Clone() *Task {
	c := &Task{
		ID:            t.ID,
		ParentID:      t.ParentID,
		Action:        t.Action,
		Status:        t.Status,
		BotFamily:     t.BotFamily,
		BackendFamily: t.BackendFamily,
		Mode:          t.Mode,
		Prompt:        t.Prompt,
		PromptEn:      t.PromptEn,
		Description:   t.Description,
		State:         t.State,
		ImageURL:      t.ImageURL,
		Properties:    t.Properties,
		AccountFilter: t.AccountFilter,
		SubmitTime:    t.SubmitTime,
		StartTime:     t.StartTime,
		FinishTime:    t.FinishTime,
		Progress:      t.Progress,
		FailReason:    t.FailReason,
		Seed:          t.Seed,
		InstanceID:    t.InstanceID,
		SubInstanceID: t.SubInstanceID,
	}
	c.ImageURLs = append([]string(nil), t.ImageURLs...)
	c.Buttons = append([]Button(nil), t.Buttons...)
	c.AccountFilter.InstanceIDs = append([]string(nil), t.AccountFilter.InstanceIDs...)
	c.AccountFilter.Modes = append([]Mode(nil), t.AccountFilter.Modes...)
	c.AccountFilter.DomainIDs = append([]string(nil), t.AccountFilter.DomainIDs...)
	return c
}
