package correlator

import (
	"log/slog"
	"strings"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
	"github.com/WGwuzhi/midjourney-proxy/internal/instance"
	"github.com/WGwuzhi/midjourney-proxy/internal/locks"
	"github.com/WGwuzhi/midjourney-proxy/internal/store"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// Handler is one event-shape variant. Handlers are tried in registration
// order; the first match consumes the event.
type Handler interface {
	Name() string
	Match(ev *EventData) bool
	Handle(c *Correlator, inst *instance.Instance, ev *EventData) bool
}

// Correlator demultiplexes upstream events to instances by channel and
// drives task progress and terminal transitions.
type Correlator struct {
	registry *account.Registry
	manager  *instance.Manager
	tasks    store.TaskStore
	dedup    *locks.EventDedup
	// rerollSeen dedups reroll headers by message id, per process. A restart
	// may redeliver; store upserts stay idempotent so that is harmless.
	rerollSeen *locks.EventDedup
	handlers   []Handler
	seeds      seedWaits
}

// New builds a correlator with the default handler registry.
func New(registry *account.Registry, manager *instance.Manager, tasks store.TaskStore) *Correlator {
	c := &Correlator{
		registry:   registry,
		manager:    manager,
		tasks:      tasks,
		dedup:      locks.NewEventDedup(),
		rerollSeen: locks.NewEventDedup(),
		seeds:      seedWaits{byKey: make(map[string]string)},
	}
	c.handlers = []Handler{
		&modalHandler{},
		&settingsHandler{},
		&errorHandler{},
		&descriptionHandler{},
		&progressHandler{},
		&seedHandler{},
		&successHandler{},
	}
	return c
}

// OnEvent ingests one normalized upstream event. Replays drop here.
func (c *Correlator) OnEvent(ev *EventData) {
	if ev == nil || ev.ID == "" {
		return
	}
	if c.dedup.Seen(ev.DedupKey()) {
		return
	}

	inst := c.instanceFor(ev.ChannelID)
	if inst == nil {
		return
	}

	for _, h := range c.handlers {
		if !h.Match(ev) {
			continue
		}
		if h.Handle(c, inst, ev) {
			return
		}
	}
}

func (c *Correlator) instanceFor(channelID string) *instance.Instance {
	a := c.registry.ByChannel(channelID)
	if a == nil {
		a = c.registry.BySubChannel(channelID)
	}
	if a == nil {
		return nil
	}
	return c.manager.Get(a.ChannelID)
}

// findTask resolves the event to a running task by the key priority:
// nonce → messageId → referencedMessageId → prompt match on the instance.
func (c *Correlator) findTask(inst *instance.Instance, ev *EventData) *task.Task {
	if ev.Nonce != "" {
		if t := inst.FindByNonce(ev.Nonce); t != nil {
			return t
		}
	}
	if t := inst.FindByMessageID(ev.ID); t != nil {
		return t
	}
	if ev.ReferencedMessageID != "" {
		if t := inst.FindByMessageID(ev.ReferencedMessageID); t != nil {
			return t
		}
	}
	if prompt, _, ok := ParseContentPrompt(ev.Content); ok {
		for _, t := range inst.Running() {
			if PromptsMatch(t.PromptEn, prompt) || PromptsMatch(t.Prompt, prompt) {
				return t
			}
		}
	}
	return nil
}

// associate writes first-correlation facts: message id, hash, final prompt.
// Caller holds the task lock.
func (c *Correlator) associate(inst *instance.Instance, t *task.Task, ev *EventData) {
	if t.Properties.MessageID == "" && ev.ID != "" {
		t.Properties.MessageID = ev.ID
		inst.AssociateMessage(t.ID, ev.ID)
	}
	if hash := ParseMessageHash(ev.FirstImageURL()); hash != "" {
		t.Properties.MessageHash = hash
	}
	if prompt, _, ok := ParseContentPrompt(ev.Content); ok && t.Properties.FinalPrompt == "" {
		t.Properties.FinalPrompt = prompt
	}
	if ev.Flags != 0 {
		t.Properties.Flags = ev.Flags
	}
	if ev.ChannelID != t.InstanceID {
		t.SubInstanceID = ev.ChannelID
	}
}

// FindAndFinishImageTask is the shared terminal routine: correlate, record
// the image and buttons, transition to SUCCESS, release the worker.
func (c *Correlator) FindAndFinishImageTask(inst *instance.Instance, ev *EventData) bool {
	t := c.findTask(inst, ev)
	if t == nil {
		return false
	}

	t.Lock()
	if t.Status.Terminal() {
		t.Unlock()
		return true
	}
	c.associate(inst, t, ev)
	t.AppendImageURL(ev.FirstImageURL())
	if len(ev.Components) > 0 {
		t.Buttons = ev.Components
	}
	t.Succeed()
	if err := c.tasks.Save(t); err != nil {
		slog.Error("save finished task", "task_id", t.ID, "error", err)
	}
	t.Unlock()

	inst.FinishTask(t.ID)
	slog.Info("task finished",
		"task_id", t.ID, "instance", inst.ChannelID(), "action", t.Action, "hash", t.Properties.MessageHash)
	return true
}

// FailTask transitions a correlated task to FAILURE with an upstream reason.
func (c *Correlator) FailTask(inst *instance.Instance, ev *EventData, reason string) bool {
	t := c.findTask(inst, ev)
	if t == nil {
		return false
	}
	t.Lock()
	if t.Status.Terminal() {
		t.Unlock()
		return true
	}
	c.associate(inst, t, ev)
	t.Fail(reason)
	if err := c.tasks.Save(t); err != nil {
		slog.Error("save failed task", "task_id", t.ID, "error", err)
	}
	t.Unlock()

	inst.FinishTask(t.ID)
	slog.Warn("task failed upstream", "task_id", t.ID, "instance", inst.ChannelID(), "reason", reason)
	return true
}

// OnRelayUpdate ingests a partner/official poll result normalized by the
// relay poller: progress plus optional terminal transition.
func (c *Correlator) OnRelayUpdate(channelID, taskID, progress, imageURL, failReason string, buttons []task.Button, terminal bool) {
	inst := c.manager.Get(channelID)
	if inst == nil {
		return
	}
	t, err := c.tasks.Get(taskID)
	if err != nil {
		return
	}

	t.Lock()
	if t.Status.Terminal() {
		t.Unlock()
		return
	}
	if progress != "" {
		t.Progress = progress
	}
	t.AppendImageURL(imageURL)
	if len(buttons) > 0 {
		t.Buttons = buttons
	}
	switch {
	case terminal && failReason != "":
		t.Fail(failReason)
	case terminal:
		t.Succeed()
	}
	if err := c.tasks.Save(t); err != nil {
		slog.Error("save relayed task", "task_id", t.ID, "error", err)
	}
	done := t.Status.Terminal()
	t.Unlock()

	if done {
		inst.FinishTask(taskID)
	} else {
		inst.NotifyChanged(t)
	}
}

// rerollDedup lets the progress handler drop duplicate reroll headers by
// message id within this process.
func (c *Correlator) rerollDedup(messageID string) bool {
	return c.rerollSeen.Seen("reroll:" + messageID)
}

// Application ids of the two drawing bots.
const (
	mjBotID   = "936929561302675456"
	nijiBotID = "1022952195194359889"
)

// isBotAuthor screens events authored by anything other than the drawing bot.
// An empty author passes (relay events).
func isBotAuthor(ev *EventData) bool {
	switch ev.AuthorID {
	case "", mjBotID, nijiBotID:
		return true
	}
	return false
}

// extractError pulls an upstream failure reason from embeds or content.
func extractError(ev *EventData) string {
	for _, e := range ev.Embeds {
		title := strings.TrimSpace(e.Title)
		if title == "" {
			continue
		}
		if isErrorEmbedTitle(title) {
			if e.Description != "" {
				return title + ": " + e.Description
			}
			return title
		}
	}
	return ""
}

var errorEmbedTitles = []string{
	"Blocked",
	"Banned prompt",
	"Banned prompt detected",
	"Invalid parameter",
	"Invalid link",
	"Request cancelled due to output filters",
	"Queue full",
	"Action needed to continue",
	"Pending mod message",
	"Job action restricted",
	"Empty prompt",
	"Credits exhausted",
	"Subscription required",
	"Internal error",
}

func isErrorEmbedTitle(title string) bool {
	for _, t := range errorEmbedTitles {
		if strings.EqualFold(title, t) || strings.HasPrefix(title, t) {
			return true
		}
	}
	return false
}
