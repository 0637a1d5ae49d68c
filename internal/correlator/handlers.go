package correlator

import (
	"log/slog"
	"strings"

	"github.com/WGwuzhi/midjourney-proxy/internal/instance"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// modalHandler records the confirm-window facts the modal two-phase submit
// polls for: the modal message id and the interaction metadata id.
type modalHandler struct{}

func (*modalHandler) Name() string { return "modal" }

func (*modalHandler) Match(ev *EventData) bool {
	return ev.Type == EventInteraction
}

func (*modalHandler) Handle(c *Correlator, inst *instance.Instance, ev *EventData) bool {
	t := c.findTask(inst, ev)
	if t == nil {
		return false
	}
	t.Lock()
	t.Properties.RemixModalMessageID = ev.ID
	if ev.Interaction.ID != "" {
		t.Properties.InteractionMetadataID = ev.Interaction.ID
	} else {
		t.Properties.InteractionMetadataID = ev.ID
	}
	if err := c.tasks.Save(t); err != nil {
		slog.Error("save modal facts", "task_id", t.ID, "error", err)
	}
	t.Unlock()
	return true
}

// errorHandler turns moderation and rejection embeds into FAILURE.
type errorHandler struct{}

func (*errorHandler) Name() string { return "error" }

func (*errorHandler) Match(ev *EventData) bool {
	return isBotAuthor(ev) && extractError(ev) != ""
}

func (*errorHandler) Handle(c *Correlator, inst *instance.Instance, ev *EventData) bool {
	return c.FailTask(inst, ev, extractError(ev))
}

// descriptionHandler finishes DESCRIBE and SHORTEN tasks from embeds.
type descriptionHandler struct{}

func (*descriptionHandler) Name() string { return "description" }

func (*descriptionHandler) Match(ev *EventData) bool {
	if !isBotAuthor(ev) {
		return false
	}
	for _, e := range ev.Embeds {
		if e.Description != "" {
			return true
		}
	}
	return strings.Contains(ev.Content, "Shortened prompts")
}

func (*descriptionHandler) Handle(c *Correlator, inst *instance.Instance, ev *EventData) bool {
	t := c.findTask(inst, ev)
	if t == nil {
		return false
	}
	if t.Action != task.ActionDescribe && t.Action != task.ActionShorten {
		return false
	}

	description := ev.Content
	for _, e := range ev.Embeds {
		if e.Description != "" {
			description = e.Description
			break
		}
	}

	t.Lock()
	if t.Status.Terminal() {
		t.Unlock()
		return true
	}
	c.associate(inst, t, ev)
	t.Description = description
	t.AppendImageURL(ev.FirstImageURL())
	if len(ev.Components) > 0 {
		t.Buttons = ev.Components
	}
	t.Succeed()
	if err := c.tasks.Save(t); err != nil {
		slog.Error("save described task", "task_id", t.ID, "error", err)
	}
	t.Unlock()

	inst.FinishTask(t.ID)
	return true
}

// progressHandler drives non-terminal updates: start acknowledgement,
// percent progress, intermediate renders.
type progressHandler struct{}

func (*progressHandler) Name() string { return "progress" }

func (*progressHandler) Match(ev *EventData) bool {
	return isBotAuthor(ev) && InProgress(ev.Content)
}

func (*progressHandler) Handle(c *Correlator, inst *instance.Instance, ev *EventData) bool {
	// Start acknowledgements ("Waiting to start") arrive once per job; the
	// reroll header can be redelivered, so dedup by message id.
	if strings.Contains(ev.Content, markerWaitingToStart) && c.rerollDedup(ev.ID) {
		return true
	}

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
	if p := ParseProgress(ev.Content); p != "" {
		t.Progress = p
	}
	t.AppendImageURL(ev.FirstImageURL())
	if len(ev.Components) > 0 {
		t.Buttons = ev.Components
	}
	if err := c.tasks.Save(t); err != nil {
		slog.Error("save task progress", "task_id", t.ID, "error", err)
	}
	t.Unlock()

	inst.NotifyChanged(t)
	return true
}

// successHandler finishes a task on the terminal CREATE message: an image
// attachment with no in-progress marker.
type successHandler struct{}

func (*successHandler) Name() string { return "success" }

func (*successHandler) Match(ev *EventData) bool {
	return isBotAuthor(ev) &&
		ev.Type == EventCreate &&
		ev.FirstImageURL() != "" &&
		!InProgress(ev.Content)
}

func (*successHandler) Handle(c *Correlator, inst *instance.Instance, ev *EventData) bool {
	return c.FindAndFinishImageTask(inst, ev)
}
