package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/WGwuzhi/midjourney-proxy/internal/instance"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
	"github.com/WGwuzhi/midjourney-proxy/internal/upstream"
)

const (
	modalPollInterval = 2500 * time.Millisecond
	modalPollTimeout  = 5 * time.Minute
	modalSettle       = 1200 * time.Millisecond
	seedPollTimeout   = 3 * time.Minute
)

// ActionRequest clicks a button on a finished task.
type ActionRequest struct {
	TaskID     string
	CustomID   string
	State      string
	NotifyHook string
}

// SubmitAction runs the button decision table: bookmarks are fire-and-forget,
// modal openers park the child in MODAL, pan/variation/reroll honor the
// account's remix toggle, everything else dispatches directly.
func (o *Orchestrator) SubmitAction(ctx context.Context, req ActionRequest) *task.SubmitResult {
	parent, err := o.stores.Tasks.Get(req.TaskID)
	if err != nil {
		return task.SubmitNotFound("task not found")
	}
	parsed := ParseCustomID(req.CustomID)
	if parsed.Kind == KindUnknown {
		return task.SubmitValidationError("unrecognized custom id")
	}

	inst, failure := o.parentInstance(parent, "")
	if failure != nil {
		return failure
	}
	a := inst.Account()

	// Bookmarks never become tasks.
	if parsed.Kind == KindBookmark {
		go func() {
			msg := inst.Sender().Action(context.Background(),
				parent.Properties.MessageID, req.CustomID, parent.Properties.Flags, task.NewNonce(), parent.BotFamily)
			if msg.Code != task.CodeSuccess {
				slog.Warn("bookmark action rejected", "task_id", parent.ID, "description", msg.Description)
			}
		}()
		return task.SubmitSuccess(parent.ID)
	}

	if parsed.Kind == KindVideo && !o.cfg.EnableVideo {
		return task.SubmitValidationError("video actions are disabled")
	}

	child := o.childTask(parent, parsed, req)

	switch {
	case parsed.Kind == KindPicReaderAll:
		return o.fanOutPicReader(ctx, parent, inst, req)

	case parsed.Kind == KindPicReader, parsed.Kind == KindPromptAnalyzer:
		line, res := extractPromptLine(parent, parsed)
		if res != nil {
			return res
		}
		child.PromptEn = line
		return o.parkModal(child, "Waiting for window confirm")

	case parsed.Kind == KindCustomZoom, parsed.Kind == KindInpaint, parsed.Kind == KindVideo:
		return o.parkModal(child, "Waiting for window confirm")

	case parsed.Kind == KindPan, parsed.Kind == KindVariation, parsed.Kind == KindReroll,
		parsed.Kind == KindLowVariation, parsed.Kind == KindHighVariation:
		if a.RemixOn(parent.BotFamily) {
			if a.RemixAutoSubmit || o.cfg.EnableAutoSubmitRemix {
				if r := o.parkModal(child, "Waiting for window confirm"); !r.Ok() {
					return r
				}
				return o.SubmitModal(ctx, child.ID, parent.Properties.FinalPrompt, "")
			}
			return o.parkModal(child, "Waiting for window confirm")
		}
		return o.directAction(child, inst, req.CustomID)

	default:
		return o.directAction(child, inst, req.CustomID)
	}
}

// childTask builds a follow-up task inheriting lineage from the parent.
func (o *Orchestrator) childTask(parent *task.Task, parsed ParsedCustomID, req ActionRequest) *task.Task {
	hook := req.NotifyHook
	if hook == "" {
		hook = parent.Properties.NotifyHook
	}
	child := &task.Task{
		ID:            task.NewID(),
		ParentID:      parent.ID,
		Action:        parsed.ChildAction(),
		Status:        task.StatusNotStart,
		BotFamily:     parent.BotFamily,
		BackendFamily: parent.BackendFamily,
		Mode:          parent.Mode,
		Prompt:        parent.Prompt,
		PromptEn:      parent.PromptEn,
		State:         req.State,
		AccountFilter: parent.AccountFilter,
		InstanceID:    parent.InstanceID,
		SubmitTime:    time.Now().UnixMilli(),
		Properties: task.Properties{
			Nonce:       task.NewNonce(),
			CustomID:    req.CustomID,
			MessageID:   parent.Properties.MessageID,
			MessageHash: parent.Properties.MessageHash,
			Flags:       parent.Properties.Flags,
			FinalPrompt: parent.Properties.FinalPrompt,
			NotifyHook:  hook,
			// Remix lineage: a later reroll may need the U-button shape.
			RemixCustomID:  parent.Properties.RemixCustomID,
			RemixUCustomID: parent.Properties.RemixUCustomID,
		},
	}
	if ParseCustomID(parent.Properties.CustomID).Kind == KindUpsample {
		child.Properties.RemixUCustomID = parent.Properties.CustomID
	}
	return child
}

// parkModal persists the child in MODAL and answers EXISTED so the caller
// confirms through submitModal. EXISTED is not terminal.
func (o *Orchestrator) parkModal(child *task.Task, description string) *task.SubmitResult {
	child.Status = task.StatusModal
	child.Properties.Remix = true
	if err := o.stores.Tasks.Save(child); err != nil {
		return task.SubmitFailure("storage error: " + err.Error())
	}
	r := task.NewSubmitResult(task.CodeExisted, description)
	r.Result = child.ID
	return r.WithProperty("finalPrompt", child.PromptEn).WithProperty("remix", true)
}

// directAction submits the child as a plain button click.
func (o *Orchestrator) directAction(child *task.Task, inst *instance.Instance, customID string) *task.SubmitResult {
	if err := o.stores.Tasks.Save(child); err != nil {
		return task.SubmitFailure("storage error: " + err.Error())
	}
	return inst.SubmitTask(child, func(ctx context.Context) task.Message {
		return inst.Sender().Action(ctx,
			child.Properties.MessageID, customID, child.Properties.Flags, child.Properties.Nonce, child.BotFamily)
	})
}

// fanOutPicReader expands PicReader::all into up to four independent modal
// submissions, one per prompt line, each with a fresh nonce.
func (o *Orchestrator) fanOutPicReader(ctx context.Context, parent *task.Task, inst *instance.Instance, req ActionRequest) *task.SubmitResult {
	lines := promptLines(parent.Description)
	if len(lines) == 0 {
		return task.SubmitNotFound("no prompts to read")
	}
	if len(lines) > 4 {
		lines = lines[:4]
	}

	ids := make([]string, 0, len(lines))
	for i, line := range lines {
		parsed := ParsedCustomID{Raw: fmt.Sprintf("MJ::JOB::PicReader::%d", i+1), Kind: KindPicReader, Index: i + 1}
		child := o.childTask(parent, parsed, ActionRequest{
			TaskID:     parent.ID,
			CustomID:   parsed.Raw,
			State:      req.State,
			NotifyHook: req.NotifyHook,
		})
		child.PromptEn = line
		if r := o.parkModal(child, "Waiting for window confirm"); !r.Ok() {
			return r
		}
		ids = append(ids, child.ID)
		go func(id, prompt string) {
			if r := o.SubmitModal(context.Background(), id, prompt, ""); !r.Ok() {
				slog.Warn("picreader modal submit failed", "task_id", id, "code", r.Code, "description", r.Description)
			}
		}(child.ID, line)
	}

	r := task.SubmitSuccess(ids[0])
	return r.WithProperty("taskIds", ids)
}

// SubmitModal is the two-phase confirm: re-gate, click, wait for the window,
// then dispatch the second-phase command.
func (o *Orchestrator) SubmitModal(ctx context.Context, taskID, prompt, maskBase64 string) *task.SubmitResult {
	guard, err := o.locks.Acquire("modal:"+taskID, 0)
	if err != nil {
		return task.NewSubmitResult(task.CodeExisted, "modal submit already in flight")
	}
	defer guard.Release()

	t, err := o.stores.Tasks.Get(taskID)
	if err != nil {
		return task.SubmitNotFound("task not found")
	}
	if t.Status != task.StatusModal {
		return task.SubmitValidationError("task is not awaiting modal confirm")
	}

	if prompt != "" {
		if r := o.checkBanned(prompt); r != nil {
			return r
		}
		t.PromptEn = prompt
	}

	inst := o.manager.Get(t.InstanceID)
	if inst == nil {
		return task.SubmitNotFound("account instance unavailable")
	}

	// The one legal backward edge: MODAL → NOT_START, once.
	t.Lock()
	if err := t.Transition(task.StatusNotStart); err != nil {
		t.Unlock()
		return task.SubmitValidationError(err.Error())
	}
	t.Properties.Nonce = task.NewNonce()
	t.Unlock()

	mask := maskBase64
	return inst.SubmitTask(t, func(ctx context.Context) task.Message {
		return o.runModalPhases(ctx, inst, t, mask)
	})
}

// runModalPhases executes both phases on the worker.
func (o *Orchestrator) runModalPhases(ctx context.Context, inst *instance.Instance, t *task.Task, maskBase64 string) task.Message {
	msg := inst.Sender().Action(ctx,
		t.Properties.MessageID, t.Properties.CustomID, t.Properties.Flags, t.Properties.Nonce, t.BotFamily)
	if msg.Code != task.CodeSuccess {
		return msg
	}

	if !o.pollTask(ctx, modalPollTimeout, func() bool {
		t.Lock()
		defer t.Unlock()
		return t.Properties.RemixModalMessageID != "" && t.Properties.InteractionMetadataID != ""
	}) {
		return task.Message{Code: task.CodeNotFound, Description: "timeout"}
	}

	o.clock.Sleep(modalSettle)

	t.Lock()
	modalMessageID := t.Properties.RemixModalMessageID
	parsed := ParseCustomID(t.Properties.CustomID)
	nonce := task.NewNonce()
	t.Properties.Nonce = nonce
	t.Unlock()
	inst.RegisterNonce(t.ID, nonce)

	req := upstream.ModalRequest{
		MessageID: modalMessageID,
		CustomID:  t.Properties.CustomID,
		Nonce:     nonce,
		Bot:       t.BotFamily,
		Prompt:    t.PromptEn,
	}

	switch parsed.Kind {
	case KindCustomZoom:
		return inst.Sender().Modal(ctx, req)
	case KindInpaint:
		req.MaskBase64 = maskBase64
		return inst.Sender().InpaintModal(ctx, req)
	case KindPicReader, KindPromptAnalyzer, KindVideo:
		return inst.Sender().Modal(ctx, req)
	default:
		// Remix path: rewrite the button custom id into the modal custom id.
		remixID, err := remixCustomID(t, parsed, inst.Account().HighVariabilityOn(t.BotFamily))
		if err != nil {
			return task.MessageFailure(err.Error())
		}
		t.Lock()
		t.Properties.RemixCustomID = remixID
		t.Properties.RemixModal = remixID
		if saveErr := o.stores.Tasks.Save(t); saveErr != nil {
			slog.Error("save remix custom id", "task_id", t.ID, "error", saveErr)
		}
		t.Unlock()
		req.CustomID = remixID
		return inst.Sender().Modal(ctx, req)
	}
}

// pollTask re-checks cond on the modal cadence until timeout or ctx cancel.
func (o *Orchestrator) pollTask(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	deadline := o.clock.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if o.clock.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
		o.clock.Sleep(modalPollInterval)
	}
}

// SubmitSeed retrieves the generation seed for a finished task: /show into
// the private channel, wait for the mirror, react, wait for the seed reply.
func (o *Orchestrator) SubmitSeed(ctx context.Context, taskID string) *task.SubmitResult {
	t, err := o.stores.Tasks.Get(taskID)
	if err != nil {
		return task.SubmitNotFound("task not found")
	}
	if t.Seed != "" {
		r := task.SubmitSuccess(t.ID)
		return r.WithProperty("seed", t.Seed)
	}
	if t.Status != task.StatusSuccess || t.Properties.MessageHash == "" {
		return task.SubmitValidationError("task has no image hash")
	}

	inst := o.manager.Get(t.InstanceID)
	if inst == nil {
		return task.SubmitNotFound("account instance unavailable")
	}
	privateChannel := inst.Account().PrivateChannel(t.BotFamily)
	if privateChannel == "" {
		return task.SubmitValidationError("account has no private channel configured")
	}

	guard, err := o.locks.Acquire("seed:"+taskID, 0)
	if err != nil {
		return task.NewSubmitResult(task.CodeExisted, "seed retrieval already in flight")
	}
	defer guard.Release()

	if o.seeds == nil {
		return task.SubmitFailure("seed retrieval unavailable")
	}
	hash := t.Properties.MessageHash
	o.seeds.AwaitSeed(hash, t.ID)
	defer o.seeds.EndSeed(hash)

	msg := inst.Sender().ShowJob(ctx, privateChannel, hash, task.NewNonce(), t.BotFamily)
	if msg.Code != task.CodeSuccess {
		return task.SubmitFailure(msg.Description)
	}

	// The correlator writes the seed facts through its own store round trip,
	// so each poll re-reads; the SQL stores hand out fresh copies per Get.
	var seedMessageID string
	if !o.pollTask(ctx, seedPollTimeout, func() bool {
		cur, err := o.stores.Tasks.Get(t.ID)
		if err != nil {
			return false
		}
		cur.Lock()
		defer cur.Unlock()
		seedMessageID = cur.Properties.SeedMessageID
		return seedMessageID != ""
	}) {
		return task.SubmitNotFound("timeout waiting for show message")
	}

	if msg := inst.Sender().SeedReact(ctx, privateChannel, seedMessageID); msg.Code != task.CodeSuccess {
		return task.SubmitFailure(msg.Description)
	}

	var seed string
	if !o.pollTask(ctx, seedPollTimeout, func() bool {
		cur, err := o.stores.Tasks.Get(t.ID)
		if err != nil {
			return false
		}
		cur.Lock()
		defer cur.Unlock()
		seed = cur.Seed
		return seed != ""
	}) {
		return task.SubmitNotFound("timeout waiting for seed")
	}

	r := task.SubmitSuccess(t.ID)
	return r.WithProperty("seed", seed)
}

// shortenedAnchor gates PromptAnalyzer extraction; without it the operation
// answers NOT_FOUND rather than falling through.
const shortenedAnchor = "Shortened prompts"

// leadingToken strips the "1️⃣ " / "1." style prefix from a prompt line.
var leadingToken = regexp.MustCompile(`^\s*(?:[0-9]️?⃣|\p{So}|\d+[.)])\s*`)

// extractPromptLine pulls the N-th prompt line from a describe/shorten
// result description.
func extractPromptLine(parent *task.Task, parsed ParsedCustomID) (string, *task.SubmitResult) {
	desc := parent.Description
	if parsed.Kind == KindPromptAnalyzer {
		idx := strings.Index(desc, shortenedAnchor)
		if idx < 0 {
			return "", task.SubmitNotFound("shortened prompts not found")
		}
		desc = desc[idx+len(shortenedAnchor):]
	}
	lines := promptLines(desc)
	n := parsed.Index
	if n < 1 || n > len(lines) {
		return "", task.SubmitNotFound(fmt.Sprintf("prompt line %d not found", n))
	}
	return lines[n-1], nil
}

// promptLines splits a description into cleaned prompt lines.
func promptLines(desc string) []string {
	var out []string
	for _, line := range strings.Split(desc, "\n") {
		line = leadingToken.ReplaceAllString(line, "")
		line = strings.TrimSpace(strings.Trim(line, "*"))
		if line == "" || strings.HasPrefix(line, "Shortened prompts") {
			continue
		}
		out = append(out, line)
	}
	return out
}
