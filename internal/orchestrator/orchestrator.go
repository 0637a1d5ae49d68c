// Package orchestrator is the public submit surface: preflight
// validation, account selection, upload sequencing, the button decision
// table, and the modal two-phase path.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WGwuzhi/midjourney-proxy/internal/config"
	"github.com/WGwuzhi/midjourney-proxy/internal/dict"
	"github.com/WGwuzhi/midjourney-proxy/internal/instance"
	"github.com/WGwuzhi/midjourney-proxy/internal/locks"
	"github.com/WGwuzhi/midjourney-proxy/internal/selector"
	"github.com/WGwuzhi/midjourney-proxy/internal/store"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// Clock abstracts time for the polling waits; tests inject a fake.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SeedWaiter registers pending seed retrievals so the event side can route
// /show mirrors and seed replies back to their tasks. The correlator
// implements it.
type SeedWaiter interface {
	AwaitSeed(hash, taskID string)
	EndSeed(hash string)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Orchestrator wires the collaborators; everything is injected, no globals.
type Orchestrator struct {
	cfg      *config.Config
	stores   *store.Stores
	manager  *instance.Manager
	selector *selector.Selector
	dicts    *dict.Cache
	locks    *locks.LockSet
	clock    Clock
	uploader *uploader
	seeds    SeedWaiter
}

// New builds the orchestrator. A nil clock uses the wall clock.
func New(cfg *config.Config, stores *store.Stores, manager *instance.Manager, sel *selector.Selector, dicts *dict.Cache, lockSet *locks.LockSet, clock Clock) *Orchestrator {
	if clock == nil {
		clock = realClock{}
	}
	return &Orchestrator{
		cfg:      cfg,
		stores:   stores,
		manager:  manager,
		selector: sel,
		dicts:    dicts,
		locks:    lockSet,
		clock:    clock,
		uploader: newUploader(cfg),
	}
}

// SetSeedWaiter wires the event-side seed registry; the correlator is built
// after the orchestrator, so this closes the cycle at startup.
func (o *Orchestrator) SetSeedWaiter(w SeedWaiter) { o.seeds = w }

// SubmitRequest is the shared submission payload.
type SubmitRequest struct {
	Prompt      string
	Base64Array []string // data URLs or http(s) links
	Bot         task.BotFamily
	Mode        task.Mode
	Filter      task.AccountFilter
	State       string
	NotifyHook  string
	// Dimensions for blend: PORTRAIT | SQUARE | LANDSCAPE; empty = detect.
	Dimensions string
}

// newTask builds the common task skeleton.
func (o *Orchestrator) newTask(action task.Action, req SubmitRequest) *task.Task {
	bot := req.Bot
	if bot == "" {
		bot = task.BotMidjourney
	}
	return &task.Task{
		ID:            task.NewID(),
		Action:        action,
		Status:        task.StatusNotStart,
		BotFamily:     bot,
		Mode:          req.Mode,
		Prompt:        req.Prompt,
		PromptEn:      req.Prompt,
		State:         req.State,
		AccountFilter: req.Filter,
		SubmitTime:    time.Now().UnixMilli(),
		Properties: task.Properties{
			Nonce:      task.NewNonce(),
			NotifyHook: req.NotifyHook,
		},
	}
}

// checkBanned runs the banned-word scan; non-nil result means rejection.
func (o *Orchestrator) checkBanned(promptEn string) *task.SubmitResult {
	word, err := o.dicts.CheckBanned(promptEn)
	if err != nil {
		slog.Error("banned-word scan failed", "error", err)
		return task.SubmitFailure("storage error")
	}
	if word == "" {
		return nil
	}
	r := task.NewSubmitResult(task.CodeBannedPrompt, "banned prompt detected")
	r.Result = word
	return r.WithProperty("bannedWord", word)
}

// selectInstance applies the domain-miss retry policy: one selection with
// domain routing, then exactly one more without it.
func (o *Orchestrator) selectInstance(req selector.Requirements) *instance.Instance {
	inst := o.selector.Choose(o.manager, req)
	if inst == nil && req.IsDomain {
		req.IsDomain = false
		inst = o.selector.Choose(o.manager, req)
	}
	return inst
}

// convertNiji applies the enableConvertNijiToMj rewrite.
func (o *Orchestrator) convertNiji(t *task.Task) {
	if !o.cfg.EnableConvertNijiToMj || t.BotFamily != task.BotNiji {
		return
	}
	t.BotFamily = task.BotMidjourney
	if !strings.Contains(t.PromptEn, "--niji") {
		t.PromptEn = strings.TrimSpace(t.PromptEn) + " --niji 6"
	}
}

// SubmitImagine handles text-to-image (optionally image-to-image via
// Base64Array pad images).
func (o *Orchestrator) SubmitImagine(ctx context.Context, req SubmitRequest) *task.SubmitResult {
	if strings.TrimSpace(req.Prompt) == "" {
		return task.SubmitValidationError("prompt cannot be empty")
	}
	if r := o.checkBanned(req.Prompt); r != nil {
		return r
	}

	t := o.newTask(task.ActionImagine, req)
	o.convertNiji(t)

	// Vertical-domain routing: tokens hitting an enabled domain set steer
	// selection; a miss retries once with domain routing off.
	var domainIDs []string
	if o.cfg.EnableVerticalDomain {
		ids, err := o.dicts.MatchDomains(t.PromptEn)
		if err != nil {
			slog.Error("domain match failed", "error", err)
		} else {
			domainIDs = ids
		}
	}
	if len(req.Filter.DomainIDs) > 0 {
		domainIDs = req.Filter.DomainIDs
	}

	inst := o.selectInstance(selector.Requirements{
		IsNewTask:  true,
		Bot:        t.BotFamily,
		PreferMode: req.Mode,
		IsDomain:   len(domainIDs) > 0,
		DomainIDs:  domainIDs,
		Whitelist:  req.Filter.InstanceIDs,
	})
	if inst == nil {
		return task.SubmitNotFound("no available account instance")
	}

	if err := o.stores.Tasks.Save(t); err != nil {
		return task.SubmitFailure("storage error: " + err.Error())
	}

	images := req.Base64Array
	return inst.SubmitTask(t, func(ctx context.Context) task.Message {
		prompt := t.PromptEn
		if len(images) > 0 {
			urls, err := o.uploader.uploadAll(ctx, inst, images)
			if err != nil {
				return task.MessageFailure("upload failed: " + err.Error())
			}
			prompt = strings.Join(urls, " ") + " " + prompt
		}
		return inst.Sender().Imagine(ctx, prompt, t.Properties.Nonce, t.BotFamily)
	})
}

// SubmitDescribe handles image-to-text.
func (o *Orchestrator) SubmitDescribe(ctx context.Context, req SubmitRequest) *task.SubmitResult {
	if len(req.Base64Array) != 1 {
		return task.SubmitValidationError("describe requires exactly one image")
	}

	t := o.newTask(task.ActionDescribe, req)
	inst := o.selectInstance(selector.Requirements{
		IsNewTask:  true,
		Bot:        t.BotFamily,
		Capability: selector.CapDescribe,
		PreferMode: req.Mode,
		Whitelist:  req.Filter.InstanceIDs,
	})
	if inst == nil {
		return task.SubmitNotFound("no available account instance")
	}
	if err := o.stores.Tasks.Save(t); err != nil {
		return task.SubmitFailure("storage error: " + err.Error())
	}

	img := req.Base64Array[0]
	return inst.SubmitTask(t, func(ctx context.Context) task.Message {
		if isHTTPURL(img) {
			link, err := o.uploader.resolveLink(ctx, inst, img)
			if err != nil {
				return task.MessageFailure("upload failed: " + err.Error())
			}
			return inst.Sender().DescribeByLink(ctx, link, t.Properties.Nonce, t.BotFamily)
		}
		name, err := o.uploader.uploadDataURL(ctx, inst, img)
		if err != nil {
			return task.MessageFailure("upload failed: " + err.Error())
		}
		return inst.Sender().Describe(ctx, name, t.Properties.Nonce, t.BotFamily)
	})
}

// SubmitBlend merges 2–5 images; dimensions default from the first image's
// aspect ratio when the caller does not pick one.
func (o *Orchestrator) SubmitBlend(ctx context.Context, req SubmitRequest) *task.SubmitResult {
	if len(req.Base64Array) < 2 || len(req.Base64Array) > 5 {
		return task.SubmitValidationError("blend requires 2 to 5 images")
	}

	t := o.newTask(task.ActionBlend, req)
	inst := o.selectInstance(selector.Requirements{
		IsNewTask:  true,
		Bot:        t.BotFamily,
		Capability: selector.CapBlend,
		PreferMode: req.Mode,
		Whitelist:  req.Filter.InstanceIDs,
	})
	if inst == nil {
		return task.SubmitNotFound("no available account instance")
	}
	if err := o.stores.Tasks.Save(t); err != nil {
		return task.SubmitFailure("storage error: " + err.Error())
	}

	images := req.Base64Array
	dimensions := req.Dimensions
	return inst.SubmitTask(t, func(ctx context.Context) task.Message {
		names := make([]string, 0, len(images))
		for _, img := range images {
			name, err := o.uploader.uploadDataURL(ctx, inst, img)
			if err != nil {
				return task.MessageFailure("upload failed: " + err.Error())
			}
			names = append(names, name)
		}
		dims := dimensions
		if dims == "" {
			dims = o.uploader.detectDimensions(images[0])
		}
		return inst.Sender().Blend(ctx, names, dims, t.Properties.Nonce, t.BotFamily)
	})
}

// SubmitShorten analyzes a prompt into shorter candidates.
func (o *Orchestrator) SubmitShorten(ctx context.Context, req SubmitRequest) *task.SubmitResult {
	if strings.TrimSpace(req.Prompt) == "" {
		return task.SubmitValidationError("prompt cannot be empty")
	}
	if r := o.checkBanned(req.Prompt); r != nil {
		return r
	}

	t := o.newTask(task.ActionShorten, req)
	inst := o.selectInstance(selector.Requirements{
		IsNewTask:  true,
		Bot:        t.BotFamily,
		Capability: selector.CapShorten,
		PreferMode: req.Mode,
		Whitelist:  req.Filter.InstanceIDs,
	})
	if inst == nil {
		return task.SubmitNotFound("no available account instance")
	}
	if err := o.stores.Tasks.Save(t); err != nil {
		return task.SubmitFailure("storage error: " + err.Error())
	}

	return inst.SubmitTask(t, func(ctx context.Context) task.Message {
		return inst.Sender().Shorten(ctx, t.PromptEn, t.Properties.Nonce, t.BotFamily)
	})
}

// SubmitEdit reworks an existing image with a prompt (edit) — the prompt gets
// the re-hosted image URL prepended, as with imagine pads.
func (o *Orchestrator) SubmitEdit(ctx context.Context, req SubmitRequest) *task.SubmitResult {
	return o.submitCompound(ctx, task.ActionEdit, req)
}

// SubmitRetexture re-skins an existing image with a prompt.
func (o *Orchestrator) SubmitRetexture(ctx context.Context, req SubmitRequest) *task.SubmitResult {
	return o.submitCompound(ctx, task.ActionRetexture, req)
}

func (o *Orchestrator) submitCompound(ctx context.Context, action task.Action, req SubmitRequest) *task.SubmitResult {
	if strings.TrimSpace(req.Prompt) == "" {
		return task.SubmitValidationError("prompt cannot be empty")
	}
	if len(req.Base64Array) == 0 {
		return task.SubmitValidationError("image is required")
	}
	if r := o.checkBanned(req.Prompt); r != nil {
		return r
	}

	t := o.newTask(action, req)
	inst := o.selectInstance(selector.Requirements{
		IsNewTask:  true,
		Bot:        t.BotFamily,
		PreferMode: req.Mode,
		Whitelist:  req.Filter.InstanceIDs,
	})
	if inst == nil {
		return task.SubmitNotFound("no available account instance")
	}
	if err := o.stores.Tasks.Save(t); err != nil {
		return task.SubmitFailure("storage error: " + err.Error())
	}

	images := req.Base64Array
	return inst.SubmitTask(t, func(ctx context.Context) task.Message {
		urls, err := o.uploader.uploadAll(ctx, inst, images)
		if err != nil {
			return task.MessageFailure("upload failed: " + err.Error())
		}
		prompt := strings.Join(urls, " ") + " " + t.PromptEn
		switch action {
		case task.ActionEdit:
			return inst.Sender().Edit(ctx, prompt, t.Properties.Nonce, t.BotFamily)
		default:
			return inst.Sender().Retexture(ctx, prompt, t.Properties.Nonce, t.BotFamily)
		}
	})
}

// GetTask reads a task by id.
func (o *Orchestrator) GetTask(id string) (*task.Task, error) {
	return o.stores.Tasks.Get(id)
}

// Cancel sets CANCEL on a queued task; dispatched tasks flip status
// best-effort with no upstream recall.
func (o *Orchestrator) Cancel(taskID string) *task.SubmitResult {
	t, err := o.stores.Tasks.Get(taskID)
	if err != nil {
		return task.SubmitNotFound("task not found")
	}
	if t.Status.Terminal() {
		return task.SubmitValidationError("task already terminal")
	}
	if inst := o.manager.Get(t.InstanceID); inst != nil && inst.Cancel(taskID) {
		return task.SubmitSuccess(taskID)
	}
	t.Lock()
	t.Status = task.StatusCancel
	t.FinishTime = time.Now().UnixMilli()
	err = o.stores.Tasks.Save(t)
	t.Unlock()
	if err != nil {
		return task.SubmitFailure("storage error: " + err.Error())
	}
	return task.SubmitSuccess(taskID)
}

// parentInstance resolves the account instance owning a parent task and
// enforces follow-up inheritance (invariant: family must match).
func (o *Orchestrator) parentInstance(parent *task.Task, bot task.BotFamily) (*instance.Instance, *task.SubmitResult) {
	if bot != "" && bot != parent.BotFamily {
		return nil, task.SubmitValidationError(
			fmt.Sprintf("bot family mismatch: parent is %s", parent.BotFamily))
	}
	inst := o.manager.Get(parent.InstanceID)
	if inst == nil {
		return nil, task.SubmitNotFound("parent account instance unavailable")
	}
	if inst.Account().BackendFamily != parent.BackendFamily {
		return nil, task.SubmitValidationError("backend family mismatch with parent")
	}
	return inst, nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
