// Package instance runs one upstream account: bounded per-mode FIFO queues, a
// worker pool of coreSize, the running-task index the correlator resolves
// against, and the pacing clock that spaces successive sends.
package instance

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
	"github.com/WGwuzhi/midjourney-proxy/internal/store"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
	"github.com/WGwuzhi/midjourney-proxy/internal/upstream"
)

// burstIdle is how long the send clock must be quiet before the next send
// counts as the first of a new burst (and pays Interval instead of the
// after-interval window).
const burstIdle = 30 * time.Second

// Producer is the deferred backend command for one task. It runs on a worker
// after pacing and returns the upstream's immediate verdict.
type Producer func(ctx context.Context) task.Message

type queued struct {
	task     *task.Task
	producer Producer
}

type running struct {
	task        *task.Task
	done        chan struct{}
	submittedAt time.Time
}

// Listener observes task changes (notify hooks, websocket push).
type Listener func(t *task.Task)

// Instance owns all in-flight work for a single account.
type Instance struct {
	account *account.Account
	tasks   store.TaskStore
	sender  upstream.Sender

	queues map[task.Mode]chan *queued

	mu          sync.Mutex
	running     map[string]*running // task id → entry
	byNonce     map[string]string   // nonce → task id
	byMessageID map[string]string   // message id → task id

	sendMu   sync.Mutex
	lastSend time.Time
	limiter  *rate.Limiter

	listener Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an instance for the account. Call Start before submitting.
func New(a *account.Account, tasks store.TaskStore, sender upstream.Sender, listener Listener) *Instance {
	coreSize := a.CoreSize
	if coreSize <= 0 {
		coreSize = 3
	}

	queues := make(map[task.Mode]chan *queued, 3)
	for _, m := range []task.Mode{task.ModeFast, task.ModeRelax, task.ModeTurbo} {
		size := a.QueueSizeFor(m)
		if size <= 0 {
			size = 10
		}
		queues[m] = make(chan *queued, size)
	}

	minGap := time.Duration(a.AfterIntervalMin * float64(time.Second))
	if minGap <= 0 {
		minGap = 1200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		account:     a,
		tasks:       tasks,
		sender:      sender,
		queues:      queues,
		running:     make(map[string]*running),
		byNonce:     make(map[string]string),
		byMessageID: make(map[string]string),
		limiter:     rate.NewLimiter(rate.Every(minGap), 1),
		listener:    listener,
		ctx:         ctx,
		cancel:      cancel,
	}

	inst.wg.Add(coreSize)
	for i := 0; i < coreSize; i++ {
		go inst.worker()
	}
	return inst
}

// Account returns the live account backing this instance.
func (i *Instance) Account() *account.Account { return i.account }

// ChannelID returns the owning account's channel id.
func (i *Instance) ChannelID() string { return i.account.ChannelID }

// Sender returns the backend command primitives for this account.
func (i *Instance) Sender() upstream.Sender { return i.sender }

// Stop drains the workers. Queued tasks that never dispatched stay SUBMITTED
// in the store and are failed by the next startup sweep.
func (i *Instance) Stop() {
	i.cancel()
	i.wg.Wait()
}

// IsAcceptNewTask reports whether the account can take new work right now.
func (i *Instance) IsAcceptNewTask() bool {
	return i.account.Alive(time.Now())
}

// ValidateMode resolves the requested mode against the account's allow-list
// and the caller's filter, returning the mode the task will actually run in.
func (i *Instance) ValidateMode(requested task.Mode, filter task.AccountFilter) (task.Mode, bool) {
	candidates := []task.Mode{}
	if requested != "" {
		candidates = append(candidates, requested)
	}
	candidates = append(candidates, filter.Modes...)
	if i.account.Mode != "" {
		candidates = append(candidates, i.account.Mode)
	}
	candidates = append(candidates, task.ModeFast, task.ModeRelax, task.ModeTurbo)

	for _, m := range candidates {
		if i.account.AllowsMode(m) {
			if len(filter.Modes) > 0 && !modeIn(filter.Modes, m) && m != requested {
				continue
			}
			return m, true
		}
	}
	return "", false
}

func modeIn(modes []task.Mode, m task.Mode) bool {
	for _, x := range modes {
		if x == m {
			return true
		}
	}
	return false
}

// QueuedCount returns how many tasks wait in the mode's queue.
func (i *Instance) QueuedCount(mode task.Mode) int { return len(i.queues[mode]) }

// RunningCount returns how many tasks are accepted and not yet terminal.
func (i *Instance) RunningCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.running)
}

// TotalLoad is queued plus dispatched work, used by the BestWaitIdle
// selection policy. The running index holds a task from acceptance to
// terminal, so its size is exactly that; adding queue depths on top would
// count queued tasks twice.
func (i *Instance) TotalLoad() int {
	return i.RunningCount()
}

// IsIdleQueue reports whether the mode's queue has room.
func (i *Instance) IsIdleQueue(mode task.Mode) bool {
	q := i.queues[mode]
	return len(q) < cap(q)
}

// SubmitTask places the task into the queue for its (validated) mode.
// Preconditions fail without touching the task.
func (i *Instance) SubmitTask(t *task.Task, producer Producer) *task.SubmitResult {
	if !i.IsAcceptNewTask() {
		return task.SubmitNotFound("instance not accepting new tasks")
	}
	mode, ok := i.ValidateMode(t.Mode, t.AccountFilter)
	if !ok {
		return task.SubmitNotFound("no permitted mode on this instance")
	}
	if !i.IsIdleQueue(mode) {
		return task.SubmitFailure("queue full")
	}

	t.Lock()
	t.Mode = mode
	t.InstanceID = i.account.ChannelID
	t.BackendFamily = i.account.BackendFamily
	t.Status = task.StatusSubmitted
	if t.SubmitTime == 0 {
		t.SubmitTime = time.Now().UnixMilli()
	}
	if err := i.tasks.Save(t); err != nil {
		t.Unlock()
		return task.SubmitFailure("storage error: " + err.Error())
	}
	t.Unlock()

	entry := &running{task: t, done: make(chan struct{}), submittedAt: time.Now()}
	i.mu.Lock()
	i.running[t.ID] = entry
	if nonce := t.Properties.Nonce; nonce != "" {
		i.byNonce[nonce] = t.ID
	}
	ahead := len(i.queues[mode])
	i.mu.Unlock()

	select {
	case i.queues[mode] <- &queued{task: t, producer: producer}:
	default:
		// Raced with another submit; undo registration.
		i.remove(t.ID)
		return task.SubmitFailure("queue full")
	}

	i.notify(t)
	if ahead > 0 {
		return &task.SubmitResult{Code: task.CodeInQueue, Description: "task queued", Result: t.ID}
	}
	return task.SubmitSuccess(t.ID)
}

func (i *Instance) worker() {
	defer i.wg.Done()
	for {
		select {
		case <-i.ctx.Done():
			return
		case item := <-i.queues[task.ModeFast]:
			i.run(item)
		case item := <-i.queues[task.ModeTurbo]:
			i.run(item)
		case item := <-i.queues[task.ModeRelax]:
			i.run(item)
		}
	}
}

func (i *Instance) run(item *queued) {
	t := item.task

	t.Lock()
	if t.Status.Terminal() {
		// Cancelled while queued.
		t.Unlock()
		i.remove(t.ID)
		return
	}
	t.Start()
	if err := i.tasks.Save(t); err != nil {
		slog.Error("save task at dispatch failed", "task_id", t.ID, "error", err)
	}
	t.Unlock()
	i.notify(t)

	i.pace()

	msg := item.producer(i.ctx)
	switch msg.Code {
	case task.CodeSuccess, task.CodeExisted, task.CodeInQueue:
		i.awaitTerminal(t)
	default:
		t.Lock()
		t.Fail(msg.Description)
		if err := i.tasks.Save(t); err != nil {
			slog.Error("save failed task", "task_id", t.ID, "error", err)
		}
		t.Unlock()
		i.FinishTask(t.ID)
	}
}

// awaitTerminal blocks the worker until the correlator finishes the task or
// the account's timeout expires. The budget runs from the SUBMITTED
// transition, so queue wait and the upstream ack both spend it.
func (i *Instance) awaitTerminal(t *task.Task) {
	i.mu.Lock()
	entry := i.running[t.ID]
	i.mu.Unlock()
	if entry == nil {
		return
	}

	deadline := terminalDeadline(entry.submittedAt, i.account.TimeoutMinutes)
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-entry.done:
	case <-i.ctx.Done():
	case <-timer.C:
		t.Lock()
		if !t.Status.Terminal() {
			t.Fail("task timeout")
			if err := i.tasks.Save(t); err != nil {
				slog.Error("save timed-out task", "task_id", t.ID, "error", err)
			}
		}
		t.Unlock()
		i.FinishTask(t.ID)
		slog.Warn("task timed out", "task_id", t.ID, "instance", i.account.ChannelID, "deadline", deadline)
	}
}

// terminalDeadline computes the watchdog deadline from when the task entered
// SUBMITTED, defaulting to five minutes.
func terminalDeadline(submittedAt time.Time, timeoutMinutes int) time.Time {
	timeout := time.Duration(timeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return submittedAt.Add(timeout)
}

// pace enforces the inter-send spacing: Interval before the first send of a
// burst, then a uniform wait in [afterIntervalMin, afterIntervalMax] between
// successive sends. Serialized per instance.
func (i *Instance) pace() {
	i.sendMu.Lock()
	defer i.sendMu.Unlock()

	if i.lastSend.IsZero() || time.Since(i.lastSend) > burstIdle {
		if d := time.Duration(i.account.Interval * float64(time.Second)); d > 0 {
			time.Sleep(d)
		}
	} else {
		// The limiter already enforces the afterIntervalMin floor; add the
		// random slice up to afterIntervalMax.
		span := i.account.AfterIntervalMax - i.account.AfterIntervalMin
		if span > 0 {
			time.Sleep(time.Duration(rand.Float64() * span * float64(time.Second)))
		}
	}
	if err := i.limiter.Wait(i.ctx); err != nil {
		return
	}
	i.lastSend = time.Now()
}

// FindByNonce resolves a running task by its command nonce.
func (i *Instance) FindByNonce(nonce string) *task.Task {
	i.mu.Lock()
	defer i.mu.Unlock()
	if id, ok := i.byNonce[nonce]; ok {
		if e := i.running[id]; e != nil {
			return e.task
		}
	}
	return nil
}

// FindByMessageID resolves a running task by its upstream message id.
func (i *Instance) FindByMessageID(messageID string) *task.Task {
	i.mu.Lock()
	defer i.mu.Unlock()
	if id, ok := i.byMessageID[messageID]; ok {
		if e := i.running[id]; e != nil {
			return e.task
		}
	}
	return nil
}

// Running returns a snapshot of all in-flight tasks for prompt matching.
func (i *Instance) Running() []*task.Task {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*task.Task, 0, len(i.running))
	for _, e := range i.running {
		out = append(out, e.task)
	}
	return out
}

// RegisterNonce re-indexes a running task under a fresh nonce. The modal
// second phase sends with its own nonce while the task keeps running.
func (i *Instance) RegisterNonce(taskID, nonce string) {
	if nonce == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.running[taskID]; ok {
		i.byNonce[nonce] = taskID
	}
}

// AssociateMessage indexes a running task by the message id the upstream
// assigned on first correlation. The (messageId) index is unique once set.
func (i *Instance) AssociateMessage(taskID, messageID string) {
	if messageID == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, taken := i.byMessageID[messageID]; !taken {
		i.byMessageID[messageID] = taskID
	}
}

// NotifyChanged pushes a non-terminal task change to the listener.
func (i *Instance) NotifyChanged(t *task.Task) { i.notify(t) }

// FinishTask releases the worker awaiting the task and drops it from the
// running index. Idempotent.
func (i *Instance) FinishTask(taskID string) {
	i.mu.Lock()
	entry := i.running[taskID]
	i.mu.Unlock()
	if entry == nil {
		return
	}
	select {
	case <-entry.done:
	default:
		close(entry.done)
	}
	i.remove(taskID)
	i.notify(entry.task)
}

// Cancel marks a queued task CANCEL. Best-effort once dispatched: the status
// flips but no upstream recall is attempted.
func (i *Instance) Cancel(taskID string) bool {
	i.mu.Lock()
	entry := i.running[taskID]
	i.mu.Unlock()
	if entry == nil {
		return false
	}
	t := entry.task
	t.Lock()
	if t.Status.Terminal() {
		t.Unlock()
		return false
	}
	t.Status = task.StatusCancel
	t.FinishTime = time.Now().UnixMilli()
	if err := i.tasks.Save(t); err != nil {
		slog.Error("save cancelled task", "task_id", t.ID, "error", err)
	}
	t.Unlock()
	i.FinishTask(taskID)
	return true
}

func (i *Instance) remove(taskID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	entry := i.running[taskID]
	if entry == nil {
		return
	}
	delete(i.running, taskID)
	if nonce := entry.task.Properties.Nonce; nonce != "" {
		delete(i.byNonce, nonce)
	}
	if msgID := entry.task.Properties.MessageID; msgID != "" {
		delete(i.byMessageID, msgID)
	}
}

func (i *Instance) notify(t *task.Task) {
	if i.listener != nil {
		i.listener(t)
	}
}
