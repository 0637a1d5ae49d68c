package instance

import (
	"context"
	"testing"
	"time"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
	"github.com/WGwuzhi/midjourney-proxy/internal/store/memory"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
	"github.com/WGwuzhi/midjourney-proxy/internal/upstream/upstreamtest"
)

func testAccount() *account.Account {
	return &account.Account{
		ChannelID:        "chan1",
		Enable:           true,
		Running:          true,
		EnableMj:         true,
		CoreSize:         1,
		QueueSize:        1,
		TimeoutMinutes:   5,
		AfterIntervalMin: 0.001,
		AfterIntervalMax: 0.001,
	}
}

func newTestTask(id string) *task.Task {
	return &task.Task{
		ID:        id,
		Action:    task.ActionImagine,
		Status:    task.StatusNotStart,
		BotFamily: task.BotMidjourney,
		Properties: task.Properties{
			Nonce: "nonce-" + id,
		},
	}
}

func TestSubmitTaskQueueAccounting(t *testing.T) {
	inst := New(testAccount(), memory.NewTaskStore(), upstreamtest.NewFake(), nil)
	defer inst.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := func(ctx context.Context) task.Message {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return task.MessageSuccess()
	}

	t1 := newTestTask("t1")
	res := inst.SubmitTask(t1, blocking)
	if res.Code != task.CodeSuccess {
		t.Fatalf("first submit: code %d (%s)", res.Code, res.Description)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never dispatched t1")
	}

	t2 := newTestTask("t2")
	res = inst.SubmitTask(t2, func(ctx context.Context) task.Message { return task.MessageSuccess() })
	if !res.Ok() {
		t.Fatalf("second submit rejected: %d (%s)", res.Code, res.Description)
	}

	// Queue capacity is 1 and the worker is busy, so a third submit bounces.
	t3 := newTestTask("t3")
	res = inst.SubmitTask(t3, func(ctx context.Context) task.Message { return task.MessageSuccess() })
	if res.Code != task.CodeFailure {
		t.Fatalf("third submit: code %d, want queue-full failure", res.Code)
	}

	if got := inst.FindByNonce("nonce-t1"); got != t1 {
		t.Error("FindByNonce missed the running task")
	}
	if got := inst.FindByNonce("nonce-t3"); got != nil {
		t.Error("rejected task must not be indexed")
	}

	// Cancel the queued task, then finish the running one.
	if !inst.Cancel("t2") {
		t.Error("cancel of queued task failed")
	}
	t1.Lock()
	t1.Succeed()
	t1.Unlock()
	close(release)
	inst.FinishTask("t1")

	deadline := time.After(5 * time.Second)
	for inst.RunningCount() > 0 {
		select {
		case <-deadline:
			t.Fatalf("running count stuck at %d", inst.RunningCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTotalLoadCountsEachTaskOnce(t *testing.T) {
	a := testAccount()
	a.QueueSize = 5
	inst := New(a, memory.NewTaskStore(), upstreamtest.NewFake(), nil)
	defer inst.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	blocking := func(ctx context.Context) task.Message {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return task.MessageSuccess()
	}
	idle := func(ctx context.Context) task.Message {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return task.MessageSuccess()
	}

	if res := inst.SubmitTask(newTestTask("t1"), blocking); !res.Ok() {
		t.Fatalf("submit t1: %d", res.Code)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never dispatched t1")
	}
	if res := inst.SubmitTask(newTestTask("t2"), idle); !res.Ok() {
		t.Fatalf("submit t2: %d", res.Code)
	}
	if res := inst.SubmitTask(newTestTask("t3"), idle); !res.Ok() {
		t.Fatalf("submit t3: %d", res.Code)
	}

	// One dispatched and two queued: three units of load, not five.
	if got := inst.TotalLoad(); got != 3 {
		t.Errorf("TotalLoad = %d, want 3", got)
	}
}

func TestTerminalDeadline(t *testing.T) {
	anchor := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	if got := terminalDeadline(anchor, 2); !got.Equal(anchor.Add(2 * time.Minute)) {
		t.Errorf("deadline %v, want anchor+2m", got)
	}
	// Zero and negative budgets fall back to five minutes, still anchored at
	// the SUBMITTED transition rather than at dispatch.
	if got := terminalDeadline(anchor, 0); !got.Equal(anchor.Add(5 * time.Minute)) {
		t.Errorf("deadline %v, want anchor+5m", got)
	}
}

func TestSubmitTaskNotAccepting(t *testing.T) {
	a := testAccount()
	a.Running = false
	inst := New(a, memory.NewTaskStore(), upstreamtest.NewFake(), nil)
	defer inst.Stop()

	res := inst.SubmitTask(newTestTask("t1"), func(ctx context.Context) task.Message {
		return task.MessageSuccess()
	})
	if res.Code != task.CodeNotFound {
		t.Errorf("code %d, want NOT_FOUND for offline instance", res.Code)
	}
}

func TestSubmitTaskModeRejected(t *testing.T) {
	a := testAccount()
	a.AllowModes = []task.Mode{task.ModeRelax}
	inst := New(a, memory.NewTaskStore(), upstreamtest.NewFake(), nil)
	defer inst.Stop()

	tk := newTestTask("t1")
	tk.AccountFilter.Modes = []task.Mode{task.ModeFast}
	tk.Mode = task.ModeFast
	res := inst.SubmitTask(tk, func(ctx context.Context) task.Message {
		return task.MessageSuccess()
	})
	if res.Code != task.CodeNotFound {
		t.Errorf("code %d, want NOT_FOUND when no permitted mode", res.Code)
	}
}

func TestProducerFailureFailsTask(t *testing.T) {
	store := memory.NewTaskStore()
	inst := New(testAccount(), store, upstreamtest.NewFake(), nil)
	defer inst.Stop()

	tk := newTestTask("t1")
	res := inst.SubmitTask(tk, func(ctx context.Context) task.Message {
		return task.MessageFailure("upstream said no")
	})
	if !res.Ok() {
		t.Fatalf("submit rejected: %d", res.Code)
	}

	deadline := time.After(5 * time.Second)
	for {
		saved, err := store.Get("t1")
		if err == nil {
			saved.Lock()
			status, reason := saved.Status, saved.FailReason
			saved.Unlock()
			if status == task.StatusFailure {
				if reason != "upstream said no" {
					t.Errorf("fail reason %q", reason)
				}
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("task never failed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestValidateModeFallback(t *testing.T) {
	a := testAccount()
	a.AllowModes = []task.Mode{task.ModeRelax, task.ModeFast}
	a.Mode = task.ModeRelax
	inst := New(a, memory.NewTaskStore(), upstreamtest.NewFake(), nil)
	defer inst.Stop()

	// Requested mode wins when allowed.
	mode, ok := inst.ValidateMode(task.ModeFast, task.AccountFilter{})
	if !ok || mode != task.ModeFast {
		t.Errorf("got (%s, %v), want (FAST, true)", mode, ok)
	}
	// No request falls back to the account's preferred mode.
	mode, ok = inst.ValidateMode("", task.AccountFilter{})
	if !ok || mode != task.ModeRelax {
		t.Errorf("got (%s, %v), want (RELAX, true)", mode, ok)
	}
	// Disallowed request degrades to an allowed mode.
	a.AllowModes = []task.Mode{task.ModeRelax}
	mode, ok = inst.ValidateMode(task.ModeTurbo, task.AccountFilter{})
	if !ok || mode != task.ModeRelax {
		t.Errorf("got (%s, %v), want (RELAX, true)", mode, ok)
	}
}

func TestAssociateMessageFirstWins(t *testing.T) {
	inst := New(testAccount(), memory.NewTaskStore(), upstreamtest.NewFake(), nil)
	defer inst.Stop()

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	producer := func(ctx context.Context) task.Message {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return task.MessageSuccess()
	}

	t1 := newTestTask("t1")
	if res := inst.SubmitTask(t1, producer); !res.Ok() {
		t.Fatalf("submit: %d", res.Code)
	}
	<-started

	inst.AssociateMessage("t1", "m1")
	inst.AssociateMessage("t-other", "m1")
	if got := inst.FindByMessageID("m1"); got != t1 {
		t.Error("first association must win")
	}
	close(release)
	inst.FinishTask("t1")
}
