package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
	"github.com/WGwuzhi/midjourney-proxy/internal/config"
	"github.com/WGwuzhi/midjourney-proxy/internal/dict"
	"github.com/WGwuzhi/midjourney-proxy/internal/instance"
	"github.com/WGwuzhi/midjourney-proxy/internal/locks"
	"github.com/WGwuzhi/midjourney-proxy/internal/selector"
	"github.com/WGwuzhi/midjourney-proxy/internal/store"
	"github.com/WGwuzhi/midjourney-proxy/internal/store/memory"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
	"github.com/WGwuzhi/midjourney-proxy/internal/upstream/upstreamtest"
)

// fakeClock advances instantly on Sleep so the modal polling waits collapse.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	orch   *Orchestrator
	fake   *upstreamtest.Fake
	stores *store.Stores
	acc    *account.Account
	cfg    *config.Config
}

// newEnv builds a one-account world; mutate tweaks the account and config
// before the instance spins up.
func newEnv(t *testing.T, mutate func(*account.Account, *config.Config)) *env {
	t.Helper()
	a := &account.Account{
		ChannelID:        "c1",
		Enable:           true,
		Running:          true,
		EnableMj:         true,
		IsDescribe:       true,
		IsBlend:          true,
		IsShorten:        true,
		CoreSize:         2,
		QueueSize:        10,
		TimeoutMinutes:   5,
		AfterIntervalMin: 0.001,
	}
	cfg := &config.Config{EnableUserCustomUploadBase64: true}
	if mutate != nil {
		mutate(a, cfg)
	}

	stores := memory.NewStores()
	reg := account.NewRegistry()
	mgr := instance.NewManager()
	fake := upstreamtest.NewFake()
	inst := instance.New(a, stores.Tasks, fake, nil)
	t.Cleanup(inst.Stop)
	reg.Put(a)
	mgr.Put(inst)

	sel := selector.New(selector.RuleBestWaitIdle, reg, 1)
	orch := New(cfg, stores, mgr, sel, dict.New(stores.Dicts), locks.NewLockSet(), &fakeClock{now: time.Now()})
	return &env{orch: orch, fake: fake, stores: stores, acc: a, cfg: cfg}
}

func (e *env) banWord(t *testing.T, word string) {
	t.Helper()
	err := e.stores.Dicts.SaveBanned(&store.BannedKeywords{ID: "b1", Enable: true, Keywords: []string{word}})
	require.NoError(t, err)
}

// waitCalls polls until the fake records n invocations of method.
func (e *env) waitCalls(t *testing.T, method string, n int) []upstreamtest.Call {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(e.fake.CallsTo(method)) >= n
	}, 3*time.Second, 10*time.Millisecond, "no %s call recorded", method)
	return e.fake.CallsTo(method)
}

func TestSubmitImagine(t *testing.T) {
	e := newEnv(t, nil)
	res := e.orch.SubmitImagine(context.Background(), SubmitRequest{Prompt: "a red fox"})
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)

	calls := e.waitCalls(t, "Imagine", 1)
	assert.Equal(t, "a red fox", calls[0].Prompt)
	assert.NotEmpty(t, calls[0].Nonce)

	got, err := e.orch.GetTask(res.Result)
	require.NoError(t, err)
	assert.Equal(t, task.ActionImagine, got.Action)
	assert.Equal(t, "c1", got.InstanceID)
}

func TestSubmitImagineEmptyPrompt(t *testing.T) {
	e := newEnv(t, nil)
	res := e.orch.SubmitImagine(context.Background(), SubmitRequest{Prompt: "   "})
	assert.Equal(t, task.CodeValidationError, res.Code)
}

func TestSubmitImagineBannedPrompt(t *testing.T) {
	e := newEnv(t, nil)
	e.banWord(t, "gore")

	res := e.orch.SubmitImagine(context.Background(), SubmitRequest{Prompt: "lots of GORE everywhere"})
	require.Equal(t, task.CodeBannedPrompt, res.Code)
	assert.Equal(t, "GORE", res.Result)
	assert.Equal(t, "GORE", res.Properties["bannedWord"])
	assert.Empty(t, e.fake.CallsTo("Imagine"))
}

func TestSubmitImagineNoInstance(t *testing.T) {
	e := newEnv(t, nil)
	// The only account has niji disabled.
	res := e.orch.SubmitImagine(context.Background(), SubmitRequest{Prompt: "a fox", Bot: task.BotNiji})
	assert.Equal(t, task.CodeNotFound, res.Code)
}

func TestSubmitImagineConvertNiji(t *testing.T) {
	e := newEnv(t, func(_ *account.Account, cfg *config.Config) {
		cfg.EnableConvertNijiToMj = true
	})
	res := e.orch.SubmitImagine(context.Background(), SubmitRequest{Prompt: "a fox", Bot: task.BotNiji})
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)

	calls := e.waitCalls(t, "Imagine", 1)
	assert.Equal(t, "a fox --niji 6", calls[0].Prompt)
	assert.Equal(t, task.BotMidjourney, calls[0].Bot)
}

func TestSubmitImagineDomainMissRetries(t *testing.T) {
	e := newEnv(t, func(_ *account.Account, cfg *config.Config) {
		cfg.EnableVerticalDomain = true
	})
	err := e.stores.Dicts.SaveDomain(&store.DomainKeywords{ID: "d-cars", Enable: true, Keywords: []string{"car"}})
	require.NoError(t, err)

	// The prompt hits d-cars but no account carries that domain; the retry
	// without domain routing must still land the task.
	res := e.orch.SubmitImagine(context.Background(), SubmitRequest{Prompt: "a red car"})
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	e.waitCalls(t, "Imagine", 1)
}

func TestSubmitDescribe(t *testing.T) {
	e := newEnv(t, nil)

	res := e.orch.SubmitDescribe(context.Background(), SubmitRequest{})
	assert.Equal(t, task.CodeValidationError, res.Code, "image count is mandatory")

	res = e.orch.SubmitDescribe(context.Background(), SubmitRequest{
		Base64Array: []string{"data:image/png;base64,aGVsbG8="},
	})
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	calls := e.waitCalls(t, "Describe", 1)
	assert.Equal(t, e.fake.UploadName, calls[0].Value)
}

func TestSubmitDescribeByLink(t *testing.T) {
	e := newEnv(t, nil)
	res := e.orch.SubmitDescribe(context.Background(), SubmitRequest{
		Base64Array: []string{"https://img.example/fox.png"},
	})
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	// Chat accounts pass links through instead of re-hosting.
	calls := e.waitCalls(t, "DescribeByLink", 1)
	assert.Equal(t, "https://img.example/fox.png", calls[0].Value)
}

func TestSubmitBlend(t *testing.T) {
	e := newEnv(t, nil)

	one := []string{"data:image/png;base64,aGVsbG8="}
	res := e.orch.SubmitBlend(context.Background(), SubmitRequest{Base64Array: one})
	assert.Equal(t, task.CodeValidationError, res.Code, "one image is too few")

	six := []string{"a", "b", "c", "d", "e", "f"}
	res = e.orch.SubmitBlend(context.Background(), SubmitRequest{Base64Array: six})
	assert.Equal(t, task.CodeValidationError, res.Code, "six images is too many")

	res = e.orch.SubmitBlend(context.Background(), SubmitRequest{
		Base64Array: []string{"data:image/png;base64,aGVsbG8=", "data:image/png;base64,d29ybGQ="},
		Dimensions:  "PORTRAIT",
	})
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	calls := e.waitCalls(t, "Blend", 1)
	assert.Equal(t, "PORTRAIT", calls[0].Value)
	assert.Len(t, e.fake.CallsTo("UploadFile"), 2)
}

func TestSubmitShorten(t *testing.T) {
	e := newEnv(t, nil)
	res := e.orch.SubmitShorten(context.Background(), SubmitRequest{Prompt: "an extremely long prompt"})
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	calls := e.waitCalls(t, "Shorten", 1)
	assert.Equal(t, "an extremely long prompt", calls[0].Prompt)
}

func TestSubmitEditPrependsImageURL(t *testing.T) {
	e := newEnv(t, nil)

	res := e.orch.SubmitEdit(context.Background(), SubmitRequest{Prompt: "an armchair"})
	assert.Equal(t, task.CodeValidationError, res.Code, "image is mandatory")

	res = e.orch.SubmitEdit(context.Background(), SubmitRequest{
		Prompt:      "an armchair",
		Base64Array: []string{"data:image/png;base64,aGVsbG8="},
	})
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	calls := e.waitCalls(t, "Edit", 1)
	assert.Equal(t, e.fake.URL+" an armchair", calls[0].Prompt)
}

func TestCancel(t *testing.T) {
	e := newEnv(t, nil)

	res := e.orch.Cancel("missing")
	assert.Equal(t, task.CodeNotFound, res.Code)

	done := &task.Task{ID: "t-done", Status: task.StatusSuccess}
	require.NoError(t, e.stores.Tasks.Save(done))
	res = e.orch.Cancel("t-done")
	assert.Equal(t, task.CodeValidationError, res.Code, "terminal tasks stay put")

	// A task never dispatched to an instance flips directly.
	idle := &task.Task{ID: "t-idle", Status: task.StatusNotStart}
	require.NoError(t, e.stores.Tasks.Save(idle))
	res = e.orch.Cancel("t-idle")
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	idle.Lock()
	assert.Equal(t, task.StatusCancel, idle.Status)
	assert.NotZero(t, idle.FinishTime)
	idle.Unlock()
}

// seedParent stores a finished grid result owned by the fixture account.
func seedParent(t *testing.T, e *env) *task.Task {
	t.Helper()
	parent := &task.Task{
		ID:         "p1",
		Action:     task.ActionImagine,
		Status:     task.StatusSuccess,
		BotFamily:  task.BotMidjourney,
		InstanceID: "c1",
		Prompt:     "a red fox",
		PromptEn:   "a red fox",
		Properties: task.Properties{
			MessageID:   "m1",
			MessageHash: "hash",
			FinalPrompt: "a red fox --v 6",
		},
	}
	require.NoError(t, e.stores.Tasks.Save(parent))
	return parent
}

func TestSubmitActionUnknownCustomID(t *testing.T) {
	e := newEnv(t, nil)
	seedParent(t, e)
	res := e.orch.SubmitAction(context.Background(), ActionRequest{TaskID: "p1", CustomID: "garbage"})
	assert.Equal(t, task.CodeValidationError, res.Code)
}

func TestSubmitActionBookmark(t *testing.T) {
	e := newEnv(t, nil)
	seedParent(t, e)
	res := e.orch.SubmitAction(context.Background(), ActionRequest{
		TaskID:   "p1",
		CustomID: "MJ::BOOKMARK::hash",
	})
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	assert.Equal(t, "p1", res.Result, "bookmarks never spawn a child task")
	calls := e.waitCalls(t, "Action", 1)
	assert.Equal(t, "MJ::BOOKMARK::hash", calls[0].CustomID)
}

func TestSubmitActionDirectWhenRemixOff(t *testing.T) {
	e := newEnv(t, nil)
	seedParent(t, e)
	res := e.orch.SubmitAction(context.Background(), ActionRequest{
		TaskID:   "p1",
		CustomID: "MJ::JOB::variation::1::hash",
	})
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)

	calls := e.waitCalls(t, "Action", 1)
	assert.Equal(t, "MJ::JOB::variation::1::hash", calls[0].CustomID)
	assert.Equal(t, "m1", calls[0].Value)

	child, err := e.orch.GetTask(res.Result)
	require.NoError(t, err)
	assert.Equal(t, task.ActionVariation, child.Action)
	assert.Equal(t, "p1", child.ParentID)
}

func TestSubmitActionParksModalWhenRemixOn(t *testing.T) {
	e := newEnv(t, func(a *account.Account, _ *config.Config) {
		a.MjRemixOn = true
	})
	seedParent(t, e)

	res := e.orch.SubmitAction(context.Background(), ActionRequest{
		TaskID:   "p1",
		CustomID: "MJ::JOB::variation::1::hash",
	})
	require.Equal(t, task.CodeExisted, res.Code)
	assert.True(t, res.Ok(), "EXISTED is a non-terminal acceptance")
	assert.Equal(t, "a red fox", res.Properties["finalPrompt"])
	assert.Equal(t, true, res.Properties["remix"])

	child, err := e.orch.GetTask(res.Result)
	require.NoError(t, err)
	child.Lock()
	defer child.Unlock()
	assert.Equal(t, task.StatusModal, child.Status)
	assert.True(t, child.Properties.Remix)
	assert.Empty(t, e.fake.Calls(), "nothing goes upstream until the confirm")
}

func TestSubmitModal(t *testing.T) {
	e := newEnv(t, func(a *account.Account, _ *config.Config) {
		a.MjRemixOn = true
	})
	seedParent(t, e)

	res := e.orch.SubmitAction(context.Background(), ActionRequest{
		TaskID:   "p1",
		CustomID: "MJ::JOB::variation::1::hash",
	})
	require.Equal(t, task.CodeExisted, res.Code)
	childID := res.Result

	// The event side would record these when the modal window opens.
	child, err := e.stores.Tasks.Get(childID)
	require.NoError(t, err)
	child.Lock()
	child.Properties.RemixModalMessageID = "modal-1"
	child.Properties.InteractionMetadataID = "inter-1"
	child.Unlock()

	confirm := e.orch.SubmitModal(context.Background(), childID, "a red fox, oil painting", "")
	require.True(t, confirm.Ok(), "code %d: %s", confirm.Code, confirm.Description)

	// Phase one clicks the original button, phase two posts the remix modal.
	actions := e.waitCalls(t, "Action", 1)
	assert.Equal(t, "MJ::JOB::variation::1::hash", actions[0].CustomID)
	modals := e.waitCalls(t, "Modal", 1)
	assert.Equal(t, "MJ::RemixModal::hash::1::0", modals[0].CustomID)
	assert.Equal(t, "modal-1", modals[0].Value)
	assert.Equal(t, "a red fox, oil painting", modals[0].Prompt)
}

func TestSubmitModalRejectsWrongState(t *testing.T) {
	e := newEnv(t, nil)
	res := e.orch.SubmitModal(context.Background(), "missing", "", "")
	assert.Equal(t, task.CodeNotFound, res.Code)

	plain := &task.Task{ID: "t1", Status: task.StatusSubmitted, InstanceID: "c1"}
	require.NoError(t, e.stores.Tasks.Save(plain))
	res = e.orch.SubmitModal(context.Background(), "t1", "", "")
	assert.Equal(t, task.CodeValidationError, res.Code)
}

func TestSubmitActionPicReaderLine(t *testing.T) {
	e := newEnv(t, nil)
	parent := seedParent(t, e)
	parent.Lock()
	parent.Action = task.ActionDescribe
	parent.Description = "1️⃣ a painting of a fox\n2️⃣ a fox in the snow"
	parent.Unlock()
	require.NoError(t, e.stores.Tasks.Save(parent))

	res := e.orch.SubmitAction(context.Background(), ActionRequest{
		TaskID:   "p1",
		CustomID: "MJ::Job::PicReader::2",
	})
	require.Equal(t, task.CodeExisted, res.Code)
	assert.Equal(t, "a fox in the snow", res.Properties["finalPrompt"])

	res = e.orch.SubmitAction(context.Background(), ActionRequest{
		TaskID:   "p1",
		CustomID: "MJ::Job::PicReader::9",
	})
	assert.Equal(t, task.CodeNotFound, res.Code, "line index out of range")
}

func TestSubmitActionVideoDisabled(t *testing.T) {
	e := newEnv(t, nil)
	seedParent(t, e)
	res := e.orch.SubmitAction(context.Background(), ActionRequest{
		TaskID:   "p1",
		CustomID: "MJ::JOB::animate_high_motion::1::hash",
	})
	assert.Equal(t, task.CodeValidationError, res.Code)
}

func TestSubmitActionBotFamilyInherited(t *testing.T) {
	e := newEnv(t, nil)
	parent := seedParent(t, e)
	parent.Lock()
	parent.BotFamily = task.BotNiji
	parent.Unlock()
	require.NoError(t, e.stores.Tasks.Save(parent))

	res := e.orch.SubmitAction(context.Background(), ActionRequest{
		TaskID:   "p1",
		CustomID: "MJ::JOB::reroll::0::hash::SOLO",
	})
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	child, err := e.orch.GetTask(res.Result)
	require.NoError(t, err)
	assert.Equal(t, task.BotNiji, child.BotFamily)
}

func TestSyncSettings(t *testing.T) {
	e := newEnv(t, func(a *account.Account, _ *config.Config) {
		a.PrivateChannelID = "priv-1"
	})
	res := e.orch.SyncSettings(context.Background(), "c1", task.BotMidjourney)
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	calls := e.fake.CallsTo("Settings")
	require.Len(t, calls, 1)
	assert.Equal(t, "priv-1", calls[0].Value)

	res = e.orch.SyncSettings(context.Background(), "nope", task.BotMidjourney)
	assert.Equal(t, task.CodeNotFound, res.Code)
}

func TestSyncSettingsNoPrivateChannel(t *testing.T) {
	e := newEnv(t, nil)
	res := e.orch.SyncSettings(context.Background(), "c1", task.BotMidjourney)
	assert.Equal(t, task.CodeValidationError, res.Code)
}

func TestChangeSetting(t *testing.T) {
	e := newEnv(t, func(a *account.Account, _ *config.Config) {
		a.PrivateChannelID = "priv-1"
	})

	res := e.orch.ChangeSetting(context.Background(), "c1", "sm1", "MJ::Settings::RemixMode", "", task.BotMidjourney)
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	require.Len(t, e.fake.CallsTo("SettingButton"), 1)
	assert.Len(t, e.fake.CallsTo("Settings"), 1, "a fresh /settings follows the click")

	res = e.orch.ChangeSetting(context.Background(), "c1", "sm1", "version-select", "6", task.BotMidjourney)
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	selects := e.fake.CallsTo("SettingSelect")
	require.Len(t, selects, 1)
	assert.Equal(t, "6", selects[0].Value)
}

func TestSubmitSeed(t *testing.T) {
	e := newEnv(t, func(a *account.Account, _ *config.Config) {
		a.PrivateChannelID = "priv-1"
	})

	res := e.orch.SubmitSeed(context.Background(), "missing")
	assert.Equal(t, task.CodeNotFound, res.Code)

	// Already-known seeds answer without touching the upstream.
	done := &task.Task{ID: "t-seeded", Status: task.StatusSuccess, Seed: "12345", InstanceID: "c1"}
	require.NoError(t, e.stores.Tasks.Save(done))
	res = e.orch.SubmitSeed(context.Background(), "t-seeded")
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	assert.Equal(t, "12345", res.Properties["seed"])
	assert.Empty(t, e.fake.Calls())

	// No hash means nothing to /show.
	bare := &task.Task{ID: "t-bare", Status: task.StatusSuccess, InstanceID: "c1"}
	require.NoError(t, e.stores.Tasks.Save(bare))
	res = e.orch.SubmitSeed(context.Background(), "t-bare")
	assert.Equal(t, task.CodeValidationError, res.Code)
}

// cloningTaskStore mimics the SQL stores: every Get decodes a fresh row, so
// a reader polling a task never shares a pointer with the writer.
type cloningTaskStore struct {
	inner *memory.TaskStore
}

func (s *cloningTaskStore) Get(id string) (*task.Task, error) {
	t, err := s.inner.Get(id)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (s *cloningTaskStore) Save(t *task.Task) error { return s.inner.Save(t.Clone()) }
func (s *cloningTaskStore) Delete(id string) error  { return s.inner.Delete(id) }

func (s *cloningTaskStore) List(q store.TaskQuery) ([]*task.Task, error) {
	rows, err := s.inner.List(q)
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out, nil
}

func (s *cloningTaskStore) Count(q store.TaskQuery) (int, error) { return s.inner.Count(q) }

type stubSeedWaits struct{}

func (stubSeedWaits) AwaitSeed(hash, taskID string) {}
func (stubSeedWaits) EndSeed(hash string)           {}

func TestSubmitSeedFlow(t *testing.T) {
	a := &account.Account{
		ChannelID:        "c1",
		Enable:           true,
		Running:          true,
		EnableMj:         true,
		PrivateChannelID: "priv-1",
		CoreSize:         2,
		QueueSize:        10,
		TimeoutMinutes:   5,
		AfterIntervalMin: 0.001,
	}
	tasks := &cloningTaskStore{inner: memory.NewTaskStore()}
	stores := &store.Stores{Tasks: tasks, Accounts: memory.NewAccountStore(), Dicts: memory.NewDictStore()}
	reg := account.NewRegistry()
	mgr := instance.NewManager()
	fake := upstreamtest.NewFake()
	inst := instance.New(a, tasks, fake, nil)
	t.Cleanup(inst.Stop)
	reg.Put(a)
	mgr.Put(inst)
	orch := New(&config.Config{}, stores, mgr,
		selector.New(selector.RuleBestWaitIdle, reg, 1),
		dict.New(stores.Dicts), locks.NewLockSet(), &fakeClock{now: time.Now()})
	orch.SetSeedWaiter(stubSeedWaits{})

	job := &task.Task{
		ID:         "t1",
		Action:     task.ActionImagine,
		Status:     task.StatusSuccess,
		BotFamily:  task.BotMidjourney,
		InstanceID: "c1",
		Properties: task.Properties{MessageHash: "show-hash"},
	}
	require.NoError(t, tasks.Save(job))

	// The event side lands both seed facts through its own store round trip,
	// never touching the pointer SubmitSeed started from.
	fake.Script("ShowJob", func(c upstreamtest.Call) task.Message {
		cur, err := tasks.Get("t1")
		require.NoError(t, err)
		cur.Properties.SeedMessageID = "seed-msg-1"
		require.NoError(t, tasks.Save(cur))
		return task.MessageSuccess()
	})
	fake.Script("SeedReact", func(c upstreamtest.Call) task.Message {
		cur, err := tasks.Get("t1")
		require.NoError(t, err)
		cur.Seed = "9999"
		require.NoError(t, tasks.Save(cur))
		return task.MessageSuccess()
	})

	res := orch.SubmitSeed(context.Background(), "t1")
	require.True(t, res.Ok(), "code %d: %s", res.Code, res.Description)
	assert.Equal(t, "9999", res.Properties["seed"])

	shows := fake.CallsTo("ShowJob")
	require.Len(t, shows, 1)
	assert.Equal(t, "show-hash", shows[0].Value)
	reacts := fake.CallsTo("SeedReact")
	require.Len(t, reacts, 1)
	assert.Equal(t, "seed-msg-1", reacts[0].Value)
}

func TestSubmitModalVideo(t *testing.T) {
	e := newEnv(t, func(_ *account.Account, cfg *config.Config) {
		cfg.EnableVideo = true
	})
	seedParent(t, e)

	res := e.orch.SubmitAction(context.Background(), ActionRequest{
		TaskID:   "p1",
		CustomID: "MJ::JOB::animate_high_motion::1::hash",
	})
	require.Equal(t, task.CodeExisted, res.Code)
	childID := res.Result

	child, err := e.stores.Tasks.Get(childID)
	require.NoError(t, err)
	child.Lock()
	child.Properties.RemixModalMessageID = "modal-1"
	child.Properties.InteractionMetadataID = "inter-1"
	child.Unlock()

	confirm := e.orch.SubmitModal(context.Background(), childID, "", "")
	require.True(t, confirm.Ok(), "code %d: %s", confirm.Code, confirm.Description)

	// The second phase posts the modal with the video custom id as-is; there
	// is no remix rewrite for animate buttons.
	modals := e.waitCalls(t, "Modal", 1)
	assert.Equal(t, "MJ::JOB::animate_high_motion::1::hash", modals[0].CustomID)
	assert.Equal(t, "modal-1", modals[0].Value)

	got, err := e.orch.GetTask(childID)
	require.NoError(t, err)
	assert.Equal(t, task.ActionVideo, got.Action)
}

func TestPromptLines(t *testing.T) {
	desc := "1️⃣ a painting of a fox\n\n2️⃣ **a fox in the snow**\n3) plain numbered line"
	got := promptLines(desc)
	want := []string{"a painting of a fox", "a fox in the snow", "plain numbered line"}
	require.Equal(t, want, got)

	assert.Empty(t, promptLines(""))
	assert.Empty(t, promptLines("Shortened prompts\n"))
}

func TestExtractPromptLineAnalyzer(t *testing.T) {
	parent := &task.Task{Description: "ignored preamble\n" + shortenedAnchor + "\n1️⃣ short one\n2️⃣ short two"}
	line, res := extractPromptLine(parent, ParsedCustomID{Kind: KindPromptAnalyzer, Index: 2})
	require.Nil(t, res)
	assert.Equal(t, "short two", line)

	noAnchor := &task.Task{Description: "1️⃣ short one"}
	_, res = extractPromptLine(noAnchor, ParsedCustomID{Kind: KindPromptAnalyzer, Index: 1})
	require.NotNil(t, res)
	assert.Equal(t, task.CodeNotFound, res.Code)
}

func TestIsHTTPURL(t *testing.T) {
	assert.True(t, isHTTPURL("https://x/y.png"))
	assert.True(t, isHTTPURL("http://x/y.png"))
	assert.False(t, isHTTPURL("data:image/png;base64,xx"))
	assert.False(t, isHTTPURL(strings.Repeat("a", 10)))
}
