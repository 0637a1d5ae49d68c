package correlator

import (
	"log/slog"
	"regexp"
	"sync"

	"github.com/WGwuzhi/midjourney-proxy/internal/instance"
)

// seedWaits tracks in-flight seed retrievals keyed by image hash. The seed
// flow posts /show into the account's private channel and waits for the
// mirrored job message, then for the seed DM after the letter reaction.
type seedWaits struct {
	mu    sync.Mutex
	byKey map[string]string // hash → task id
}

// AwaitSeed registers a pending seed retrieval for an image hash.
func (c *Correlator) AwaitSeed(hash, taskID string) {
	c.seeds.mu.Lock()
	defer c.seeds.mu.Unlock()
	c.seeds.byKey[hash] = taskID
}

// EndSeed drops the pending retrieval.
func (c *Correlator) EndSeed(hash string) {
	c.seeds.mu.Lock()
	defer c.seeds.mu.Unlock()
	delete(c.seeds.byKey, hash)
}

func (c *Correlator) seedTaskFor(hash string) string {
	c.seeds.mu.Lock()
	defer c.seeds.mu.Unlock()
	return c.seeds.byKey[hash]
}

var seedRe = regexp.MustCompile(`[Ss]eed[:\s]+\*{0,2}(\d+)\*{0,2}`)

// seedHandler resolves /show mirrors and seed replies in private channels.
type seedHandler struct{}

func (*seedHandler) Name() string { return "seed" }

func (*seedHandler) Match(ev *EventData) bool {
	return ev.FirstImageURL() != "" || seedRe.MatchString(ev.Content)
}

func (*seedHandler) Handle(c *Correlator, inst *instance.Instance, ev *EventData) bool {
	// Seed value reply: correlate by the referenced show message.
	if m := seedRe.FindStringSubmatch(ev.Content); m != nil {
		for _, taskID := range c.allSeedTasks() {
			t, err := c.tasks.Get(taskID)
			if err != nil {
				continue
			}
			t.Lock()
			match := t.Properties.SeedMessageID != "" &&
				(ev.ReferencedMessageID == "" || ev.ReferencedMessageID == t.Properties.SeedMessageID)
			if match {
				t.Seed = m[1]
				if err := c.tasks.Save(t); err != nil {
					slog.Error("save task seed", "task_id", t.ID, "error", err)
				}
			}
			t.Unlock()
			if match {
				return true
			}
		}
		return false
	}

	// Show mirror: the job message re-posted into the private channel.
	hash := ParseMessageHash(ev.FirstImageURL())
	if hash == "" {
		return false
	}
	taskID := c.seedTaskFor(hash)
	if taskID == "" {
		return false
	}
	t, err := c.tasks.Get(taskID)
	if err != nil {
		return false
	}
	t.Lock()
	if t.Properties.SeedMessageID == "" {
		t.Properties.SeedMessageID = ev.ID
		if err := c.tasks.Save(t); err != nil {
			slog.Error("save seed message id", "task_id", t.ID, "error", err)
		}
	}
	t.Unlock()
	return true
}

func (c *Correlator) allSeedTasks() []string {
	c.seeds.mu.Lock()
	defer c.seeds.mu.Unlock()
	out := make([]string, 0, len(c.seeds.byKey))
	for _, id := range c.seeds.byKey {
		out = append(out, id)
	}
	return out
}
