package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/WGwuzhi/midjourney-proxy/internal/correlator"
	"github.com/WGwuzhi/midjourney-proxy/internal/instance"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// pendingJob is one submitted remote task awaiting terminal state.
type pendingJob struct {
	ChannelID string
	Nonce     string
}

// Pending is the remote-id → local-nonce table shared between the relay
// clients and the poller.
type Pending struct {
	mu   sync.Mutex
	jobs map[string]pendingJob // remote task id → job
}

// NewPending returns an empty table.
func NewPending() *Pending {
	return &Pending{jobs: make(map[string]pendingJob)}
}

// Add registers a submitted remote task.
func (p *Pending) Add(remoteID, channelID, nonce string) {
	if remoteID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs[remoteID] = pendingJob{ChannelID: channelID, Nonce: nonce}
}

// Remove drops a finished remote task.
func (p *Pending) Remove(remoteID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.jobs, remoteID)
}

func (p *Pending) snapshot() map[string]pendingJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]pendingJob, len(p.jobs))
	for id, job := range p.jobs {
		out[id] = job
	}
	return out
}

// remoteTask is the slice of the remote fetch payload the poller folds back.
type remoteTask struct {
	ID         string        `json:"id"`
	Status     task.Status   `json:"status"`
	Progress   string        `json:"progress"`
	ImageURL   string        `json:"imageUrl"`
	FailReason string        `json:"failReason"`
	Buttons    []task.Button `json:"buttons"`
	Properties struct {
		MessageID   string `json:"messageId"`
		MessageHash string `json:"messageHash"`
		FinalPrompt string `json:"finalPrompt"`
	} `json:"properties"`
}

// Poller drives the fetch loop for all relay accounts.
type Poller struct {
	pending    *Pending
	manager    *instance.Manager
	correlator *correlator.Correlator
	http       *http.Client
	interval   time.Duration

	// secrets resolves the api base and secret for a channel at fetch time so
	// account edits take effect without restart.
	secrets func(channelID string) (apiURL, apiSecret string, ok bool)
}

// NewPoller builds a poller. interval <= 0 defaults to 3s.
func NewPoller(pending *Pending, manager *instance.Manager, corr *correlator.Correlator,
	secrets func(channelID string) (string, string, bool), interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		pending:    pending,
		manager:    manager,
		correlator: corr,
		http:       &http.Client{Timeout: 30 * time.Second},
		interval:   interval,
		secrets:    secrets,
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	for remoteID, job := range p.pending.snapshot() {
		rt, err := p.fetch(ctx, job.ChannelID, remoteID)
		if err != nil {
			slog.Warn("relay fetch failed", "remote_id", remoteID, "channel_id", job.ChannelID, "error", err)
			continue
		}
		p.apply(remoteID, job, rt)
	}
}

func (p *Poller) fetch(ctx context.Context, channelID, remoteID string) (*remoteTask, error) {
	apiURL, secret, ok := p.secrets(channelID)
	if !ok {
		return nil, fmt.Errorf("no relay account for channel %s", channelID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/mj/task/%s/fetch", apiURL, remoteID), nil)
	if err != nil {
		return nil, err
	}
	if secret != "" {
		req.Header.Set("mj-api-secret", secret)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch status %d", resp.StatusCode)
	}
	var rt remoteTask
	if err := json.NewDecoder(resp.Body).Decode(&rt); err != nil {
		return nil, fmt.Errorf("decode fetch payload: %w", err)
	}
	return &rt, nil
}

// apply folds one remote snapshot into the local task via the correlator.
func (p *Poller) apply(remoteID string, job pendingJob, rt *remoteTask) {
	inst := p.manager.Get(job.ChannelID)
	if inst == nil {
		p.pending.Remove(remoteID)
		return
	}
	t := inst.FindByNonce(job.Nonce)
	if t == nil {
		// Task finished or timed out locally; stop polling the remote.
		p.pending.Remove(remoteID)
		return
	}

	t.Lock()
	if rt.Properties.MessageID != "" && t.Properties.MessageID == "" {
		t.Properties.MessageID = rt.Properties.MessageID
		inst.AssociateMessage(t.ID, rt.Properties.MessageID)
	}
	if rt.Properties.MessageHash != "" {
		t.Properties.MessageHash = rt.Properties.MessageHash
	}
	if rt.Properties.FinalPrompt != "" && t.Properties.FinalPrompt == "" {
		t.Properties.FinalPrompt = rt.Properties.FinalPrompt
	}
	taskID := t.ID
	t.Unlock()

	terminal := rt.Status.Terminal()
	p.correlator.OnRelayUpdate(job.ChannelID, taskID, rt.Progress, rt.ImageURL, rt.FailReason, rt.Buttons, terminal)
	if terminal {
		p.pending.Remove(remoteID)
	}
}
