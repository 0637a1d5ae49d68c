// Package notify fans task changes out to the interested parties: the
// per-task webhook, the websocket subscribers, and the operator's Telegram
// chat on failures.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/WGwuzhi/midjourney-proxy/internal/config"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

const (
	hookRetries = 2
	hookBackoff = 2 * time.Second
)

// Notifier is the task-change fanout. Wire its Listener into each instance.
type Notifier struct {
	cfg      *config.Config
	http     *http.Client
	hub      *Hub
	telegram *Telegram
}

// New builds a notifier. hub and telegram may be nil.
func New(cfg *config.Config, hub *Hub, telegram *Telegram) *Notifier {
	return &Notifier{
		cfg:      cfg,
		http:     &http.Client{Timeout: 30 * time.Second},
		hub:      hub,
		telegram: telegram,
	}
}

// OnTaskChange is the instance listener: push progress, post the webhook,
// and alert the operator on failures.
func (n *Notifier) OnTaskChange(t *task.Task) {
	if t == nil {
		return
	}
	t.Lock()
	snapshot := t.Clone()
	t.Unlock()

	if n.hub != nil {
		n.hub.Broadcast(snapshot)
	}

	hook := snapshot.Properties.NotifyHook
	if hook == "" {
		hook = n.cfg.Notify.DefaultHook
	}
	if hook != "" {
		go n.postHook(hook, snapshot)
	}

	if snapshot.Status == task.StatusFailure && n.telegram != nil {
		go n.telegram.Alert(fmt.Sprintf("task %s failed on %s: %s",
			snapshot.ID, snapshot.InstanceID, snapshot.FailReason))
	}
}

// postHook POSTs the task JSON to the hook, retrying twice with backoff.
func (n *Notifier) postHook(hook string, t *task.Task) {
	body, err := json.Marshal(t)
	if err != nil {
		slog.Error("marshal task for hook", "task_id", t.ID, "error", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= hookRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(hookBackoff * time.Duration(attempt))
		}
		lastErr = n.post(hook, body)
		if lastErr == nil {
			return
		}
	}
	slog.Warn("notify hook failed", "task_id", t.ID, "hook", hook, "error", lastErr)
}

func (n *Notifier) post(hook string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("hook status %d", resp.StatusCode)
	}
	return nil
}
