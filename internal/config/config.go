// Package config holds the proxy configuration: accounts, scheduling rules,
// feature switches, storage and notification settings.
package config

import (
	"sync"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
)

// Config is the root configuration. Guarded by a RWMutex so the fsnotify
// reload path can swap sections while workers read.
type Config struct {
	Accounts []*account.Account `json:"accounts,omitempty"`

	// AccountChooseRule: BestWaitIdle (default), Random, Weight, Polling.
	AccountChooseRule string  `json:"accountChooseRule,omitempty"`
	IdleBias          float64 `json:"idleBias,omitempty"`

	EnableVerticalDomain         bool `json:"enableVerticalDomain,omitempty"`
	EnableUserCustomUploadBase64 bool `json:"enableUserCustomUploadBase64,omitempty"`
	EnableSaveUserUploadLink     bool `json:"enableSaveUserUploadLink,omitempty"`
	EnableYouChuanPromptLink     bool `json:"enableYouChuanPromptLink,omitempty"`
	EnableConvertNijiToMj        bool `json:"enableConvertNijiToMj,omitempty"`
	EnableVideo                  bool `json:"enableVideo,omitempty"`
	EnableAutoSubmitRemix        bool `json:"enableAutoSubmitRemix,omitempty"`

	Database DatabaseConfig `json:"database,omitempty"`
	Notify   NotifyConfig   `json:"notify,omitempty"`
	Proxy    ProxyConfig    `json:"proxy,omitempty"`

	mu sync.RWMutex
}

// DatabaseConfig selects the storage backend. Mode "sqlite" (default) keeps a
// local file database; "postgres" requires MJPROXY_POSTGRES_DSN in the env.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"`       // "sqlite" | "postgres" | "memory"
	SqlitePath  string `json:"sqlitePath,omitempty"` // default ~/.mjproxy/mjproxy.db
	PostgresDSN string `json:"-"`                    // env MJPROXY_POSTGRES_DSN only, never persisted
}

// NotifyConfig configures terminal-task fanout.
type NotifyConfig struct {
	// DefaultHook is POSTed the task JSON on every status change when the
	// task carries no hook of its own.
	DefaultHook string `json:"defaultHook,omitempty"`
	// Telegram operator alerts on failures and unhealthy accounts.
	TelegramToken  string `json:"-"` // env MJPROXY_TELEGRAM_TOKEN only
	TelegramChatID int64  `json:"telegramChatId,omitempty"`
	// WebSocket progress push listen address; empty disables the hub.
	WsAddr string `json:"wsAddr,omitempty"`
}

// ProxyConfig configures outbound HTTP behaviour for uploads and relays.
type ProxyConfig struct {
	FetchTimeoutSeconds int `json:"fetchTimeoutSeconds,omitempty"`
	PollIntervalSeconds int `json:"pollIntervalSeconds,omitempty"`
}

// ReplaceAccounts swaps the accounts section under the write lock.
func (c *Config) ReplaceAccounts(accounts []*account.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts = accounts
}

// SnapshotAccounts returns a copy of the accounts section.
func (c *Config) SnapshotAccounts() []*account.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*account.Account(nil), c.Accounts...)
}
