package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		AccountChooseRule: "BestWaitIdle",
		IdleBias:          1,
		Database: DatabaseConfig{
			Mode:       "sqlite",
			SqlitePath: "~/.mjproxy/mjproxy.db",
		},
		Proxy: ProxyConfig{
			FetchTimeoutSeconds: 30,
			PollIntervalSeconds: 10,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays secrets and overrides. Secrets never come from the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MJPROXY_POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
		if cfg.Database.Mode == "" || cfg.Database.Mode == "sqlite" {
			cfg.Database.Mode = "postgres"
		}
	}
	if v := os.Getenv("MJPROXY_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("MJPROXY_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notify.TelegramChatID = id
		}
	}
	if v := os.Getenv("MJPROXY_ACCOUNT_CHOOSE_RULE"); v != "" {
		cfg.AccountChooseRule = v
	}
}

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(p string) string {
	if len(p) >= 2 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
