package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AccountChooseRule != "BestWaitIdle" {
		t.Errorf("rule = %q", cfg.AccountChooseRule)
	}
	if cfg.Database.Mode != "sqlite" {
		t.Errorf("db mode = %q", cfg.Database.Mode)
	}
	if cfg.Proxy.PollIntervalSeconds != 10 {
		t.Errorf("poll interval = %d", cfg.Proxy.PollIntervalSeconds)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// JSON5: comments and trailing commas are fine.
	body := `{
		// scheduling
		accountChooseRule: "Polling",
		idleBias: 2,
		accounts: [
			{channelId: "c1", userToken: "tok", enable: true, enableMj: true, coreSize: 3, queueSize: 10, timeoutMinutes: 5},
		],
		notify: {wsAddr: ":8022"},
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AccountChooseRule != "Polling" || cfg.IdleBias != 2 {
		t.Errorf("scheduling: %q %v", cfg.AccountChooseRule, cfg.IdleBias)
	}
	accounts := cfg.SnapshotAccounts()
	if len(accounts) != 1 || accounts[0].ChannelID != "c1" || !accounts[0].EnableMj {
		t.Fatalf("accounts: %+v", accounts)
	}
	if cfg.Notify.WsAddr != ":8022" {
		t.Errorf("wsAddr = %q", cfg.Notify.WsAddr)
	}
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("MJPROXY_POSTGRES_DSN", "postgres://u:p@localhost/mj")
	t.Setenv("MJPROXY_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("MJPROXY_TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("MJPROXY_ACCOUNT_CHOOSE_RULE", "Random")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.PostgresDSN != "postgres://u:p@localhost/mj" {
		t.Errorf("dsn = %q", cfg.Database.PostgresDSN)
	}
	if cfg.Database.Mode != "postgres" {
		t.Errorf("mode = %q, want postgres when dsn set", cfg.Database.Mode)
	}
	if cfg.Notify.TelegramToken != "tg-token" || cfg.Notify.TelegramChatID != -100123 {
		t.Errorf("telegram: %q %d", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
	}
	if cfg.AccountChooseRule != "Random" {
		t.Errorf("rule = %q", cfg.AccountChooseRule)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandPath("~/x/y.db"); got != filepath.Join(home, "x/y.db") {
		t.Errorf("got %q", got)
	}
	if got := ExpandPath("/abs/y.db"); got != "/abs/y.db" {
		t.Errorf("absolute path changed: %q", got)
	}
}
