package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
	"github.com/WGwuzhi/midjourney-proxy/internal/config"
	"github.com/WGwuzhi/midjourney-proxy/internal/correlator"
	"github.com/WGwuzhi/midjourney-proxy/internal/dict"
	"github.com/WGwuzhi/midjourney-proxy/internal/instance"
	"github.com/WGwuzhi/midjourney-proxy/internal/locks"
	"github.com/WGwuzhi/midjourney-proxy/internal/notify"
	"github.com/WGwuzhi/midjourney-proxy/internal/orchestrator"
	"github.com/WGwuzhi/midjourney-proxy/internal/selector"
	"github.com/WGwuzhi/midjourney-proxy/internal/store"
	"github.com/WGwuzhi/midjourney-proxy/internal/store/memory"
	"github.com/WGwuzhi/midjourney-proxy/internal/store/pg"
	"github.com/WGwuzhi/midjourney-proxy/internal/store/sqlite"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
	"github.com/WGwuzhi/midjourney-proxy/internal/upstream"
	"github.com/WGwuzhi/midjourney-proxy/internal/upstream/discord"
	"github.com/WGwuzhi/midjourney-proxy/internal/upstream/relay"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("open stores", "mode", cfg.Database.Mode, "error", err)
		os.Exit(1)
	}

	// Config-file accounts are seeded into the store so the store is the
	// single source of truth from here on.
	for _, a := range cfg.SnapshotAccounts() {
		if err := stores.Accounts.SaveAccount(a); err != nil {
			slog.Error("seed account", "channelId", a.ChannelID, "error", err)
			os.Exit(1)
		}
	}
	accounts, err := stores.Accounts.ListAccounts()
	if err != nil {
		slog.Error("list accounts", "error", err)
		os.Exit(1)
	}

	registry := account.NewRegistry()
	manager := instance.NewManager()
	corr := correlator.New(registry, manager, stores.Tasks)
	dicts := dict.New(stores.Dicts)
	lockSet := locks.NewLockSet()

	var hub *notify.Hub
	if cfg.Notify.WsAddr != "" {
		hub = notify.NewHub()
	}
	var telegram *notify.Telegram
	if cfg.Notify.TelegramToken != "" {
		telegram, err = notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			slog.Warn("telegram notifier disabled", "error", err)
		}
	}
	notifier := notify.New(cfg, hub, telegram)

	sel := selector.New(selector.Rule(cfg.AccountChooseRule), registry, cfg.IdleBias)
	orch := orchestrator.New(cfg, stores, manager, sel, dicts, lockSet, nil)
	orch.SetSeedWaiter(corr)

	pending := relay.NewPending()
	for _, a := range accounts {
		if !a.Enable {
			continue
		}
		if err := startAccount(ctx, a, stores, corr, manager, registry, notifier, pending); err != nil {
			slog.Error("account start failed", "channelId", a.ChannelID, "error", err)
		}
	}

	sweepStaleTasks(stores.Tasks)

	pollInterval := time.Duration(cfg.Proxy.PollIntervalSeconds) * time.Second
	poller := relay.NewPoller(pending, manager, corr, relaySecrets(registry), pollInterval)
	go poller.Run(ctx)

	var wsServer *http.Server
	if hub != nil {
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		wsServer = &http.Server{Addr: cfg.Notify.WsAddr, Handler: mux}
		go func() {
			slog.Info("task stream listening", "addr", cfg.Notify.WsAddr)
			if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("task stream server", "error", err)
			}
		}()
	}

	if err := config.Watch(ctx, cfgPath, func(next *config.Config) {
		cfg.ReplaceAccounts(next.SnapshotAccounts())
		dicts.ClearBanned()
		dicts.ClearDomains()
		reconcileAccounts(ctx, cfg.SnapshotAccounts(), stores, corr, manager, registry, notifier, pending)
		slog.Info("config reloaded", "path", cfgPath)
	}); err != nil {
		slog.Warn("config watch disabled", "error", err)
	}

	// Pull each chat account's remix/variability switches so the first
	// submit does not race an unknown settings panel.
	for _, a := range registry.All() {
		if a.BackendFamily != task.BackendChat {
			continue
		}
		channelID := a.ChannelID
		go func() {
			orch.SyncSettings(ctx, channelID, task.BotMidjourney)
		}()
	}

	slog.Info("mjproxy started", "accounts", len(registry.All()), "version", Version)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")

	cancel()
	if wsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		wsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	manager.StopAll()
	if hub != nil {
		hub.Close()
	}
}

func openStores(cfg *config.Config) (*store.Stores, error) {
	switch cfg.Database.Mode {
	case "postgres":
		return pg.NewStores(cfg.Database.PostgresDSN)
	case "memory":
		return memory.NewStores(), nil
	default:
		return sqlite.NewStores(config.ExpandPath(cfg.Database.SqlitePath))
	}
}

// startAccount builds the backend sender for one account and registers its
// instance. Chat accounts open a gateway session; cloud accounts are passive
// until the poller sees their pending jobs.
func startAccount(ctx context.Context, a *account.Account, stores *store.Stores,
	corr *correlator.Correlator, manager *instance.Manager, registry *account.Registry,
	notifier *notify.Notifier, pending *relay.Pending) error {

	var sender upstream.Sender
	switch a.BackendFamily {
	case task.BackendChat:
		client, err := discord.New(a, corr.OnEvent)
		if err != nil {
			return err
		}
		if err := client.Start(ctx); err != nil {
			return err
		}
		sender = client
	default:
		a.Running = true
		sender = relay.New(a, pending)
	}

	inst := instance.New(a, stores.Tasks, sender, notifier.OnTaskChange)
	manager.Put(inst)
	registry.Put(a)
	slog.Info("account online", "channelId", a.ChannelID, "backend", a.BackendFamily)
	return nil
}

// reconcileAccounts applies a reloaded account list: new accounts come up,
// removed accounts stop. Edits to a live account need a remove/re-add cycle.
func reconcileAccounts(ctx context.Context, next []*account.Account, stores *store.Stores,
	corr *correlator.Correlator, manager *instance.Manager, registry *account.Registry,
	notifier *notify.Notifier, pending *relay.Pending) {

	seen := make(map[string]bool, len(next))
	for _, a := range next {
		seen[a.ChannelID] = true
		if manager.Get(a.ChannelID) != nil {
			continue
		}
		if !a.Enable {
			continue
		}
		if err := stores.Accounts.SaveAccount(a); err != nil {
			slog.Error("save account", "channelId", a.ChannelID, "error", err)
			continue
		}
		if err := startAccount(ctx, a, stores, corr, manager, registry, notifier, pending); err != nil {
			slog.Error("account start failed", "channelId", a.ChannelID, "error", err)
		}
	}
	for _, inst := range manager.All() {
		id := inst.ChannelID()
		if seen[id] {
			continue
		}
		inst.Stop()
		manager.Remove(id)
		registry.Remove(id)
		slog.Info("account offline", "channelId", id)
	}
}

// sweepStaleTasks fails tasks left mid-flight by a previous run. Their
// gateway correlation state is gone, so they can never finish.
func sweepStaleTasks(tasks store.TaskStore) {
	stale, err := tasks.List(store.TaskQuery{
		Statuses: []task.Status{task.StatusSubmitted, task.StatusInProgress, task.StatusModal},
	})
	if err != nil {
		slog.Warn("stale task sweep failed", "error", err)
		return
	}
	for _, t := range stale {
		t.Fail("service restarted")
		if err := tasks.Save(t); err != nil {
			slog.Warn("stale task save failed", "taskId", t.ID, "error", err)
		}
	}
	if len(stale) > 0 {
		slog.Info("failed stale tasks from previous run", "count", len(stale))
	}
}

func relaySecrets(registry *account.Registry) func(string) (string, string, bool) {
	return func(channelID string) (string, string, bool) {
		a := registry.ByChannel(channelID)
		if a == nil || a.APIURL == "" {
			return "", "", false
		}
		return a.APIURL, a.APISecret, true
	}
}
