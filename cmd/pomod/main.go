// Package main provides the pomod daemon entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pomodui/pomod/internal/config"
	"github.com/pomodui/pomod/internal/db/history"
	"github.com/pomodui/pomod/internal/db/sqlite"
	"github.com/pomodui/pomod/internal/notify"
	"github.com/pomodui/pomod/internal/scheduler"
	"github.com/pomodui/pomod/internal/settings"
	"github.com/pomodui/pomod/internal/storage"
	"github.com/pomodui/pomod/internal/timer"
	"github.com/pomodui/pomod/internal/watcher"
	"github.com/pomodui/pomod/internal/worker"
	"github.com/pomodui/pomod/internal/worker/sse"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	port := flag.Int("port", 0, "HTTP port (default: from config)")
	dataDir := flag.String("data-dir", "", "Data directory (default: ~/.pomod)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if *dataDir != "" {
		config.SetDataDir(*dataDir)
	}

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *port != 0 {
		cfg.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	store, err := sqlite.NewStore(sqlite.StoreConfig{
		Path:     config.DBPath(),
		MaxConns: cfg.MaxConns,
		WALMode:  true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize state store")
	}
	defer store.Close()
	localKV := sqlite.NewKVStore(store)

	historyStore, err := history.NewStore(history.Config{
		Path:     config.HistoryDBPath(),
		Cap:      cfg.HistoryCap,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history store")
	}
	defer historyStore.Close()

	// Synced scope is optional: a Redis endpoint shared across machines.
	// Without one (or when it is unreachable) everything stays local.
	var syncedKV storage.KV
	var syncedPusher storage.ListPusher
	if cfg.SyncAddr != "" {
		redisKV := storage.NewRedisKV(cfg.SyncAddr, "pomod")
		if err := redisKV.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.SyncAddr).Msg("Sync backend unreachable, running local-only")
			_ = redisKV.Close()
		} else {
			syncedKV = redisKV
			syncedPusher = redisKV
			defer redisKV.Close()
		}
	}

	settingsMgr := settings.NewManager(ctx, storage.NewSyncedStore(syncedKV, localKV), cfg.Timer)
	sched := scheduler.New()
	defer sched.Stop()
	broadcaster := sse.NewBroadcaster()
	notifier := notify.New(cfg.NotifyCommand, cfg.SoundCommand)

	engine := timer.New(timer.Config{
		Settings:    settingsMgr,
		Scheduler:   sched,
		Local:       localKV,
		Synced:      storage.NewSyncedStore(syncedKV, localKV),
		History:     storage.NewMirroredHistory(historyStore, syncedPusher, cfg.HistoryCap),
		Notifier:    notifier,
		Broadcaster: broadcaster,
	})
	engine.Recover(ctx)

	// Reload works in place: edits to config.yaml adjust the fallback
	// durations without restarting the daemon.
	configWatcher, err := watcher.New(config.ConfigPath(), func() {
		reloaded, err := config.Load()
		if err != nil {
			log.Warn().Err(err).Msg("Config reload failed, keeping current settings")
			return
		}
		settingsMgr.SetFallback(reloaded.Timer)
		log.Info().Msg("Config reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else if err := configWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Config watcher failed to start")
	} else {
		defer configWatcher.Stop()
	}

	svc := worker.New(worker.Options{
		Version:      Version,
		Config:       cfg,
		Engine:       engine,
		HistoryStore: historyStore,
		Settings:     settingsMgr,
		Broadcaster:  broadcaster,
	})

	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Worker exited with error")
	}
}
