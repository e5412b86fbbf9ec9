// Command config-sync is the standalone config-sync daemon (spec.md
// §4.8, C12): it pulls the remote configuration document, applies
// changed sections through a pluggable renderer, restarts the
// services those sections govern, and rolls back on failure. It
// authenticates its own pulls using the access token served by the
// agent's local IPC surface.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"wayru-agent/internal/config"
	"wayru-agent/internal/configsync"
	"wayru-agent/internal/console"
	"wayru-agent/internal/httpclient"
	"wayru-agent/internal/ipcclient"
	"wayru-agent/internal/scheduler"
	"wayru-agent/internal/shutdown"
)

func main() {
	cfg := config.Parse()
	if !cfg.Enabled {
		os.Exit(0)
	}

	sink := console.NewSink(levelFor(cfg.LogLevel))
	logger := console.New(sink, "main")
	logger.Info("starting wayru config-sync")

	registry := shutdown.New(logger)
	ctx, cancel := shutdown.NotifyContext(context.Background())
	defer cancel()

	sched := scheduler.New(console.New(sink, "scheduler"))
	registry.Register(func(string) { sched.Shutdown() })

	hashDir := filepath.Join(cfg.DataPath, "hash")
	rollbackDir := filepath.Join(cfg.DataPath, "rollback")
	if err := os.MkdirAll(hashDir, 0o755); err != nil {
		logger.Error("creating hash dir failed", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(rollbackDir, 0o755); err != nil {
		logger.Error("creating rollback dir failed", "error", err)
		os.Exit(1)
	}
	store := configsync.NewStore(hashDir, rollbackDir)

	tokens := ipcclient.New(cfg.IPCSocketPath, console.New(sink, "ipc-client"))
	sched.ScheduleRepeating(cfg.AccessInterval, cfg.AccessInterval, func(context.Context) {
		if err := tokens.RefreshAccessToken(); err != nil {
			logger.Warn("refreshing access token over IPC failed", "error", err)
		}
	})
	if err := tokens.RefreshAccessToken(); err != nil {
		logger.Warn("initial access token refresh failed, will retry on schedule", "error", err)
	}

	httpClient := httpclient.New(httpclient.Config{})
	renderer := configsync.ExecRenderer{ScriptsPath: cfg.ScriptsPath, DevEnv: cfg.DevEnv}
	services := configsync.ExecServiceController{}

	sync := configsync.New(httpClient, tokens, renderer, services, store, console.New(sink, "config-sync"), cfg.ConfigSyncEndpoint)
	sched.ScheduleRepeating(cfg.ConfigSyncInterval, cfg.ConfigSyncInterval, sync.Tick)

	logger.Info("config-sync ready", "endpoint", cfg.ConfigSyncEndpoint, "interval", cfg.ConfigSyncInterval)

	if err := sched.Run(ctx); err != nil {
		logger.Warn("scheduler stopped", "error", err)
	}
	registry.Run("signal")
}

func levelFor(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
