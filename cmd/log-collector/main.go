// Command log-collector is the standalone log-collector daemon
// (spec.md §4.9, C13): it listens for syslog traffic, batches it, and
// pushes batches to the logs backend, authenticating over the
// agent's local IPC surface the same way config-sync does.
package main

import (
	"context"
	"log/slog"
	"os"

	"wayru-agent/internal/config"
	"wayru-agent/internal/console"
	"wayru-agent/internal/httpclient"
	"wayru-agent/internal/ipcclient"
	"wayru-agent/internal/logcollector"
	"wayru-agent/internal/scheduler"
	"wayru-agent/internal/shutdown"
	"wayru-agent/internal/syslogintake"
)

func main() {
	cfg := config.Parse()
	if !cfg.Enabled {
		os.Exit(0)
	}

	sink := console.NewSink(levelFor(cfg.LogLevel))
	logger := console.New(sink, "main")
	logger.Info("starting wayru log-collector")

	registry := shutdown.New(logger)
	ctx, cancel := shutdown.NotifyContext(context.Background())
	defer cancel()

	sched := scheduler.New(console.New(sink, "scheduler"))
	registry.Register(func(string) { sched.Shutdown() })

	tokens := ipcclient.New(cfg.IPCSocketPath, console.New(sink, "ipc-client"))
	if err := tokens.RefreshAccessToken(); err != nil {
		logger.Warn("initial access token refresh failed, will retry on schedule", "error", err)
	}
	sched.ScheduleRepeating(cfg.AccessInterval, cfg.AccessInterval, func(context.Context) {
		if err := tokens.RefreshAccessToken(); err != nil {
			logger.Warn("refreshing access token over IPC failed", "error", err)
		}
	})

	httpClient := httpclient.New(httpclient.Config{})
	collector := logcollector.New(httpClient, tokens, console.New(sink, "log-collector"), logcollector.Config{
		Endpoint:         cfg.LogCollectorEndpoint,
		CollectorVersion: cfg.CollectorVersion,
	})
	sched.ScheduleRepeating(cfg.LogCollectorInterval, cfg.LogCollectorInterval, collector.Tick)

	listener := syslogintake.New(cfg.LogSocketPath, collector, console.New(sink, "syslog"))
	if err := listener.Start(ctx); err != nil {
		logger.Warn("syslog listener unavailable, no logs will be collected", "error", err)
	} else {
		registry.Register(func(string) { _ = listener.Close() })
	}

	logger.Info("log-collector ready", "endpoint", cfg.LogCollectorEndpoint, "socket", cfg.LogSocketPath)

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
