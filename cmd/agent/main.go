// Command agent is the wayru-agent device daemon: it registers the
// device, maintains an access token, drives the scheduler-hosted
// components (MQTT, NDS pump, device-status reporting, firmware and
// package updates), and serves the local IPC surface config-sync and
// log-collector read from.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"wayru-agent/internal/accesstoken"
	"wayru-agent/internal/config"
	"wayru-agent/internal/console"
	"wayru-agent/internal/credstore"
	"wayru-agent/internal/devicefacts"
	"wayru-agent/internal/devicemodel"
	"wayru-agent/internal/devicestatus"
	"wayru-agent/internal/httpclient"
	"wayru-agent/internal/ipcserver"
	"wayru-agent/internal/mqttclient"
	"wayru-agent/internal/ndspump"
	"wayru-agent/internal/registration"
	"wayru-agent/internal/scheduler"
	"wayru-agent/internal/shutdown"
	"wayru-agent/internal/updater"
)

// ipcHealthInterval is how often the local IPC server's connection
// health is polled (spec.md §4.10).
const ipcHealthInterval = 5 * time.Second

func main() {
	cfg := config.Parse()
	if !cfg.Enabled {
		os.Exit(0)
	}

	sink := console.NewSink(levelFor(cfg.LogLevel))
	logger := console.New(sink, "main")
	logger.Info("starting wayru-agent", "data_path", cfg.DataPath, "dev_env", cfg.DevEnv)

	registry := shutdown.New(logger)
	ctx, cancel := shutdown.NotifyContext(context.Background())
	defer cancel()

	sched := scheduler.New(console.New(sink, "scheduler"))
	registry.Register(func(string) { sched.Shutdown() })

	credStore := credstore.New(cfg.DataPath)

	accountingClient := httpclient.New(httpclient.Config{BaseURL: cfg.AccountingAPI})
	mainClient := httpclient.New(httpclient.Config{BaseURL: cfg.MainAPI})
	devicesClient := httpclient.New(httpclient.Config{BaseURL: cfg.DevicesAPI})

	facts := devicefacts.New(cfg.DataPath, cfg.ScriptsPath, cfg.DevEnv, devicefacts.ExecScriptRunner{}, console.New(sink, "device-facts"))
	device, err := facts.Collect(ctx)
	if err != nil {
		logger.Error("collecting device facts failed", "error", err)
		os.Exit(1)
	}

	reg, err := registration.Bootstrap(ctx, accountingClient, credStore, console.New(sink, "registration"), device)
	if err != nil {
		logger.Error("device registration failed", "error", err)
		os.Exit(1)
	}

	tokenSvc := accesstoken.New(accountingClient, credStore, sched, console.New(sink, "access-token"), reg, cfg.AccessInterval)
	if err := tokenSvc.Init(ctx); err != nil {
		logger.Error("acquiring initial access token failed", "error", err)
		os.Exit(1)
	}
	mainClient.SetToken(tokenSvc.Current().Token)
	devicesClient.SetToken(tokenSvc.Current().Token)

	statusStore := devicemodel.NewStatusStore()
	contextStore := devicemodel.NewContextStore()

	mqttClient := mqttclient.New(mqttclient.Config{
		BrokerURL:    cfg.MQTTBrokerURL,
		ClientID:     reg.WayruDeviceID,
		Username:     tokenSvc.Current().Token,
		CAFile:       filepath.Join(cfg.DataPath, "mqtt-ca.crt"),
		CertFile:     filepath.Join(cfg.DataPath, "mqtt.crt"),
		KeyFile:      filepath.Join(cfg.DataPath, "mqtt.key"),
		KeepAlive:    cfg.MQTTKeepAlive,
		TaskInterval: cfg.MQTTTaskInterval,
	}, console.New(sink, "mqtt"), nil)
	mqttService := mqttclient.NewService(mqttClient, console.New(sink, "mqtt-fsm"), registry.RequestExit)
	mqttService.Start(sched, cfg.MQTTTaskInterval)

	tokenSvc.Subscribe(func(tok devicemodel.AccessToken) {
		mainClient.SetToken(tok.Token)
		devicesClient.SetToken(tok.Token)
		mqttClient.RefreshCredentials(tok.Token)
	})
	tokenSvc.StartRefreshTask(tokenSvc.NextDelay())

	reporter := devicestatus.New(mainClient, device, statusStore, console.New(sink, "device-status"), cfg.DeviceStatusInterval)
	sched.ScheduleRepeating(cfg.DeviceStatusInterval, cfg.DeviceStatusInterval, reporter.Tick)

	ctxRefresher := devicestatus.NewContextRefresher(accountingClient, device, contextStore, console.New(sink, "device-context"))
	sched.ScheduleRepeating(cfg.DeviceContextInterval, cfg.DeviceContextInterval, ctxRefresher.Tick)

	fifoPath := filepath.Join(cfg.TempPath, "wayru-os-services", "nds-fifo")
	pump, err := ndspump.New(console.New(sink, "nds"), fifoPath, device.MAC, contextStore, mqttClient)
	if err != nil {
		logger.Warn("NDS pump unavailable, captive-portal events will not be published", "error", err)
	} else {
		sched.ScheduleRepeating(cfg.NDSInterval, cfg.NDSInterval, pump.Tick)
		registry.Register(func(string) { _ = pump.Close() })
	}

	if cfg.PackageUpdateEnabled {
		pkgMarker := filepath.Join(cfg.TempPath, "wayru-package-update-marker")
		pkgUpdater := updater.NewPackageUpdater(devicesClient, device, console.New(sink, "package-updater"),
			updater.ExecScriptRunner{}, filepath.Join(cfg.TempPath, "package-update.bin"), pkgMarker,
			filepath.Join(cfg.ScriptsPath, "apply-package-update.sh"))
		sched.ScheduleRepeating(cfg.PackageUpdateInterval, cfg.PackageUpdateInterval, pkgUpdater.PackageTick)
	}

	if cfg.FirmwareUpdateEnabled {
		fwMarker := "/tmp/wayru-os-services-update-marker"
		fwUpdater := updater.NewFirmwareUpdater(accountingClient, device, console.New(sink, "firmware-updater"),
			updater.ExecScriptRunner{}, filepath.Join(cfg.TempPath, "firmware-update.bin"), fwMarker,
			filepath.Join(cfg.ScriptsPath, "apply-firmware-update.sh"))
		sched.ScheduleRepeating(cfg.FirmwareUpdateInterval, cfg.FirmwareUpdateInterval, fwUpdater.FirmwareTick)
	}

	ipcSrv := ipcserver.New(cfg.IPCSocketPath, tokenSvc, device, reg, statusStore, console.New(sink, "ipc-server"))
	if err := ipcSrv.Start(ctx); err != nil {
		logger.Error("starting local IPC server failed", "error", err)
		os.Exit(1)
	}
	registry.Register(func(string) { _ = ipcSrv.Close() })
	sched.ScheduleRepeating(ipcHealthInterval, ipcHealthInterval, ipcSrv.HealthTick)

	logger.Info("wayru-agent ready", "wayru_device_id", reg.WayruDeviceID)

	if err := sched.Run(ctx); err != nil {
		logger.Warn("scheduler stopped", "error", err)
	}

	reason := registry.ShutdownReason()
	if reason == "" {
		reason = "signal"
	}
	registry.Run(reason)
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
