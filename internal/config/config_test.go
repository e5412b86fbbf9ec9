package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOr_Set(t *testing.T) {
	t.Setenv("TEST_ENV_OR", "custom")
	if got := envOr("TEST_ENV_OR", "default"); got != "custom" {
		t.Errorf("envOr = %s, want custom", got)
	}
}

func TestEnvOr_Unset(t *testing.T) {
	os.Unsetenv("TEST_ENV_OR_UNSET")
	if got := envOr("TEST_ENV_OR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("envOr = %s, want fallback", got)
	}
}

func TestEnvOr_Empty(t *testing.T) {
	t.Setenv("TEST_ENV_OR_EMPTY", "")
	if got := envOr("TEST_ENV_OR_EMPTY", "fallback"); got != "fallback" {
		t.Errorf("envOr with empty value = %s, want fallback", got)
	}
}

func TestEnvIntOr_ValidInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := envIntOr("TEST_INT", 0); got != 42 {
		t.Errorf("envIntOr = %d, want 42", got)
	}
}

func TestEnvIntOr_InvalidInt(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "notanumber")
	if got := envIntOr("TEST_INT_BAD", 5); got != 5 {
		t.Errorf("envIntOr with invalid = %d, want 5", got)
	}
}

func TestEnvBoolOr_True(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if got := envBoolOr("TEST_BOOL", false); !got {
		t.Error("envBoolOr = false, want true")
	}
}

func TestEnvBoolOr_Invalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "yes")
	if got := envBoolOr("TEST_BOOL_BAD", true); !got {
		t.Error("envBoolOr with invalid should return fallback true")
	}
}

func TestEnvDurationOr_Valid(t *testing.T) {
	t.Setenv("TEST_DUR", "30s")
	if got := envDurationOr("TEST_DUR", time.Minute); got != 30*time.Second {
		t.Errorf("envDurationOr = %v, want 30s", got)
	}
}

func TestEnvDurationOr_Invalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "notaduration")
	if got := envDurationOr("TEST_DUR_BAD", 2*time.Minute); got != 2*time.Minute {
		t.Errorf("envDurationOr with invalid = %v, want 2m", got)
	}
}

func TestEnvSecondsOr_Valid(t *testing.T) {
	t.Setenv("TEST_SECONDS", "45")
	if got := envSecondsOr("TEST_SECONDS", time.Minute); got != 45*time.Second {
		t.Errorf("envSecondsOr = %v, want 45s", got)
	}
}

func TestEnvSecondsOr_Invalid(t *testing.T) {
	t.Setenv("TEST_SECONDS_BAD", "not-a-number")
	if got := envSecondsOr("TEST_SECONDS_BAD", 90*time.Second); got != 90*time.Second {
		t.Errorf("envSecondsOr with invalid = %v, want 90s", got)
	}
}

func clearAgentEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DEV_ENV", "ENABLED", "MAIN_API", "ACCOUNTING_API", "DEVICES_API",
		"ACCESS_INTERVAL", "DEVICE_STATUS_INTERVAL", "MONITORING_ENABLED",
		"MONITORING_INTERVAL_MIN", "MONITORING_INTERVAL_MAX",
		"FIRMWARE_UPDATE_ENABLED", "FIRMWARE_UPDATE_INTERVAL",
		"PACKAGE_UPDATE_ENABLED", "PACKAGE_UPDATE_INTERVAL",
		"SPEED_TEST_ENABLED", "SPEED_TEST_INTERVAL_MIN", "SPEED_TEST_INTERVAL_MAX",
		"SPEED_TEST_LATENCY_ATTEMPTS", "DEVICE_CONTEXT_INTERVAL",
		"MQTT_BROKER_URL", "MQTT_KEEPALIVE", "MQTT_TASK_INTERVAL",
		"REBOOT_ENABLED", "REBOOT_INTERVAL", "DIAGNOSTIC_INTERVAL", "NDS_INTERVAL",
		"TIME_SYNC_SERVER", "TIME_SYNC_INTERVAL", "DATA_PATH", "SCRIPTS_PATH",
		"TEMP_PATH", "IPC_SOCKET_PATH", "CONFIG_SYNC_ENDPOINT", "CONFIG_SYNC_INTERVAL",
		"LOG_COLLECTOR_ENDPOINT", "LOG_COLLECTOR_INTERVAL", "LOG_SOCKET_PATH",
		"COLLECTOR_VERSION", "LOG_LEVEL",
	} {
		os.Unsetenv(key)
	}
}

func TestParseDefaults(t *testing.T) {
	clearAgentEnv(t)

	cfg := Parse()

	if !cfg.Enabled {
		t.Error("expected Enabled to default true")
	}
	if cfg.DevEnv {
		t.Error("expected DevEnv to default false")
	}
	if cfg.AccessInterval != 3600*time.Second {
		t.Errorf("AccessInterval = %v, want 3600s", cfg.AccessInterval)
	}
	if cfg.DataPath != "/etc/wayru" {
		t.Errorf("DataPath = %q, want /etc/wayru", cfg.DataPath)
	}
	if cfg.IPCSocketPath != "/var/run/wayru-agent.sock" {
		t.Errorf("IPCSocketPath = %q, want /var/run/wayru-agent.sock", cfg.IPCSocketPath)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if !cfg.MonitoringEnabled {
		t.Error("expected MonitoringEnabled to default true")
	}
	if cfg.SpeedTestEnabled {
		t.Error("expected SpeedTestEnabled to default false")
	}
	if cfg.LogSocketPath != "/dev/log" {
		t.Errorf("LogSocketPath = %q, want /dev/log", cfg.LogSocketPath)
	}
	if cfg.LogCollectorInterval != 10*time.Second {
		t.Errorf("LogCollectorInterval = %v, want 10s", cfg.LogCollectorInterval)
	}
}

func TestParseOverridesFromEnv(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("ENABLED", "false")
	t.Setenv("ACCESS_INTERVAL", "120")
	t.Setenv("MONITORING_ENABLED", "false")
	t.Setenv("DATA_PATH", "/tmp/custom")
	t.Setenv("MQTT_BROKER_URL", "ssl://broker.local:8883")

	cfg := Parse()

	if cfg.Enabled {
		t.Error("expected Enabled=false to be honored")
	}
	if cfg.AccessInterval != 120*time.Second {
		t.Errorf("AccessInterval = %v, want 120s", cfg.AccessInterval)
	}
	if cfg.MonitoringEnabled {
		t.Error("expected MonitoringEnabled=false to be honored")
	}
	if cfg.DataPath != "/tmp/custom" {
		t.Errorf("DataPath = %q, want /tmp/custom", cfg.DataPath)
	}
	if cfg.MQTTBrokerURL != "ssl://broker.local:8883" {
		t.Errorf("MQTTBrokerURL = %q, want ssl://broker.local:8883", cfg.MQTTBrokerURL)
	}
}

func TestParseDeviceStatusIntervalFallsBackOnUnparsable(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("DEVICE_STATUS_INTERVAL", "not-a-number")

	cfg := Parse()
	if cfg.DeviceStatusInterval != 300*time.Second {
		t.Errorf("DeviceStatusInterval = %v, want default 300s on unparsable input", cfg.DeviceStatusInterval)
	}
}
