// Package config provides agent configuration from environment
// variables, following the same envOr/envIntOr/envDurationOr pattern
// used across every wayru-agent binary.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the options listed in spec.md §6's configuration
// table. Values come from env vars or the documented defaults.
type Config struct {
	// --- Runtime shortcuts ---

	// DevEnv enables dev shortcuts: privileged I/O and hardware reads
	// are skipped in favor of synthetic facts (env: DEV_ENV).
	DevEnv bool

	// Enabled gates the whole process; if false the binary exits 0
	// immediately after parsing config (env: ENABLED).
	Enabled bool

	// --- API base URLs ---

	MainAPI       string // env: MAIN_API
	AccountingAPI string // env: ACCOUNTING_API
	DevicesAPI    string // env: DEVICES_API

	// --- Cadences ---

	AccessInterval        time.Duration // env: ACCESS_INTERVAL (s)
	DeviceStatusInterval   time.Duration // env: DEVICE_STATUS_INTERVAL (s)

	MonitoringEnabled     bool          // env: MONITORING_ENABLED
	MonitoringIntervalMin time.Duration // env: MONITORING_INTERVAL_MIN (s)
	MonitoringIntervalMax time.Duration // env: MONITORING_INTERVAL_MAX (s)

	FirmwareUpdateEnabled  bool          // env: FIRMWARE_UPDATE_ENABLED
	FirmwareUpdateInterval time.Duration // env: FIRMWARE_UPDATE_INTERVAL (s)

	PackageUpdateEnabled  bool          // env: PACKAGE_UPDATE_ENABLED
	PackageUpdateInterval time.Duration // env: PACKAGE_UPDATE_INTERVAL (s)

	SpeedTestEnabled           bool          // env: SPEED_TEST_ENABLED
	SpeedTestIntervalMin       time.Duration // env: SPEED_TEST_INTERVAL_MIN (s)
	SpeedTestIntervalMax       time.Duration // env: SPEED_TEST_INTERVAL_MAX (s)
	SpeedTestLatencyAttempts   int           // env: SPEED_TEST_LATENCY_ATTEMPTS

	DeviceContextInterval time.Duration // env: DEVICE_CONTEXT_INTERVAL (s)

	MQTTBrokerURL     string        // env: MQTT_BROKER_URL
	MQTTKeepAlive     time.Duration // env: MQTT_KEEPALIVE (s)
	MQTTTaskInterval  time.Duration // env: MQTT_TASK_INTERVAL (s)

	RebootEnabled  bool          // env: REBOOT_ENABLED
	RebootInterval time.Duration // env: REBOOT_INTERVAL (s)

	DiagnosticInterval time.Duration // env: DIAGNOSTIC_INTERVAL (s)
	NDSInterval        time.Duration // env: NDS_INTERVAL (s)

	TimeSyncServer   string        // env: TIME_SYNC_SERVER
	TimeSyncInterval time.Duration // env: TIME_SYNC_INTERVAL (s)

	// --- Filesystem locations ---

	DataPath    string // env: DATA_PATH
	ScriptsPath string // env: SCRIPTS_PATH
	TempPath    string // env: TEMP_PATH

	// --- Process-local IPC (agent <-> config-sync / log-collector) ---

	IPCSocketPath string // env: IPC_SOCKET_PATH

	// --- Config-sync / log-collector specific ---

	ConfigSyncEndpoint      string        // env: CONFIG_SYNC_ENDPOINT
	ConfigSyncInterval      time.Duration // env: CONFIG_SYNC_INTERVAL (s)
	LogCollectorEndpoint    string        // env: LOG_COLLECTOR_ENDPOINT
	LogCollectorInterval    time.Duration // env: LOG_COLLECTOR_INTERVAL (s)
	LogSocketPath           string        // env: LOG_SOCKET_PATH
	CollectorVersion        string        // env: COLLECTOR_VERSION

	// --- Logging ---

	LogLevel string // env: LOG_LEVEL
}

// Parse reads configuration from environment variables, applying
// spec.md §6's defaults where unset.
func Parse() *Config {
	return &Config{
		DevEnv:  envBoolOr("DEV_ENV", false),
		Enabled: envBoolOr("ENABLED", true),

		MainAPI:       envOr("MAIN_API", "https://api.wayru.io"),
		AccountingAPI: envOr("ACCOUNTING_API", "https://accounting.wayru.io"),
		DevicesAPI:    envOr("DEVICES_API", "https://devices.wayru.io"),

		AccessInterval:       envSecondsOr("ACCESS_INTERVAL", 3600*time.Second),
		DeviceStatusInterval: envSecondsOr("DEVICE_STATUS_INTERVAL", 300*time.Second),

		MonitoringEnabled:     envBoolOr("MONITORING_ENABLED", true),
		MonitoringIntervalMin: envSecondsOr("MONITORING_INTERVAL_MIN", 60*time.Second),
		MonitoringIntervalMax: envSecondsOr("MONITORING_INTERVAL_MAX", 120*time.Second),

		FirmwareUpdateEnabled:  envBoolOr("FIRMWARE_UPDATE_ENABLED", true),
		FirmwareUpdateInterval: envSecondsOr("FIRMWARE_UPDATE_INTERVAL", 3600*time.Second),

		PackageUpdateEnabled:  envBoolOr("PACKAGE_UPDATE_ENABLED", true),
		PackageUpdateInterval: envSecondsOr("PACKAGE_UPDATE_INTERVAL", 3600*time.Second),

		SpeedTestEnabled:         envBoolOr("SPEED_TEST_ENABLED", false),
		SpeedTestIntervalMin:     envSecondsOr("SPEED_TEST_INTERVAL_MIN", 3600*time.Second),
		SpeedTestIntervalMax:     envSecondsOr("SPEED_TEST_INTERVAL_MAX", 7200*time.Second),
		SpeedTestLatencyAttempts: envIntOr("SPEED_TEST_LATENCY_ATTEMPTS", 3),

		DeviceContextInterval: envSecondsOr("DEVICE_CONTEXT_INTERVAL", 300*time.Second),

		MQTTBrokerURL:    envOr("MQTT_BROKER_URL", "ssl://mqtt.wayru.io:8883"),
		MQTTKeepAlive:    envSecondsOr("MQTT_KEEPALIVE", 60*time.Second),
		MQTTTaskInterval: envSecondsOr("MQTT_TASK_INTERVAL", 5*time.Second),

		RebootEnabled:  envBoolOr("REBOOT_ENABLED", false),
		RebootInterval: envSecondsOr("REBOOT_INTERVAL", 86400*time.Second),

		DiagnosticInterval: envSecondsOr("DIAGNOSTIC_INTERVAL", 600*time.Second),
		NDSInterval:        envSecondsOr("NDS_INTERVAL", 2*time.Second),

		TimeSyncServer:   envOr("TIME_SYNC_SERVER", "pool.ntp.org"),
		TimeSyncInterval: envSecondsOr("TIME_SYNC_INTERVAL", 3600*time.Second),

		DataPath:    envOr("DATA_PATH", "/etc/wayru"),
		ScriptsPath: envOr("SCRIPTS_PATH", "/usr/share/wayru/scripts"),
		TempPath:    envOr("TEMP_PATH", "/tmp"),

		IPCSocketPath: envOr("IPC_SOCKET_PATH", "/var/run/wayru-agent.sock"),

		ConfigSyncEndpoint:   os.Getenv("CONFIG_SYNC_ENDPOINT"),
		ConfigSyncInterval:   envSecondsOr("CONFIG_SYNC_INTERVAL", 300*time.Second),
		LogCollectorEndpoint: os.Getenv("LOG_COLLECTOR_ENDPOINT"),
		LogCollectorInterval: envSecondsOr("LOG_COLLECTOR_INTERVAL", 10*time.Second),
		LogSocketPath:        envOr("LOG_SOCKET_PATH", "/dev/log"),
		CollectorVersion:     envOr("COLLECTOR_VERSION", "1"),

		LogLevel: envOr("LOG_LEVEL", "info"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envSecondsOr reads an integer number of seconds, matching spec.md
// §6's "(s)" configuration options, falling back to a duration
// default when unset or unparsable.
func envSecondsOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
