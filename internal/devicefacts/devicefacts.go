// Package devicefacts collects the one-time startup facts that make
// up devicemodel.DeviceInfo: OS version, services version, MAC
// address, device profile, device id, public IP, and DID public key.
//
// Grounded on original_source/source/services/device_info.c: real
// facts are read from fixed files (/etc/openwrt_release, the
// wayru-os-services VERSION file, /etc/wayru-os/device.json) or
// collected by running small shell scripts under scripts_path
// (get-mac.sh, get-public-ip.sh, get-osname.sh); dev_env mode returns
// the original's own synthetic literals instead of touching any of
// that.
package devicefacts

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"wayru-agent/internal/devicemodel"
	"wayru-agent/internal/didkey"
)

const (
	osVersionFile      = "/etc/openwrt_release"
	packageVersionFile = "/etc/wayru-os-services/VERSION"
	deviceProfileFile  = "/etc/wayru-os/device.json"
	deviceIDFile       = "device-id"
)

type deviceProfile struct {
	Name  string `json:"name"`
	Brand string `json:"brand"`
	Model string `json:"model"`
}

// ScriptRunner runs a script and returns its captured, trimmed
// stdout, matching the original's run_script() helper.
type ScriptRunner interface {
	Output(ctx context.Context, script string) (string, error)
}

// ExecScriptRunner runs scripts as OS processes via os/exec.
type ExecScriptRunner struct{}

func (ExecScriptRunner) Output(ctx context.Context, script string) (string, error) {
	out, err := exec.CommandContext(ctx, script).Output()
	if err != nil {
		return "", fmt.Errorf("running %s: %w", script, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Collector gathers DeviceInfo once at startup.
type Collector struct {
	dataPath    string
	scriptsPath string
	devEnv      bool
	runner      ScriptRunner
	logger      *slog.Logger
}

// New constructs a Collector.
func New(dataPath, scriptsPath string, devEnv bool, runner ScriptRunner, logger *slog.Logger) *Collector {
	return &Collector{dataPath: dataPath, scriptsPath: scriptsPath, devEnv: devEnv, runner: runner, logger: logger}
}

// Collect gathers every DeviceInfo field, following dev_env shortcuts
// where the original does.
func (c *Collector) Collect(ctx context.Context) (devicemodel.DeviceInfo, error) {
	mac, err := c.mac(ctx)
	if err != nil {
		return devicemodel.DeviceInfo{}, err
	}
	profile := c.profile()
	deviceID, err := c.deviceID()
	if err != nil {
		return devicemodel.DeviceInfo{}, err
	}
	publicIP, err := c.publicIP(ctx)
	if err != nil {
		c.logger.Warn("devicefacts: could not determine public ip", "error", err)
	}
	osName, err := c.osName(ctx)
	if err != nil {
		c.logger.Warn("devicefacts: could not determine os name", "error", err)
	}
	pubKey, err := didkey.GenerateOrLoad(c.dataPath)
	if err != nil {
		return devicemodel.DeviceInfo{}, fmt.Errorf("devicefacts: did key: %w", err)
	}

	return devicemodel.DeviceInfo{
		ID:              deviceID,
		MAC:             mac,
		Name:            profile.Name,
		Brand:           profile.Brand,
		Model:           profile.Model,
		Arch:            runtime.GOARCH,
		OSName:          osName,
		OSVersion:       c.osVersion(),
		ServicesVersion: c.servicesVersion(),
		PublicIP:        publicIP,
		DIDPublicKey:    pubKey,
	}, nil
}

func (c *Collector) osVersion() string {
	if c.devEnv {
		return "23.0.4"
	}
	f, err := os.Open(osVersionFile)
	if err != nil {
		c.logger.Warn("devicefacts: opening os version file", "error", err)
		return ""
	}
	defer f.Close()

	var release string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "DISTRIB_RELEASE") {
			release = strings.Trim(strings.TrimPrefix(line, "DISTRIB_RELEASE="), "'\"")
		}
	}
	return release
}

func (c *Collector) servicesVersion() string {
	if c.devEnv {
		return "1.0.0"
	}
	data, err := os.ReadFile(packageVersionFile)
	if err != nil {
		c.logger.Warn("devicefacts: reading services version file", "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (c *Collector) mac(ctx context.Context) (string, error) {
	if c.devEnv {
		return "de:ad:be:ef:00:01", nil
	}
	return c.runner.Output(ctx, filepath.Join(c.scriptsPath, "get-mac.sh"))
}

func (c *Collector) profile() deviceProfile {
	if c.devEnv {
		return deviceProfile{Name: "Hemera", Brand: "Wayru", Model: "Genesis"}
	}
	data, err := os.ReadFile(deviceProfileFile)
	if err != nil {
		c.logger.Warn("devicefacts: reading device profile file", "error", err)
		return deviceProfile{}
	}
	var p deviceProfile
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Warn("devicefacts: parsing device profile file", "error", err)
		return deviceProfile{}
	}
	return p
}

func (c *Collector) publicIP(ctx context.Context) (string, error) {
	if c.devEnv {
		return "127.0.0.1", nil
	}
	return c.runner.Output(ctx, filepath.Join(c.scriptsPath, "get-public-ip.sh"))
}

func (c *Collector) osName(ctx context.Context) (string, error) {
	if c.devEnv {
		return "OpenWrt", nil
	}
	return c.runner.Output(ctx, filepath.Join(c.scriptsPath, "get-osname.sh"))
}

// deviceID returns a persisted random device id, generating one on
// first call. The original derives this from a hardware UUID source;
// a locally generated and persisted id is the idiomatic Go substitute
// since no such hardware call is available outside the original C
// runtime.
func (c *Collector) deviceID() (string, error) {
	path := filepath.Join(c.dataPath, deviceIDFile)
	if data, err := os.ReadFile(path); err == nil {
		return strings.TrimSpace(string(data)), nil
	}

	id, err := randomDeviceID()
	if err != nil {
		return "", fmt.Errorf("devicefacts: generating device id: %w", err)
	}
	if err := os.MkdirAll(c.dataPath, 0o755); err != nil {
		return "", fmt.Errorf("devicefacts: creating data path: %w", err)
	}
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("devicefacts: persisting device id: %w", err)
	}
	return id, nil
}
