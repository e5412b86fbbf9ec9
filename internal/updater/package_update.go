package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"wayru-agent/internal/devicemodel"
	"wayru-agent/internal/httpclient"
)

// ScriptRunner executes an external upgrade script and waits for it to
// finish. Shell execution itself is out of scope for this package
// (spec.md's Non-goals) so it is abstracted behind this interface;
// ExecScriptRunner below is the default implementation, grounded on
// cmd/gb/hook.go's exec.CommandContext usage.
type ScriptRunner interface {
	Run(ctx context.Context, script string, args ...string) error
}

// ExecScriptRunner runs scripts with os/exec.
type ExecScriptRunner struct{}

// PackageCheckResponse is the response from the package-update check
// endpoint. UpdateAvailable is a plain boolean here; spec.md §9 flags
// that the firmware updater's equivalent field is tri-state and the
// two must not be unified.
type PackageCheckResponse struct {
	UpdateAvailable bool   `json:"update_available"`
	DownloadLink    string `json:"download_link"`
	Checksum        string `json:"checksum"`
	NewVersion      string `json:"new_version"`
}

type packageCheckRequest struct {
	PackageName    string `json:"package_name"`
	Architecture   string `json:"architecture"`
	CurrentVersion string `json:"current_version"`
	WayruDeviceID  string `json:"wayru_device_id"`
}

type packageStatusRequest struct {
	WayruDeviceID string `json:"wayru_device_id"`
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	Error         string `json:"error,omitempty"`
}

// PackageUpdater implements the Wayru-package updater (spec.md §4.7):
// check the control plane, download and verify a signed .ipk, hand it
// to opkg, and confirm completion across the following boot.
type PackageUpdater struct {
	http       *httpclient.Client
	device     devicemodel.DeviceInfo
	logger     *slog.Logger
	runner     ScriptRunner
	downloadTo string
	markerPath string
	upgradeSh  string
}

// NewPackageUpdater constructs a PackageUpdater. downloadTo is the
// directory the .ipk is staged in; markerPath and upgradeScript come
// from spec.md §6's configuration table.
func NewPackageUpdater(http *httpclient.Client, device devicemodel.DeviceInfo, logger *slog.Logger, runner ScriptRunner, downloadTo, markerPath, upgradeScript string) *PackageUpdater {
	return &PackageUpdater{
		http:       http,
		device:     device,
		logger:     logger,
		runner:     runner,
		downloadTo: downloadTo,
		markerPath: markerPath,
		upgradeSh:  upgradeScript,
	}
}

// Check asks the control plane whether a newer wayru-agent package is
// available for this device's architecture and currently-running
// version.
func (u *PackageUpdater) Check(ctx context.Context) (*PackageCheckResponse, error) {
	req := packageCheckRequest{
		PackageName:    "wayru-agent",
		Architecture:   u.device.Arch,
		CurrentVersion: u.device.ServicesVersion,
		WayruDeviceID:  u.device.ID,
	}
	var resp PackageCheckResponse
	if err := u.http.PostJSON(ctx, "/api/nfnode/package-update/check", req, &resp); err != nil {
		return nil, fmt.Errorf("checking for package update: %w", err)
	}
	return &resp, nil
}

// Apply downloads, verifies, and stages the update described by resp,
// then invokes the upgrade script. A marker is written before the
// script runs so a reboot mid-upgrade can still be confirmed on the
// other side (spec.md §4.7).
func (u *PackageUpdater) Apply(ctx context.Context, resp *PackageCheckResponse) error {
	if !resp.UpdateAvailable {
		return nil
	}

	u.reportStatus(ctx, "downloading", resp.NewVersion, "")

	destPath := filepath.Join(u.downloadTo, "wayru-agent-update.ipk")
	if err := u.download(ctx, resp.DownloadLink, destPath); err != nil {
		u.reportStatus(ctx, "failed", resp.NewVersion, err.Error())
		return fmt.Errorf("downloading package update: %w", err)
	}

	if err := VerifyChecksum(destPath, resp.Checksum); err != nil {
		_ = os.Remove(destPath)
		u.reportStatus(ctx, "failed", resp.NewVersion, err.Error())
		return fmt.Errorf("verifying package update: %w", err)
	}

	if err := WriteMarker(u.markerPath, resp.NewVersion); err != nil {
		return fmt.Errorf("writing package update marker: %w", err)
	}

	u.reportStatus(ctx, "applying", resp.NewVersion, "")
	if err := u.runner.Run(ctx, u.upgradeSh, destPath); err != nil {
		u.reportStatus(ctx, "failed", resp.NewVersion, err.Error())
		return fmt.Errorf("running package upgrade script: %w", err)
	}

	u.logger.Info("package update applied, awaiting reboot confirmation", "version", resp.NewVersion)
	return nil
}

func (u *PackageUpdater) download(ctx context.Context, link, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating download destination: %w", err)
	}
	defer f.Close()

	if _, err := u.http.Download(ctx, link, f); err != nil {
		return err
	}
	return nil
}

// CheckCompletion runs once at startup: if a marker from a previous
// Apply call is present, it confirms whether the upgrade took and
// reports the outcome, removing the marker either way (spec.md §4.7).
func (u *PackageUpdater) CheckCompletion(ctx context.Context) {
	completed, ok, err := CheckMarker(u.markerPath, u.device.ServicesVersion)
	if err != nil {
		u.logger.Warn("reading package update marker", "error", err)
		return
	}
	if !ok {
		return
	}
	if completed {
		u.logger.Info("package update completed successfully", "version", u.device.ServicesVersion)
		u.reportStatus(ctx, "completed", u.device.ServicesVersion, "")
		return
	}
	u.logger.Warn("package update marker present but version did not change, treating as failed")
	u.reportStatus(ctx, "failed", "", "version did not change after reboot")
}

func (u *PackageUpdater) reportStatus(ctx context.Context, status, version, errMsg string) {
	req := packageStatusRequest{
		WayruDeviceID: u.device.ID,
		Status:        status,
		Version:       version,
		Error:         errMsg,
	}
	if err := u.http.PostJSON(ctx, "/api/nfnode/package-update/status", req, nil); err != nil {
		u.logger.Debug("reporting package update status failed", "status", status, "error", err)
	}
}
