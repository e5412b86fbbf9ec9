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

// FirmwareUpdateState is the tri-state firmware-update signal
// (spec.md §9): unlike the package updater's plain boolean, the
// firmware endpoint distinguishes "nothing to do" from "an update
// exists but is optional" from "an update exists and must be applied
// now". Keeping this as its own type, rather than a bool, is the
// deliberate non-unification spec.md §9 calls for.
type FirmwareUpdateState int

const (
	FirmwareNoUpdate       FirmwareUpdateState = 0
	FirmwareUpdateOptional FirmwareUpdateState = 1
	FirmwareUpdateRequired FirmwareUpdateState = 2
)

// FirmwareCheckResponse is the response from the firmware-update check
// endpoint.
type FirmwareCheckResponse struct {
	UpdateAvailable FirmwareUpdateState `json:"update_available"`
	DownloadLink    string              `json:"download_link"`
	Checksum        string              `json:"checksum"`
	NewVersion      string              `json:"new_version"`
}

type firmwareCheckRequest struct {
	Codename      string `json:"codename"`
	Version       string `json:"version"`
	WayruDeviceID string `json:"wayru_device_id"`
}

type firmwareStatusRequest struct {
	WayruDeviceID string `json:"wayru_device_id"`
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	Error         string `json:"error,omitempty"`
}

// FirmwareUpdater implements the firmware updater (spec.md §4.7, the
// firmware side). Grounded on original_source's firmware_upgrade.h
// contract: a separate check/apply pair from the package updater,
// distinguished by its tri-state availability signal and by applying
// via sysupgrade rather than opkg.
type FirmwareUpdater struct {
	http       *httpclient.Client
	device     devicemodel.DeviceInfo
	logger     *slog.Logger
	runner     ScriptRunner
	downloadTo string
	markerPath string
	upgradeSh  string
}

// NewFirmwareUpdater constructs a FirmwareUpdater.
func NewFirmwareUpdater(http *httpclient.Client, device devicemodel.DeviceInfo, logger *slog.Logger, runner ScriptRunner, downloadTo, markerPath, upgradeScript string) *FirmwareUpdater {
	return &FirmwareUpdater{
		http:       http,
		device:     device,
		logger:     logger,
		runner:     runner,
		downloadTo: downloadTo,
		markerPath: markerPath,
		upgradeSh:  upgradeScript,
	}
}

// Check asks the control plane for this device's firmware codename and
// running version whether a firmware update exists, and if so, at
// which urgency.
func (u *FirmwareUpdater) Check(ctx context.Context) (*FirmwareCheckResponse, error) {
	req := firmwareCheckRequest{
		Codename:      u.device.Model,
		Version:       u.device.OSVersion,
		WayruDeviceID: u.device.ID,
	}
	var resp FirmwareCheckResponse
	if err := u.http.PostJSON(ctx, "/api/nfnode/firmware-update/check", req, &resp); err != nil {
		return nil, fmt.Errorf("checking for firmware update: %w", err)
	}
	return &resp, nil
}

// Apply downloads, verifies, and applies the firmware image. Called
// only when resp.UpdateAvailable == FirmwareUpdateRequired; an
// FirmwareUpdateOptional result is surfaced to the operator (spec.md
// §4.7) but never applied automatically.
func (u *FirmwareUpdater) Apply(ctx context.Context, resp *FirmwareCheckResponse) error {
	if resp.UpdateAvailable != FirmwareUpdateRequired {
		return nil
	}

	u.reportStatus(ctx, "downloading", resp.NewVersion, "")

	destPath := filepath.Join(u.downloadTo, "firmware-update.bin")
	if err := u.download(ctx, resp.DownloadLink, destPath); err != nil {
		u.reportStatus(ctx, "failed", resp.NewVersion, err.Error())
		return fmt.Errorf("downloading firmware update: %w", err)
	}

	if err := VerifyChecksum(destPath, resp.Checksum); err != nil {
		_ = os.Remove(destPath)
		u.reportStatus(ctx, "failed", resp.NewVersion, err.Error())
		return fmt.Errorf("verifying firmware update: %w", err)
	}

	if err := WriteMarker(u.markerPath, resp.NewVersion); err != nil {
		return fmt.Errorf("writing firmware update marker: %w", err)
	}

	u.reportStatus(ctx, "applying", resp.NewVersion, "")
	if err := u.runner.Run(ctx, u.upgradeSh, destPath); err != nil {
		u.reportStatus(ctx, "failed", resp.NewVersion, err.Error())
		return fmt.Errorf("running firmware upgrade script: %w", err)
	}

	u.logger.Info("firmware update applied, device should reboot", "version", resp.NewVersion)
	return nil
}

func (u *FirmwareUpdater) download(ctx context.Context, link, destPath string) error {
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

// CheckCompletion runs once at startup and confirms whether a firmware
// upgrade across the last reboot actually took.
func (u *FirmwareUpdater) CheckCompletion(ctx context.Context) {
	completed, ok, err := CheckMarker(u.markerPath, u.device.OSVersion)
	if err != nil {
		u.logger.Warn("reading firmware update marker", "error", err)
		return
	}
	if !ok {
		return
	}
	if completed {
		u.logger.Info("firmware update completed successfully", "version", u.device.OSVersion)
		u.reportStatus(ctx, "completed", u.device.OSVersion, "")
		return
	}
	u.logger.Warn("firmware update marker present but version did not change, treating as failed")
	u.reportStatus(ctx, "failed", "", "version did not change after reboot")
}

func (u *FirmwareUpdater) reportStatus(ctx context.Context, status, version, errMsg string) {
	req := firmwareStatusRequest{
		WayruDeviceID: u.device.ID,
		Status:        status,
		Version:       version,
		Error:         errMsg,
	}
	if err := u.http.PostJSON(ctx, "/api/nfnode/firmware-update/status", req, nil); err != nil {
		u.logger.Debug("reporting firmware update status failed", "status", status, "error", err)
	}
}
