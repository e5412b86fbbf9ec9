package updater

import "context"

// PackageTick is the scheduler task body for the package updater:
// check, and apply if available. Errors returned by Check/Apply are
// logged here and never propagated, matching the reporter-style
// never-fatal tick bodies used throughout the agent.
func (u *PackageUpdater) PackageTick(ctx context.Context) {
	resp, err := u.Check(ctx)
	if err != nil {
		u.logger.Warn("package update check failed", "error", err)
		return
	}
	if !resp.UpdateAvailable {
		return
	}
	if err := u.Apply(ctx, resp); err != nil {
		u.logger.Warn("package update apply failed", "error", err)
	}
}

// FirmwareTick is the scheduler task body for the firmware updater.
func (u *FirmwareUpdater) FirmwareTick(ctx context.Context) {
	resp, err := u.Check(ctx)
	if err != nil {
		u.logger.Warn("firmware update check failed", "error", err)
		return
	}
	switch resp.UpdateAvailable {
	case FirmwareNoUpdate:
		return
	case FirmwareUpdateOptional:
		u.logger.Info("firmware update available but not required", "version", resp.NewVersion)
		return
	case FirmwareUpdateRequired:
		if err := u.Apply(ctx, resp); err != nil {
			u.logger.Warn("firmware update apply failed", "error", err)
		}
	}
}
