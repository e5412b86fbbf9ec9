// Package registration implements the one-time device registration
// bootstrap: it obtains {wayru_device_id, access_key} from the
// accounting API and persists it via the credential store, or adopts
// a persisted registration if one already exists (spec.md §3:
// "obtained once at first boot ... immutable thereafter").
package registration

import (
	"context"
	"fmt"
	"log/slog"

	"wayru-agent/internal/credstore"
	"wayru-agent/internal/devicemodel"
	"wayru-agent/internal/httpclient"
)

const registrationFile = "registration.json"

type registerRequest struct {
	MAC   string `json:"mac"`
	Model string `json:"model"`
	Brand string `json:"brand"`
}

// Bootstrap adopts a persisted registration, or performs the
// register call against http (which must be configured against the
// accounting API base URL) and persists the result.
func Bootstrap(ctx context.Context, http *httpclient.Client, store *credstore.Store, logger *slog.Logger, device devicemodel.DeviceInfo) (devicemodel.Registration, error) {
	var reg devicemodel.Registration
	if err := store.Load(registrationFile, &reg); err == nil {
		logger.Info("adopting persisted registration", "wayru_device_id", reg.WayruDeviceID)
		return reg, nil
	}

	logger.Info("no persisted registration, registering device", "mac", device.MAC)
	req := registerRequest{MAC: device.MAC, Model: device.Model, Brand: device.Brand}

	var resp devicemodel.Registration
	if err := http.PostJSON(ctx, "/access/register", req, &resp); err != nil {
		return devicemodel.Registration{}, fmt.Errorf("registration: registering device: %w", err)
	}
	if err := store.Save(registrationFile, resp); err != nil {
		return devicemodel.Registration{}, fmt.Errorf("registration: persisting registration: %w", err)
	}
	return resp, nil
}
