// Package devicestatus implements the periodic device-status reporter
// (spec.md §4.6, C10) and the device-context refresh folded into it
// per SPEC_FULL.md §12 (original_source's device-context.c periodic
// site-binding refresh has no side effects beyond updating a shared
// store, so it rides the same component rather than becoming its own).
package devicestatus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"wayru-agent/internal/devicemodel"
	"wayru-agent/internal/httpclient"
)

// Reporter posts device facts to the control plane and records the
// returned lifecycle status. Never fatal: every failure logs and
// leaves the status unchanged (spec.md §4.6: "Never fatal; unknown on
// failure" only applies to a status read before any success — once a
// status is known it is not reset by a later failure).
type Reporter struct {
	http   *httpclient.Client
	device devicemodel.DeviceInfo
	status *devicemodel.StatusStore
	logger *slog.Logger

	// limiter smooths the reporter's send cadence independent of the
	// scheduler's tick, so a misconfigured short interval cannot
	// hammer the control plane — this is the rate-limiting concern
	// SPEC_FULL.md's domain stack wires golang.org/x/time/rate into.
	limiter *rate.Limiter

	// onBoot is true only for the reporter's first call, per spec.md
	// §9's open question: this must be a field of the reporter, not a
	// module-level boolean, since the reporter is the sole writer.
	onBoot atomic.Bool

	reportsTotal atomic.Int64
	reportErrors atomic.Int64
}

// New constructs a Reporter. minInterval bounds the reporter's
// average send rate; pass the configured device_status_interval.
func New(http *httpclient.Client, device devicemodel.DeviceInfo, status *devicemodel.StatusStore, logger *slog.Logger, minInterval time.Duration) *Reporter {
	r := &Reporter{
		http:    http,
		device:  device,
		status:  status,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
	r.onBoot.Store(true)
	return r
}

type statusRequest struct {
	DeviceID        string `json:"device_id"`
	MAC             string `json:"mac"`
	Name            string `json:"name"`
	Brand           string `json:"brand"`
	Model           string `json:"model"`
	Arch            string `json:"arch"`
	OSName          string `json:"os_name"`
	OSVersion       string `json:"os_version"`
	ServicesVersion string `json:"os_services_version"`
	PublicIP        string `json:"public_ip"`
	DIDPublicKey    string `json:"did_public_key"`
	OnBoot          bool   `json:"on_boot"`
}

type statusResponse struct {
	DeviceStatus int `json:"deviceStatus"`
}

// Report sends one device-status POST. On success the returned status
// is recorded and on_boot flips to false for every subsequent call.
func (r *Reporter) Report(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	r.reportsTotal.Add(1)
	onBoot := r.onBoot.Load()

	req := statusRequest{
		DeviceID:        r.device.ID,
		MAC:             r.device.MAC,
		Name:            r.device.Name,
		Brand:           r.device.Brand,
		Model:           r.device.Model,
		Arch:            r.device.Arch,
		OSName:          r.device.OSName,
		OSVersion:       r.device.OSVersion,
		ServicesVersion: r.device.ServicesVersion,
		PublicIP:        r.device.PublicIP,
		DIDPublicKey:    r.device.DIDPublicKey,
		OnBoot:          onBoot,
	}

	var resp statusResponse
	if err := r.http.PostJSON(ctx, "/api/nfnode/device-status", req, &resp); err != nil {
		r.reportErrors.Add(1)
		r.logger.Warn("device status report failed", "error", err)
		return fmt.Errorf("reporting device status: %w", err)
	}

	r.status.Set(devicemodel.DeviceStatus(resp.DeviceStatus))
	r.onBoot.Store(false)
	r.logger.Info("device status reported", "status", devicemodel.DeviceStatus(resp.DeviceStatus).String(), "on_boot", onBoot)
	return nil
}

// Tick is the scheduler task body: report, logging but never
// propagating the error (spec.md §4.6: "Never fatal").
func (r *Reporter) Tick(ctx context.Context) {
	if err := r.Report(ctx); err != nil {
		r.logger.Debug("device status tick did not succeed", "error", err)
	}
}

// Metrics exposes counters for diagnostics.
func (r *Reporter) Metrics() (reports, errors int64) {
	return r.reportsTotal.Load(), r.reportErrors.Load()
}

// ContextRefresher refreshes the device/site binding
// (original_source device-context.c), storing the result for the NDS
// pump to consume.
type ContextRefresher struct {
	http    *httpclient.Client
	device  devicemodel.DeviceInfo
	context *devicemodel.ContextStore
	logger  *slog.Logger
}

// NewContextRefresher constructs a ContextRefresher.
func NewContextRefresher(http *httpclient.Client, device devicemodel.DeviceInfo, store *devicemodel.ContextStore, logger *slog.Logger) *ContextRefresher {
	return &ContextRefresher{http: http, device: device, context: store, logger: logger}
}

// Tick fetches the device context and stores it. Failures log and
// leave the previous context in place.
func (c *ContextRefresher) Tick(ctx context.Context) {
	var resp devicemodel.DeviceContext
	path := fmt.Sprintf("/devices/%s/context", c.device.ID)
	if err := c.http.GetJSON(ctx, path, &resp); err != nil {
		c.logger.Debug("device context refresh failed", "error", err)
		return
	}
	c.context.Set(resp)
}
