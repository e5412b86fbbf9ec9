// Package accesstoken implements the agent's access-token lifecycle
// (spec.md §4.3, C7): an on-disk token, a periodic refresh task, and
// propagation of new tokens to registered subscribers such as the
// MQTT client (C8) and the local IPC server (C14).
package accesstoken

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wayru-agent/internal/credstore"
	"wayru-agent/internal/devicemodel"
	"wayru-agent/internal/httpclient"
	"wayru-agent/internal/scheduler"
)

const tokenFile = "access-token.json"

// failureRetryDelay is the fixed delay used to reschedule a refresh
// after any failure, regardless of the configured steady-state
// interval (spec.md §4.3, §8).
const failureRetryDelay = 60 * time.Second

// Subscriber is invoked with the freshly refreshed token. Registered
// subscribers are called in registration order, each exactly once per
// successful refresh, before the next refresh is scheduled.
type Subscriber func(token devicemodel.AccessToken)

// Service owns the current access token and its refresh cadence.
type Service struct {
	http     *httpclient.Client
	store    *credstore.Store
	logger   *slog.Logger
	sched    *scheduler.Scheduler
	interval time.Duration

	reg devicemodel.Registration

	mu          sync.Mutex
	token       devicemodel.AccessToken
	subscribers []Subscriber
	taskID      scheduler.ID
}

// New constructs a Service. reg must already be loaded (registration
// happens once, before the token service exists).
func New(http *httpclient.Client, store *credstore.Store, sched *scheduler.Scheduler, logger *slog.Logger, reg devicemodel.Registration, interval time.Duration) *Service {
	return &Service{
		http:     http,
		store:    store,
		sched:    sched,
		logger:   logger,
		reg:      reg,
		interval: interval,
	}
}

// Subscribe registers a callback to receive every subsequent
// successful refresh. It does not replay the current token.
func (s *Service) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Current returns the most recently known token.
func (s *Service) Current() devicemodel.AccessToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Init adopts a persisted token if it is still usable, otherwise
// performs a blocking acquire. This is part of the bootstrap gate
// (spec.md §9): failure here is fatal, not retried by a task.
func (s *Service) Init(ctx context.Context) error {
	var persisted devicemodel.AccessToken
	err := s.store.Load(tokenFile, &persisted)
	if err == nil && persisted.Usable(time.Now()) {
		s.logger.Info("adopting persisted access token", "expires_at", persisted.ExpiresAtSec)
		s.mu.Lock()
		s.token = persisted
		s.mu.Unlock()
		s.http.SetToken(persisted.Token)
		return nil
	}

	s.logger.Info("no usable persisted token, acquiring one", "load_error", errString(err))
	token, err := s.acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring initial access token: %w", err)
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.http.SetToken(token.Token)
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *Service) acquire(ctx context.Context) (devicemodel.AccessToken, error) {
	req := struct {
		WayruDeviceID string `json:"wayru_device_id"`
		AccessKey     string `json:"access_key"`
	}{s.reg.WayruDeviceID, s.reg.AccessKey}

	var resp devicemodel.AccessToken
	if err := s.http.PostJSON(ctx, "/access", req, &resp); err != nil {
		return devicemodel.AccessToken{}, fmt.Errorf("requesting access token: %w", err)
	}
	if err := s.store.Save(tokenFile, resp); err != nil {
		return devicemodel.AccessToken{}, fmt.Errorf("persisting access token: %w", err)
	}
	return resp, nil
}

// StartRefreshTask schedules the first refresh and arranges for every
// subsequent refresh to reschedule itself, chaining one-shot tasks
// rather than using a fixed-interval repeating task because the next
// delay depends on the outcome of the previous refresh (spec.md
// §4.3).
func (s *Service) StartRefreshTask(initialDelay time.Duration) {
	s.mu.Lock()
	s.taskID = s.sched.ScheduleOnce(initialDelay, s.runRefresh)
	s.mu.Unlock()
}

// NextDelay computes the delay until the first refresh should run,
// honoring a token loaded at Init time.
func (s *Service) NextDelay() time.Duration {
	tok := s.Current()
	return tok.RefreshIn(time.Now(), s.interval)
}

func (s *Service) runRefresh(ctx context.Context) {
	token, err := s.acquire(ctx)
	if err != nil {
		s.logger.Warn("access token refresh failed, retrying in 60s", "error", err)
		s.mu.Lock()
		s.taskID = s.sched.ScheduleOnce(failureRetryDelay, s.runRefresh)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.token = token
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	s.http.SetToken(token.Token)
	for _, fn := range subs {
		fn(token)
	}

	next := token.RefreshIn(time.Now(), s.interval)
	s.logger.Info("access token refreshed", "next_refresh", next)
	s.mu.Lock()
	s.taskID = s.sched.ScheduleOnce(next, s.runRefresh)
	s.mu.Unlock()
}
