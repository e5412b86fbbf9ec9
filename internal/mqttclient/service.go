package mqttclient

import (
	"context"
	"log/slog"
	"time"

	"wayru-agent/internal/scheduler"
)

// Service wires a Client and its FSM into the scheduler as a
// repeating loop-pump task (spec.md §4.4's "Loop pump").
type Service struct {
	client *Client
	fsm    *FSM
	logger *slog.Logger
}

// NewService builds the service. exitFn is wired to the shutdown
// registry's RequestExit by the caller (cmd/agent), keeping this
// package free of a dependency on the shutdown package.
func NewService(client *Client, logger *slog.Logger, exitFn func(reason string)) *Service {
	client.SetExitFunc(exitFn)
	state := NewState(time.Now())
	fsm := NewFSM(logger, client, state)
	return &Service{client: client, fsm: fsm, logger: logger}
}

// Start schedules the loop-pump task at the configured interval.
func (s *Service) Start(sched *scheduler.Scheduler, interval time.Duration) scheduler.ID {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return sched.ScheduleRepeating(interval, interval, func(ctx context.Context) {
		outcome := s.client.Pump(ctx)
		s.fsm.HandleOutcome(ctx, outcome)
	})
}

// Client returns the underlying MQTT client, for publish/subscribe
// and token-rotation wiring.
func (s *Service) Client() *Client { return s.client }
