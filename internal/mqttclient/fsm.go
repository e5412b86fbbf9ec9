// Package mqttclient implements the agent's MQTT client and its
// error-classification recovery state machine (spec.md §4.4, C8): one
// TLS session, a bounded subscription registry, a repeating loop-pump
// task, and a per-error-kind counter/backoff/recovery-style policy
// that decides whether a lightweight reconnect suffices or the client
// must be fully reinitialized.
//
// This file holds the FSM itself, deliberately separated from the
// paho.mqtt.golang-backed transport (client.go) so the recovery logic
// — the hardest and most specified part of this component — can be
// tested against a fake Recovery without a broker. This mirrors the
// shape of internal/subscriber/sse.go and nats.go: a generic
// reconnect-supervisor wrapping a protocol-specific body, except here
// the supervisor itself carries the seven-kind policy table spec.md
// §4.4 requires instead of a single flat backoff.
package mqttclient

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Outcome is the result of one loop-pump iteration.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNoConnection
	OutcomeConnectionLost
	OutcomeSystemError
	OutcomeProtocolError
	OutcomeInvalidParams
	OutcomeOutOfMemory
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoConnection:
		return "no_connection"
	case OutcomeConnectionLost:
		return "connection_lost"
	case OutcomeSystemError:
		return "system_error"
	case OutcomeProtocolError:
		return "protocol_error"
	case OutcomeInvalidParams:
		return "invalid_params"
	case OutcomeOutOfMemory:
		return "out_of_memory"
	default:
		return "unknown"
	}
}

// recoveryStyle distinguishes kinds that try a lightweight reconnect
// before escalating to a full reinit from kinds that must force a
// full reinit immediately, because the client's internal state may be
// corrupt (spec.md §4.4).
type recoveryStyle int

const (
	styleLightweightFirst recoveryStyle = iota
	styleForceFullReinit
)

type kindPolicy struct {
	maxAttempts int
	style       recoveryStyle
	extraDelay  time.Duration
}

// policies is the per-kind table from spec.md §4.4, verbatim.
var policies = map[Outcome]kindPolicy{
	OutcomeNoConnection:   {maxAttempts: 5, style: styleLightweightFirst},
	OutcomeConnectionLost: {maxAttempts: 5, style: styleLightweightFirst},
	OutcomeSystemError:    {maxAttempts: 5, style: styleForceFullReinit},
	OutcomeProtocolError:  {maxAttempts: 3, style: styleForceFullReinit},
	OutcomeInvalidParams:  {maxAttempts: 3, style: styleForceFullReinit},
	OutcomeOutOfMemory:    {maxAttempts: 2, style: styleForceFullReinit, extraDelay: 5 * time.Second},
	OutcomeUnknown:        {maxAttempts: 3, style: styleLightweightFirst},
}

// backoffDelay implements spec.md §4.4's exponential backoff:
// attempt k in [1..max] sleeps for min(30*2^(k-1), 150) seconds.
func backoffDelay(attempt int) time.Duration {
	secs := 30 * (1 << uint(attempt-1))
	if secs > 150 {
		secs = 150
	}
	return time.Duration(secs) * time.Second
}

// healthWatchdogPeriod is the "ghost error" window: if no successful
// loop iteration has been observed for this long, a full reinit is
// forced regardless of the last error kind (spec.md §4.4).
const healthWatchdogPeriod = 300 * time.Second

// Recovery is the set of operations the FSM drives. The real
// implementation (client.go) backs these with a paho.mqtt.golang
// client; tests back them with a fake to exercise the policy table in
// isolation.
type Recovery interface {
	// LightweightReconnect re-establishes the TCP/TLS session,
	// keeping callbacks and the subscription table, then resubscribes
	// every recorded topic.
	LightweightReconnect(ctx context.Context) error
	// FullReinit tears down and rebuilds the client from
	// configuration, then resubscribes every recorded topic.
	FullReinit(ctx context.Context) error
	// RequestExit asks the process to terminate because recovery is
	// exhausted.
	RequestExit(reason string)
}

// State is the MQTT client's externally observable FSM state
// (spec.md §3's MqttClientState), including the per-kind counters and
// last-success time that must outlive any single task invocation — see
// SPEC_FULL.md / spec.md §9's open question on last_successful_loop
// scope: it belongs here, not in a task-local variable, or the 300s
// watchdog is meaningless.
type State struct {
	mu          sync.Mutex
	counters    map[Outcome]int
	lastSuccess time.Time
	exhausted   bool
}

// NewState returns a State with lastSuccess seeded to now, so the
// watchdog does not fire immediately on startup before any pump tick
// has run.
func NewState(now time.Time) *State {
	return &State{
		counters:    make(map[Outcome]int),
		lastSuccess: now,
	}
}

func (s *State) counterFor(o Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[o]
}

func (s *State) resetAll(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[Outcome]int)
	s.lastSuccess = now
}

func (s *State) increment(o Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[o]++
	return s.counters[o]
}

func (s *State) resetKind(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, o)
}

func (s *State) watchdogExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSuccess) > healthWatchdogPeriod
}

// LastSuccess returns the last time a pump iteration succeeded.
func (s *State) LastSuccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

// FSM drives the recovery policy over a stream of pump outcomes.
type FSM struct {
	logger   *slog.Logger
	recovery Recovery
	state    *State
	sleep    func(ctx context.Context, d time.Duration) bool
}

// NewFSM returns an FSM over recovery, using state for its counters
// and last-success time.
func NewFSM(logger *slog.Logger, recovery Recovery, state *State) *FSM {
	return &FSM{
		logger:   logger,
		recovery: recovery,
		state:    state,
		sleep:    defaultSleep,
	}
}

func defaultSleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// HandleOutcome processes one loop-pump outcome, applying spec.md
// §4.4's policy: resetting counters on success, or running the
// watchdog check, backoff, and lightweight/full recovery for a
// failure kind. It is meant to be called once per scheduler tick from
// the repeating loop-pump task.
func (f *FSM) HandleOutcome(ctx context.Context, outcome Outcome) {
	now := time.Now()

	if outcome == OutcomeSuccess {
		f.state.resetAll(now)
		return
	}

	if f.state.watchdogExpired(now) {
		f.logger.Warn("mqtt health watchdog expired, forcing full reinit",
			"since_last_success", now.Sub(f.state.LastSuccess()))
		if err := f.recovery.FullReinit(ctx); err != nil {
			f.logger.Error("full reinit after watchdog expiry failed", "error", err)
		}
		return
	}

	policy, ok := policies[outcome]
	if !ok {
		policy = policies[OutcomeUnknown]
	}

	attempt := f.state.increment(outcome)
	if attempt > policy.maxAttempts {
		f.logger.Error("mqtt recovery exhausted, requesting exit",
			"kind", outcome.String(), "attempts", attempt-1)
		f.recovery.RequestExit("MQTT reconnection failed")
		return
	}

	delay := backoffDelay(attempt) + policy.extraDelay
	f.logger.Warn("mqtt loop pump error, recovering",
		"kind", outcome.String(), "attempt", attempt, "max", policy.maxAttempts, "delay", delay)

	if !f.sleep(ctx, delay) {
		return
	}

	var err error
	switch {
	case policy.style == styleForceFullReinit:
		err = f.recovery.FullReinit(ctx)
	case attempt >= policy.maxAttempts:
		// Last resort before exhaustion: escalate to a full reinit.
		err = f.recovery.FullReinit(ctx)
	default:
		err = f.recovery.LightweightReconnect(ctx)
	}

	if err != nil {
		f.logger.Error("mqtt recovery action failed", "kind", outcome.String(), "error", err)
		return
	}

	// The recovery action itself succeeded (the client reconnected);
	// the FSM still waits for the next pump tick's outcome to confirm
	// I/O is actually progressing before resetting counters.
}

// CounterFor exposes the current attempt counter for a kind, used by
// tests and diagnostics.
func (f *FSM) CounterFor(o Outcome) int {
	return f.state.counterFor(o)
}
