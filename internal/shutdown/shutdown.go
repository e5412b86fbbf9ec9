// Package shutdown implements the agent's graceful-shutdown registry:
// an ordered stack of cleanup closures run in reverse on exit, plus
// the signal-to-exit wiring. It generalizes the original's
// exit_handler.c (a bounded CleanupEntry stack plus SIGINT/SIGTERM
// handlers) onto the teacher's context.Context + signal.NotifyContext
// idiom (cmd/controller/main.go): the context models "please stop",
// the Registry models "in what order do I unwind."
//
// A bare context cannot express "run these N cleanups in reverse
// insertion order," so the registry stays a real type rather than
// being folded entirely into context cancellation.
package shutdown

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
)

// Cleanup is a closure registered to run during shutdown. It receives
// the reason the process is exiting.
type Cleanup func(reason string)

// Registry holds registered cleanups and the current shutdown
// request, if any. Registration is O(1); Run executes callbacks in
// reverse registration order, matching the original's LIFO stack.
type Registry struct {
	logger *slog.Logger

	mu        sync.Mutex
	cleanups  []Cleanup
	requested bool
	reason    string
}

// New returns an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register pushes a cleanup onto the stack. Cleanups run in the
// reverse of the order they were registered.
func (r *Registry) Register(c Cleanup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, c)
}

// RequestExit asks the main loop to terminate, recording reason. It
// is the Go analog of the original's request_exit(reason), used by
// subsystems (notably the MQTT recovery FSM) that exhaust their
// internal recovery budget and must ask for a shutdown from outside a
// signal handler.
func (r *Registry) RequestExit(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.requested {
		return
	}
	r.requested = true
	r.reason = reason
	r.logger.Warn("exit requested", "reason", reason)
}

// IsShutdownRequested reports whether RequestExit has been called.
func (r *Registry) IsShutdownRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requested
}

// ShutdownReason returns the reason passed to RequestExit, or "" if
// none has been requested yet.
func (r *Registry) ShutdownReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Run invokes every registered cleanup in reverse order with reason.
// Call it once, after the main loop has returned, whether it returned
// because of a signal, a RequestExit, or context cancellation.
func (r *Registry) Run(reason string) {
	r.mu.Lock()
	cleanups := make([]Cleanup, len(r.cleanups))
	copy(cleanups, r.cleanups)
	r.mu.Unlock()

	r.logger.Info("running shutdown cleanups", "count", len(cleanups), "reason", reason)
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i](reason)
	}
}

// NotifyContext returns a context canceled on SIGINT/SIGTERM, the Go
// idiom replacing the original's signal-handler-to-cleanup_and_exit
// wiring (cmd/controller/main.go's signal.NotifyContext call).
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
