// Package console provides the agent's diagnostic logging sink: a
// structured logger per component topic, with an optional callback so
// other components (or tests) can capture emitted records in-process.
// This generalizes the original's per-module Console{.topic = "..."}
// convention onto log/slog, following the teacher's
// slog.NewJSONHandler(os.Stdout, ...) setup in cmd/controller/main.go.
package console

import (
	"context"
	"log/slog"
	"os"
)

// Sink is a slog.Handler that writes to an underlying handler and,
// if set, also forwards every record to a Capture callback. Tests
// install a Capture to assert on emitted log lines without parsing
// stdout.
type Sink struct {
	next    slog.Handler
	capture func(slog.Record)
}

// NewSink builds the process-wide sink: JSON to stdout at the given
// level, matching the teacher's setupLogger.
func NewSink(level slog.Leveler) *Sink {
	return &Sink{
		next: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}
}

// SetCapture installs or clears the in-process capture callback.
func (s *Sink) SetCapture(fn func(slog.Record)) {
	s.capture = fn
}

func (s *Sink) Enabled(ctx context.Context, level slog.Level) bool {
	return s.next.Enabled(ctx, level)
}

func (s *Sink) Handle(ctx context.Context, r slog.Record) error {
	if s.capture != nil {
		s.capture(r.Clone())
	}
	return s.next.Handle(ctx, r)
}

func (s *Sink) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Sink{next: s.next.WithAttrs(attrs), capture: s.capture}
}

func (s *Sink) WithGroup(name string) slog.Handler {
	return &Sink{next: s.next.WithGroup(name), capture: s.capture}
}

// New returns a *slog.Logger for the given component topic, bound to
// sink. Every subsystem calls this once at construction, mirroring
// the original's per-file `static Console csl = {.topic = "..."}`.
func New(sink *Sink, topic string) *slog.Logger {
	return slog.New(sink).With("component", topic)
}
