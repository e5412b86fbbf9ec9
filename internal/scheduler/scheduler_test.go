package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler() *Scheduler {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func runInBackground(t *testing.T, s *Scheduler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		s.Shutdown()
		<-done
	})
	return cancel
}

func TestScheduleOnceFiresExactlyOnce(t *testing.T) {
	s := newTestScheduler()
	runInBackground(t, s)

	var calls int32
	fired := make(chan struct{})
	id := s.ScheduleOnce(10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
		close(fired)
	})
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("task never fired")
	}

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestScheduleRepeatingFiresMultipleTimes(t *testing.T) {
	s := newTestScheduler()
	runInBackground(t, s)

	var calls int32
	s.ScheduleRepeating(5*time.Millisecond, 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	})

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got < 3 {
		t.Fatalf("calls = %d, want >= 3", got)
	}
}

func TestCancelPreventsFurtherFires(t *testing.T) {
	s := newTestScheduler()
	runInBackground(t, s)

	var calls int32
	id := s.ScheduleRepeating(5*time.Millisecond, 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	})

	time.Sleep(25 * time.Millisecond)
	if !s.Cancel(id) {
		t.Fatal("expected first cancel to return true")
	}
	if s.Cancel(id) {
		t.Fatal("expected repeat cancel to return false")
	}

	after := atomic.LoadInt32(&calls)
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != after {
		t.Fatalf("calls changed after cancel: %d -> %d", after, got)
	}
}

func TestShutdownFromWithinCallbackStopsRun(t *testing.T) {
	s := newTestScheduler()
	ctx := context.Background()

	var mu sync.Mutex
	var secondFired bool

	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(ctx) }()

	s.ScheduleOnce(5*time.Millisecond, func(ctx context.Context) {
		s.Shutdown()
	})
	s.ScheduleOnce(200*time.Millisecond, func(ctx context.Context) {
		mu.Lock()
		secondFired = true
		mu.Unlock()
	})

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	mu.Lock()
	defer mu.Unlock()
	if secondFired {
		t.Fatal("task fired after shutdown")
	}
}

func TestScheduleOnceReturnsUniqueIDs(t *testing.T) {
	s := newTestScheduler()
	runInBackground(t, s)

	seen := map[ID]bool{}
	for i := 0; i < 20; i++ {
		id := s.ScheduleOnce(time.Minute, func(ctx context.Context) {})
		if id == 0 {
			t.Fatal("expected non-zero id")
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}
