package accesstoken

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"wayru-agent/internal/credstore"
	"wayru-agent/internal/devicemodel"
	"wayru-agent/internal/httpclient"
	"wayru-agent/internal/scheduler"
)

func newTestService(t *testing.T, handler http.HandlerFunc) (*Service, *httptest.Server, *scheduler.Scheduler) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := httpclient.New(httpclient.Config{BaseURL: srv.URL})
	store := credstore.New(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.New(logger)
	go func() { _ = sched.Run(context.Background()) }()
	t.Cleanup(sched.Shutdown)

	reg := devicemodel.Registration{WayruDeviceID: "d1", AccessKey: "key"}
	svc := New(client, store, sched, logger, reg, time.Hour)
	return svc, srv, sched
}

func TestInitAcquiresWhenNoPersistedToken(t *testing.T) {
	svc, _, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok-1","issued_at_seconds":1000,"expires_at_seconds":1000000000000}`))
	})

	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if svc.Current().Token != "tok-1" {
		t.Fatalf("token = %q, want tok-1", svc.Current().Token)
	}
}

func TestInitAdoptsUsablePersistedToken(t *testing.T) {
	calls := 0
	svc, _, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"fresh","issued_at_seconds":1000,"expires_at_seconds":1000000000000}`))
	})

	persisted := devicemodel.AccessToken{Token: "persisted", ExpiresAtSec: time.Now().Add(24 * time.Hour).Unix()}
	if err := svc.store.Save(tokenFile, persisted); err != nil {
		t.Fatalf("seeding persisted token: %v", err)
	}

	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if svc.Current().Token != "persisted" {
		t.Fatalf("token = %q, want persisted (no network call expected)", svc.Current().Token)
	}
	if calls != 0 {
		t.Fatalf("expected no acquire call, got %d", calls)
	}
}

// TestRunRefreshNotifiesSubscribersAndReschedules verifies that a
// scheduled refresh both notifies subscribers and successfully
// re-schedules itself from within its own callback — the exact
// self-scheduling pattern runRefresh uses (it calls
// s.sched.ScheduleOnce on success and on failure, from inside the
// callback that is itself running on the scheduler's own goroutine).
// The access interval is kept short so a second refresh is observed
// within the test's timeout; if self-scheduling ever deadlocked the
// scheduler goroutine again, this test would hang until it times out
// having seen only one call.
func TestRunRefreshNotifiesSubscribersAndReschedules(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	seen := 0
	secondSeen := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok-` + string(rune('0'+n)) + `","issued_at_seconds":1000,"expires_at_seconds":1000000000000}`))
	}))
	t.Cleanup(srv.Close)

	client := httpclient.New(httpclient.Config{BaseURL: srv.URL})
	store := credstore.New(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.New(logger)
	go func() { _ = sched.Run(context.Background()) }()
	t.Cleanup(sched.Shutdown)

	reg := devicemodel.Registration{WayruDeviceID: "d1", AccessKey: "key"}
	svc := New(client, store, sched, logger, reg, 20*time.Millisecond)

	svc.Subscribe(func(token devicemodel.AccessToken) {
		mu.Lock()
		seen++
		n := seen
		mu.Unlock()
		if n >= 2 {
			select {
			case secondSeen <- struct{}{}:
			default:
			}
		}
	})

	svc.StartRefreshTask(time.Millisecond)

	select {
	case <-secondSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a second refresh; scheduler may have deadlocked on self-reschedule")
	}

	mu.Lock()
	defer mu.Unlock()
	if seen < 2 {
		t.Fatalf("expected at least 2 subscriber notifications, got %d", seen)
	}
	if calls < 2 {
		t.Fatalf("expected at least 2 refresh calls, got %d", calls)
	}
}

func TestRunRefreshFailureReschedulesAtFixedDelay(t *testing.T) {
	calls := 0
	svc, _, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	svc.runRefresh(context.Background())
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if svc.Current().Token != "" {
		t.Fatalf("token = %q, want empty after a failed refresh", svc.Current().Token)
	}
	svc.mu.Lock()
	rescheduled := svc.taskID
	svc.mu.Unlock()
	if rescheduled == 0 {
		t.Fatal("expected a failed refresh to schedule a retry task")
	}
}
