package devicestatus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wayru-agent/internal/devicemodel"
	"wayru-agent/internal/httpclient"
)

func TestReportFlipsOnBootAfterFirstCall(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deviceStatus":4}`))
	}))
	defer srv.Close()

	http := httpclient.New(httpclient.Config{BaseURL: srv.URL})
	status := devicemodel.NewStatusStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(http, devicemodel.DeviceInfo{ID: "d1"}, status, logger, time.Millisecond)

	if err := r.Report(context.Background()); err != nil {
		t.Fatalf("first Report: %v", err)
	}
	if err := r.Report(context.Background()); err != nil {
		t.Fatalf("second Report: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("got %d requests, want 2", len(bodies))
	}
	if bodies[0]["on_boot"] != true {
		t.Fatalf("first on_boot = %v, want true", bodies[0]["on_boot"])
	}
	if bodies[1]["on_boot"] != false {
		t.Fatalf("second on_boot = %v, want false", bodies[1]["on_boot"])
	}
	if status.Get() != devicemodel.StatusReady {
		t.Fatalf("status = %v, want Ready", status.Get())
	}
}

func TestReportFailureLeavesPreviousStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"deviceStatus":4}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	http := httpclient.New(httpclient.Config{BaseURL: srv.URL})
	status := devicemodel.NewStatusStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(http, devicemodel.DeviceInfo{ID: "d1"}, status, logger, time.Millisecond)

	_ = r.Report(context.Background())
	if err := r.Report(context.Background()); err == nil {
		t.Fatal("expected second Report to fail")
	}
	if status.Get() != devicemodel.StatusReady {
		t.Fatalf("status = %v, want Ready to persist after failure", status.Get())
	}
}
