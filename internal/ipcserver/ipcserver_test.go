package ipcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"wayru-agent/internal/devicemodel"
)

type fakeTokens struct {
	tok devicemodel.AccessToken
}

func (f *fakeTokens) Current() devicemodel.AccessToken { return f.tok }

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "agent.sock")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := &fakeTokens{tok: devicemodel.AccessToken{
		Token:        "tok-123",
		IssuedAtSec:  1000,
		ExpiresAtSec: time.Now().Add(2 * time.Hour).Unix(),
	}}
	device := devicemodel.DeviceInfo{ID: "dev-1", MAC: "aa:bb:cc", Name: "router"}
	reg := devicemodel.Registration{WayruDeviceID: "wd-1", AccessKey: "key-1"}
	status := devicemodel.NewStatusStore()

	srv := New(socketPath, tokens, device, reg, status, logger)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv, socketPath
}

func call(t *testing.T, socketPath, method string) map[string]any {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(request{Method: method}); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	var resp map[string]any
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestPingReturnsPong(t *testing.T) {
	_, socketPath := newTestServer(t)
	resp := call(t, socketPath, "ping")
	if resp["pong"] != true {
		t.Fatalf("ping response = %v, want pong:true", resp)
	}
}

func TestGetAccessTokenFieldNames(t *testing.T) {
	_, socketPath := newTestServer(t)
	resp := call(t, socketPath, "get_access_token")
	if resp["token"] != "tok-123" {
		t.Fatalf("token = %v, want tok-123", resp["token"])
	}
	if resp["valid"].(float64) != 1 {
		t.Fatalf("valid = %v, want 1", resp["valid"])
	}
	for _, field := range []string{"token", "issued_at", "expires_at", "valid"} {
		if _, ok := resp[field]; !ok {
			t.Fatalf("response missing required field %q: %v", field, resp)
		}
	}
}

func TestGetDeviceInfoFieldNames(t *testing.T) {
	_, socketPath := newTestServer(t)
	resp := call(t, socketPath, "get_device_info")
	if resp["device_id"] != "dev-1" {
		t.Fatalf("device_id = %v, want dev-1", resp["device_id"])
	}
	for _, field := range []string{"device_id", "mac", "name", "brand", "model", "arch", "public_ip", "os_name", "os_version", "os_services_version", "did_public_key"} {
		if _, ok := resp[field]; !ok {
			t.Fatalf("response missing required field %q: %v", field, resp)
		}
	}
}

func TestGetRegistrationFieldNames(t *testing.T) {
	_, socketPath := newTestServer(t)
	resp := call(t, socketPath, "get_registration")
	if resp["wayru_device_id"] != "wd-1" || resp["access_key"] != "key-1" {
		t.Fatalf("unexpected registration response: %v", resp)
	}
}

func TestUnknownMethodReturnsError(t *testing.T) {
	_, socketPath := newTestServer(t)
	resp := call(t, socketPath, "bogus")
	if _, ok := resp["error"]; !ok {
		t.Fatalf("expected error field for unknown method, got %v", resp)
	}
	if _, ok := resp["code"]; !ok {
		t.Fatalf("expected code field for unknown method, got %v", resp)
	}
}

func TestMultipleRequestsOnSameConnection(t *testing.T) {
	_, socketPath := newTestServer(t)
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(bufio.NewReader(conn))

	for i := 0; i < 3; i++ {
		if err := enc.Encode(request{Method: "ping"}); err != nil {
			t.Fatalf("encode %d: %v", i, err)
		}
		var resp map[string]any
		if err := dec.Decode(&resp); err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if resp["pong"] != true {
			t.Fatalf("response %d = %v, want pong:true", i, resp)
		}
	}
}

func TestHealthTickReinitsAfterBrokenListener(t *testing.T) {
	srv, socketPath := newTestServer(t)

	srv.mu.Lock()
	ln := srv.listener
	srv.mu.Unlock()
	_ = ln.Close()
	srv.broken.Store(true)

	srv.HealthTick(context.Background())

	if srv.Broken() {
		t.Fatal("expected HealthTick to clear the broken flag after reinit")
	}
	resp := call(t, socketPath, "ping")
	if resp["pong"] != true {
		t.Fatalf("expected server reachable after reinit, got %v", resp)
	}
}
