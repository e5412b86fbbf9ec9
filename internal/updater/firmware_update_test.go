package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"wayru-agent/internal/devicemodel"
	"wayru-agent/internal/httpclient"
)

func TestFirmwareTickSkipsOptionalUpdates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/nfnode/firmware-update/check", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"update_available":1,"new_version":"2.0.0"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	client := httpclient.New(httpclient.Config{BaseURL: srv.URL})
	device := devicemodel.DeviceInfo{ID: "d1", OSVersion: "1.0.0"}
	runner := &fakeRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	u := NewFirmwareUpdater(client, device, logger, runner, dir, filepath.Join(dir, "marker"), "/usr/bin/sysupgrade.sh")
	u.FirmwareTick(context.Background())

	if len(runner.calls) != 0 {
		t.Fatal("an optional firmware update must not be applied automatically")
	}
}

func TestFirmwareCheckAndApplyRunRequiredUpdates(t *testing.T) {
	artifact := []byte("firmware-image")
	sum := sha256.Sum256(artifact)
	checksum := hex.EncodeToString(sum[:])

	mux := http.NewServeMux()
	mux.HandleFunc("/api/nfnode/firmware-update/check", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"update_available":2,"download_link":"` + "" + `","checksum":"` + checksum + `","new_version":"2.0.0"}`))
	})
	mux.HandleFunc("/image", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(artifact)
	})
	mux.HandleFunc("/api/nfnode/firmware-update/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	client := httpclient.New(httpclient.Config{BaseURL: srv.URL})
	device := devicemodel.DeviceInfo{ID: "d1", OSVersion: "1.0.0"}
	runner := &fakeRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	u := NewFirmwareUpdater(client, device, logger, runner, dir, filepath.Join(dir, "marker"), "/usr/bin/sysupgrade.sh")

	resp, err := u.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	resp.DownloadLink = srv.URL + "/image"

	if err := u.Apply(context.Background(), resp); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("runner calls = %d, want 1", len(runner.calls))
	}
}
