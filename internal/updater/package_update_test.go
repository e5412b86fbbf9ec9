package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"wayru-agent/internal/devicemodel"
	"wayru-agent/internal/httpclient"
)

type fakeRunner struct {
	calls [][]string
	err   error
}

func (r *fakeRunner) Run(ctx context.Context, script string, args ...string) error {
	r.calls = append(r.calls, append([]string{script}, args...))
	return r.err
}

func TestPackageUpdaterApplyDownloadsVerifiesAndRuns(t *testing.T) {
	artifact := []byte("package-contents")
	sum := sha256.Sum256(artifact)
	checksum := hex.EncodeToString(sum[:])

	statusCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/firmware-or-package-download", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(artifact)
	})
	mux.HandleFunc("/api/nfnode/package-update/status", func(w http.ResponseWriter, r *http.Request) {
		statusCalls++
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	client := httpclient.New(httpclient.Config{BaseURL: srv.URL})
	device := devicemodel.DeviceInfo{ID: "d1", Arch: "arm", ServicesVersion: "1.0.0"}
	runner := &fakeRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	u := NewPackageUpdater(client, device, logger, runner, dir, filepath.Join(dir, "marker"), "/usr/bin/opkg-upgrade.sh")

	resp := &PackageCheckResponse{
		UpdateAvailable: true,
		DownloadLink:    srv.URL + "/firmware-or-package-download",
		Checksum:        checksum,
		NewVersion:      "1.1.0",
	}

	if err := u.Apply(context.Background(), resp); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("runner calls = %d, want 1", len(runner.calls))
	}
	if statusCalls == 0 {
		t.Fatal("expected at least one status report")
	}

	marker, err := os.ReadFile(filepath.Join(dir, "marker"))
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	if string(marker) != "1.1.0" {
		t.Fatalf("marker = %q, want 1.1.0", marker)
	}
}

func TestPackageUpdaterApplyChecksumMismatchAborts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mismatched contents"))
	})
	mux.HandleFunc("/api/nfnode/package-update/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	client := httpclient.New(httpclient.Config{BaseURL: srv.URL})
	device := devicemodel.DeviceInfo{ID: "d1"}
	runner := &fakeRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	u := NewPackageUpdater(client, device, logger, runner, dir, filepath.Join(dir, "marker"), "/bin/true")

	resp := &PackageCheckResponse{
		UpdateAvailable: true,
		DownloadLink:    srv.URL + "/download",
		Checksum:        "0000000000000000000000000000000000000000000000000000000000000",
		NewVersion:      "2.0.0",
	}

	if err := u.Apply(context.Background(), resp); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
	if len(runner.calls) != 0 {
		t.Fatal("upgrade script must not run after a checksum mismatch")
	}
	if _, err := os.Stat(filepath.Join(dir, "marker")); !os.IsNotExist(err) {
		t.Fatal("marker must not be written after a checksum mismatch")
	}
}

func TestPackageUpdaterCheckCompletion(t *testing.T) {
	statuses := []string{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/nfnode/package-update/status", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		statuses = append(statuses, body["status"].(string))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	markerPath := filepath.Join(dir, "marker")
	client := httpclient.New(httpclient.Config{BaseURL: srv.URL})
	device := devicemodel.DeviceInfo{ID: "d1", ServicesVersion: "1.1.0"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	u := NewPackageUpdater(client, device, logger, &fakeRunner{}, dir, markerPath, "/bin/true")

	if err := WriteMarker(markerPath, "1.1.0"); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}
	u.CheckCompletion(context.Background())

	if len(statuses) != 1 || statuses[0] != "completed" {
		t.Fatalf("statuses = %v, want [completed]", statuses)
	}
}
