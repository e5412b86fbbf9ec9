package configsync

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExecRendererDevEnvSkipsScript(t *testing.T) {
	r := ExecRenderer{ScriptsPath: "/does/not/exist", DevEnv: true}
	if err := r.Render(context.Background(), "wireless", []byte(`{}`)); err != nil {
		t.Fatalf("Render in dev_env should be a no-op, got: %v", err)
	}
}

func TestExecRendererRunsScriptWithSectionAndFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script renderer assumes a POSIX shell")
	}
	scriptsDir := t.TempDir()
	marker := filepath.Join(scriptsDir, "marker.txt")
	script := filepath.Join(scriptsDir, "render-config.sh")
	body := "#!/bin/sh\necho \"$1\" > \"" + marker + "\"\ncat \"$2\" >> \"" + marker + "\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("writing fake render script: %v", err)
	}

	r := ExecRenderer{ScriptsPath: scriptsDir}
	if err := r.Render(context.Background(), "wireless", []byte(`{"ssid":"test"}`)); err != nil {
		t.Fatalf("Render: %v", err)
	}

	got, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	want := "wireless\n{\"ssid\":\"test\"}"
	if string(got) != want {
		t.Fatalf("marker contents = %q, want %q", got, want)
	}
}
