package updater

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVerifyChecksumMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	// sha256("hello world")
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if err := VerifyChecksum(path, want); err != nil {
		t.Fatalf("VerifyChecksum: %v", err)
	}
	if err := VerifyChecksum(path, "DEADBEEF"); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestWriteAndCheckMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marker")

	if _, ok, err := CheckMarker(path, "1.0.0"); err != nil || ok {
		t.Fatalf("expected no marker present, got ok=%v err=%v", ok, err)
	}

	if err := WriteMarker(path, "1.1.0"); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}

	completed, ok, err := CheckMarker(path, "1.1.0")
	if err != nil {
		t.Fatalf("CheckMarker: %v", err)
	}
	if !ok || !completed {
		t.Fatalf("ok=%v completed=%v, want true/true", ok, completed)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected marker to be removed after check")
	}

	if err := WriteMarker(path, "2.0.0"); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}
	completed, ok, err = CheckMarker(path, "1.1.0")
	if err != nil {
		t.Fatalf("CheckMarker: %v", err)
	}
	if !ok || completed {
		t.Fatalf("ok=%v completed=%v, want true/false for a version mismatch", ok, completed)
	}
}
