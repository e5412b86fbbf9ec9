// Package updater implements the firmware and package updaters
// (spec.md §4.7, C11): remote check, signed download, checksum
// verify, apply, and mark-and-report lifecycle across a reboot.
//
// spec.md §9 flags that the source's "update_available" field is a
// boolean for the package updater but a tri-state {0,1,2} for the
// firmware updater, and that these two conventions must not be
// unified. This package keeps them as two distinct response types
// (PackageCheckResponse.UpdateAvailable bool vs.
// FirmwareCheckResponse.UpdateAvailable FirmwareUpdateState) rather
// than coercing both into one shape.
package updater

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// VerifyChecksum computes the SHA-256 of the file at path and compares
// it (case-insensitively) against want. Mismatches are reported as an
// error so callers can abort the apply step, per spec.md §4.7.
func VerifyChecksum(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for checksum: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !equalFoldHex(got, want) {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", path, got, want)
	}
	return nil
}

func equalFoldHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// WriteMarker writes the update marker file recording the target
// version, so a later boot can confirm the upgrade actually took
// (spec.md §4.7, §6's update-marker path).
func WriteMarker(path, version string) error {
	if err := os.WriteFile(path, []byte(version), 0o644); err != nil {
		return fmt.Errorf("writing update marker %s: %w", path, err)
	}
	return nil
}

// CheckMarker reads the update marker, if present, and reports
// whether runningVersion matches the marked target version. The
// marker is removed in both the match and mismatch case (spec.md
// §4.7: "Marker is removed in both cases"). ok is false with a nil
// error when no marker exists (nothing to check on this boot).
func CheckMarker(path, runningVersion string) (completed bool, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("reading update marker %s: %w", path, err)
	}
	_ = os.Remove(path)
	return string(data) == runningVersion, true, nil
}
