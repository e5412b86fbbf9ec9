package configsync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// maxRollbackFileSize bounds every persisted rollback file (spec.md
// §6: "sizes are bounded to 2 MiB").
const maxRollbackFileSize = 2 * 1024 * 1024

func (s *Store) readHash(name string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(s.hashDir, name))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (s *Store) writeHash(name, value string) error {
	path := filepath.Join(s.hashDir, name)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("writing hash file %s: %w", path, err)
	}
	return nil
}

// resetHash removes a section's persisted fingerprint so the next
// cycle treats it as changed regardless of what the remote payload
// contains (spec.md §4.8's rollback paths: "reset all/only the
// affected section fingerprints").
func (s *Store) resetHash(name string) error {
	path := filepath.Join(s.hashDir, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("resetting hash file %s: %w", path, err)
	}
	return nil
}

func (s *Store) readRollback(name string) ([]byte, error) {
	path := filepath.Join(s.rollbackDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rollback file %s: %w", path, err)
	}
	return data, nil
}

func (s *Store) writeRollback(name string, data []byte) error {
	if len(data) > maxRollbackFileSize {
		return fmt.Errorf("rollback file %s is %d bytes, exceeds %d byte limit", name, len(data), maxRollbackFileSize)
	}
	path := filepath.Join(s.rollbackDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing rollback file %s: %w", path, err)
	}
	return nil
}
