// Package credstore persists and loads the small JSON blobs the
// agent keeps under its data directory: registration and the access
// token (spec.md §3, §6). Writes are open-truncate-write-close, which
// spec.md §5 notes is atomic enough for the small sizes involved; no
// multi-process writer contention is expected.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store reads and writes JSON blobs under a data directory.
type Store struct {
	dataPath string
}

// New returns a Store rooted at dataPath. The directory is not
// created here; it must already exist (part of the bootstrap gate
// spec.md §9 treats as fatal before the scheduler starts).
func New(dataPath string) *Store {
	return &Store{dataPath: dataPath}
}

// Path returns the absolute path of a named blob under the data
// directory, e.g. Path("access-token.json").
func (s *Store) Path(name string) string {
	return filepath.Join(s.dataPath, name)
}

// Load reads and JSON-decodes the named blob into v. It returns
// os.ErrNotExist (wrapped) if the file is absent, letting callers
// distinguish "never persisted" from "persisted but invalid".
func (s *Store) Load(name string, v any) error {
	path := s.Path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Save JSON-encodes v and writes it to the named blob, truncating
// any previous content.
func (s *Store) Save(name string, v any) error {
	path := s.Path(name)
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Exists reports whether the named blob is present under the data
// directory.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}
