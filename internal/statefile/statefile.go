// Package statefile persists allocator state between launcher runs as a
// packed LibState record.
package statefile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"qsnet-switch/internal/allocator"
	"qsnet-switch/internal/codec"
	"qsnet-switch/internal/qswerr"

	"github.com/cockroachdb/errors"
)

// DefaultPath returns $QSW_STATE_FILE, or "" when state is not persisted.
func DefaultPath() string {
	return strings.TrimSpace(os.Getenv("QSW_STATE_FILE"))
}

// Load reads a saved allocator state. A missing file returns nil, nil.
func Load(path string) (*allocator.State, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read state file %s", path)
	}
	s, rest, err := codec.DecodeLibState(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "state file %s", path)
	}
	if len(rest) != 0 {
		return nil, qswerr.Corruptf("state file %s has %d trailing bytes", path, len(rest))
	}
	return &s, nil
}

// Save writes s to path atomically.
func Save(path string, s allocator.State) error {
	if path == "" {
		return fmt.Errorf("state file path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(codec.EncodeLibState(s)); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	ok = true
	return nil
}

// Restore loads path into a freshly constructed allocator. An empty path or
// missing file starts the allocator from its range minimums.
func Restore(a *allocator.Allocator, path string) error {
	var saved *allocator.State
	if path != "" {
		s, err := Load(path)
		if err != nil {
			return err
		}
		saved = s
	}
	return a.Init(saved)
}

// Persist finalizes a and saves its state to path. An empty path only
// finalizes.
func Persist(a *allocator.Allocator, path string) error {
	s, err := a.Finalize()
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	return Save(path, s)
}
