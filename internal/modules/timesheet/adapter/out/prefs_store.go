package out

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"

	"kimaid/internal/modules/timesheet/domain"
	timesheetout "kimaid/internal/modules/timesheet/port/out"
)

// FilePreferenceStore keeps preferences in a single JSON document readable
// only by the owner; it holds the remote password.
type FilePreferenceStore struct {
	path string
}

func NewFilePreferenceStore(path string) timesheetout.PreferenceStore {
	return &FilePreferenceStore{path: path}
}

// Load moves an undecodable file aside to <path>.bak so the next Save starts
// a fresh document.
func (s *FilePreferenceStore) Load(_ context.Context) (domain.Preferences, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Preferences{}, nil
		}
		return domain.Preferences{}, fmt.Errorf("read preferences: %w", err)
	}
	var prefs domain.Preferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		backup := s.path + ".bak"
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			return domain.Preferences{}, fmt.Errorf("%w: %s: %w (keep backup: %v)", domain.ErrCorruptPrefs, s.path, err, renameErr)
		}
		return domain.Preferences{}, fmt.Errorf("%w: %s moved to %s: %w", domain.ErrCorruptPrefs, s.path, backup, err)
	}
	return prefs, nil
}

func (s *FilePreferenceStore) Save(_ context.Context, prefs domain.Preferences) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	raw, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := atomicwriter.WriteFile(s.path, append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}
