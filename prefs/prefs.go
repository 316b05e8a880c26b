// Package prefs persists the small per-install preference blob that the
// browser client reads back on every authentication.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Preferences is the client-facing preference blob.
type Preferences struct {
	NotificationsEnabled bool `json:"notificationsEnabled"`
}

// Store reads and writes the preferences file under the dot-directory.
type Store struct {
	path string

	mu    sync.Mutex
	prefs Preferences
}

// NewStore loads preferences from dataDir. A fresh install starts with
// notifications disabled; the browser asks for permission before the
// client opts in.
func NewStore(dataDir string) (*Store, error) {
	s := &Store{
		path:  filepath.Join(dataDir, "preferences.json"),
		prefs: Preferences{NotificationsEnabled: false},
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	if err := json.Unmarshal(data, &s.prefs); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}
	return s, nil
}

// Get returns the current preferences.
func (s *Store) Get() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Set replaces the preferences and persists them atomically.
func (s *Store) Set(p Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	s.prefs = p
	return nil
}
