package prefs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if s.Get().NotificationsEnabled {
		t.Error("fresh store must default to notifications disabled")
	}
}

func TestSetPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Set(Preferences{NotificationsEnabled: false}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if s.Get().NotificationsEnabled {
		t.Error("set did not take effect in memory")
	}

	reloaded, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Get().NotificationsEnabled {
		t.Error("set did not survive reload")
	}
}

func TestCorruptFileFailsLoudly(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "preferences.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(dir); err == nil {
		t.Error("expected error for corrupt preferences file")
	}
}
