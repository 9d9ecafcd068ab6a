package out_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	out "kimaid/internal/modules/timesheet/adapter/out"
	"kimaid/internal/modules/timesheet/domain"
)

func TestFilePreferenceStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")
	store := out.NewFilePreferenceStore(path)

	empty, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if empty.Username != "" || empty.TriggerTime != nil {
		t.Fatalf("expected empty preferences, got %+v", empty)
	}

	session := domain.NewSession()
	session.Remember(domain.Credentials{Username: "alice", Password: "secret"})
	if err := session.Authenticated("42"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	schedule := domain.DefaultSchedule()
	schedule.LastSubmission = "2026-10-18"
	if err := store.Save(context.Background(), domain.Snapshot(session, schedule)); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	creds, ok := loaded.Credentials()
	if !ok || creds.Username != "alice" || creds.Password != "secret" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
	if loaded.SessionToken != "42" {
		t.Fatalf("unexpected token %q", loaded.SessionToken)
	}
	if got := loaded.Schedule(domain.DefaultSchedule()); got != schedule {
		t.Fatalf("schedule mismatch: %+v vs %+v", got, schedule)
	}
}

func TestFilePreferenceStoreRejectsCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte(`{"trigger_time":"25:99"}`), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := out.NewFilePreferenceStore(path)
	if _, err := store.Load(context.Background()); !errors.Is(err, domain.ErrCorruptPrefs) {
		t.Fatalf("expected corrupt preferences error, got %v", err)
	}

	backup, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backup) != `{"trigger_time":"25:99"}` {
		t.Fatalf("backup content changed: %q", backup)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("corrupt file should be moved aside, stat err=%v", err)
	}

	prefs, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load after quarantine: %v", err)
	}
	if prefs.Username != "" {
		t.Fatalf("expected empty preferences, got %+v", prefs)
	}
}
