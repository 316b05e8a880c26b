package scheduler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, dir string, cb RunCompleteFunc) *Scheduler {
	t.Helper()
	s, err := New(dir, "/bin/echo", cb)
	if err != nil {
		t.Fatalf("scheduler init failed: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestCreatePersists(t *testing.T) {
	dir := t.TempDir()
	s := newTestScheduler(t, dir, nil)

	sched, err := s.Create("nightly", "summarize today", "/repo", "Daily (evening)")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if len(sched.ID) != 8 {
		t.Errorf("expected 8-hex-char id, got %q", sched.ID)
	}
	if sched.CronExpression != "0 17 * * *" {
		t.Errorf("expected derived cron expression, got %q", sched.CronExpression)
	}
	if !sched.Enabled {
		t.Error("new schedules start enabled")
	}
	if _, err := os.Stat(filepath.Join(dir, "schedules.json")); err != nil {
		t.Errorf("schedules file not written: %v", err)
	}
	if list := s.List(); len(list) != 1 || list[0].ID != sched.ID {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestCreateRejectsUnknownPreset(t *testing.T) {
	s := newTestScheduler(t, t.TempDir(), nil)
	if _, err := s.Create("x", "y", "/tmp", "Hourly"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	s := newTestScheduler(t, t.TempDir(), nil)
	if _, err := s.Create("", "y", "/tmp", "Daily (morning)"); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := s.Create("x", "", "/tmp", "Daily (morning)"); err == nil {
		t.Error("expected error for empty prompt")
	}
}

func TestUpdateTogglesEnabled(t *testing.T) {
	s := newTestScheduler(t, t.TempDir(), nil)
	sched, err := s.Create("n", "p", "/tmp", "Weekly (morning)")
	if err != nil {
		t.Fatal(err)
	}

	updated, err := s.Update(sched.ID, false)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Enabled {
		t.Error("expected disabled after update")
	}

	updated, err = s.Update(sched.ID, true)
	if err != nil {
		t.Fatalf("re-enable failed: %v", err)
	}
	if !updated.Enabled {
		t.Error("expected enabled after second update")
	}

	if _, err := s.Update("deadbeef", true); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestDeleteRemovesRunsDirectory(t *testing.T) {
	dir := t.TempDir()
	s := newTestScheduler(t, dir, nil)
	sched, err := s.Create("n", "p", "/tmp", "Daily (morning)")
	if err != nil {
		t.Fatal(err)
	}

	runDir := filepath.Join(dir, "runs", sched.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "2025-01-01T00-00-00Z.log"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(sched.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := os.Stat(runDir); !os.IsNotExist(err) {
		t.Error("runs directory should be removed on delete")
	}
	if list := s.List(); len(list) != 0 {
		t.Errorf("expected empty list after delete, got %+v", list)
	}
	if err := s.Delete(sched.ID); err == nil {
		t.Error("expected error deleting unknown id")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestScheduler(t, dir, nil)
	a, err := s.Create("alpha", "prompt a", "/tmp", "Daily (morning)")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Create("beta", "prompt b", "/tmp", "Weekdays (evening)")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(b.ID, false); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	reloaded := newTestScheduler(t, dir, nil)
	list := reloaded.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 schedules after reload, got %d", len(list))
	}
	if list[0].ID != a.ID || list[0].Name != "alpha" {
		t.Errorf("first schedule mismatch: %+v", list[0])
	}
	if list[1].ID != b.ID || list[1].Enabled {
		t.Errorf("second schedule mismatch: %+v", list[1])
	}
	if list[1].CronExpression != "0 17 * * 1-5" {
		t.Errorf("cron expression lost on reload: %q", list[1].CronExpression)
	}
}

func TestTriggerRunsAndFinalizesOnce(t *testing.T) {
	dir := t.TempDir()
	type outcome struct {
		id   string
		code int
		ts   string
	}
	done := make(chan outcome, 2)
	s := newTestScheduler(t, dir, func(id, name string, code int, ts string) {
		done <- outcome{id, code, ts}
	})

	sched, err := s.Create("nightly", "summarize today", t.TempDir(), "Daily (evening)")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Trigger(sched.ID); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	var got outcome
	select {
	case got = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for run completion")
	}
	if got.id != sched.ID || got.code != 0 {
		t.Fatalf("unexpected outcome %+v", got)
	}

	// The completion callback must fire exactly once per run.
	select {
	case extra := <-done:
		t.Fatalf("finalization fired twice: %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}

	runs, err := s.ListRuns(sched.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].ExitCode == nil || *runs[0].ExitCode != 0 {
		t.Errorf("expected parsed exit code 0, got %v", runs[0].ExitCode)
	}

	content, err := s.RunLog(sched.ID, got.ts)
	if err != nil {
		t.Fatalf("run log read failed: %v", err)
	}
	if !strings.Contains(content, "summarize today") {
		t.Errorf("log missing child output: %q", content)
	}
	if !strings.Contains(content, "# Exit code: 0") {
		t.Errorf("log missing footer: %q", content)
	}

	if got, ok := s.Get(sched.ID); !ok || got.LastRun == nil || got.LastRun.ExitCode != 0 {
		t.Errorf("lastRun not recorded: %+v", got.LastRun)
	}
}

func TestTriggerUnknownSchedule(t *testing.T) {
	s := newTestScheduler(t, t.TempDir(), nil)
	if err := s.Trigger("deadbeef"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestRunLogRejectsTraversal(t *testing.T) {
	s := newTestScheduler(t, t.TempDir(), nil)
	if _, err := s.RunLog("../../etc", "passwd"); err == nil {
		t.Error("expected traversal to be rejected")
	}
	if _, err := s.RunLog("abcd1234", "../secret"); err == nil {
		t.Error("expected traversal to be rejected")
	}
}
