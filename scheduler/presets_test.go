package scheduler

import (
	"testing"
	"time"
)

func TestPresetTable(t *testing.T) {
	want := map[string]string{
		"Daily (morning)":      "0 7 * * *",
		"Daily (afternoon)":    "0 12 * * *",
		"Daily (evening)":      "0 17 * * *",
		"Weekdays (morning)":   "0 7 * * 1-5",
		"Weekdays (afternoon)": "0 12 * * 1-5",
		"Weekdays (evening)":   "0 17 * * 1-5",
		"Weekly (morning)":     "0 7 * * 1",
		"Weekly (afternoon)":   "0 12 * * 1",
		"Weekly (evening)":     "0 17 * * 1",
	}

	labels := PresetLabels()
	if len(labels) != len(want) {
		t.Fatalf("expected %d presets, got %d", len(want), len(labels))
	}

	for label, cronExpr := range want {
		p, ok := LookupPreset(label)
		if !ok {
			t.Errorf("missing preset %q", label)
			continue
		}
		if p.Cron != cronExpr {
			t.Errorf("%s: expected cron %q, got %q", label, cronExpr, p.Cron)
		}
		if p.MaxDelay != 3*time.Hour {
			t.Errorf("%s: expected 3h max delay, got %v", label, p.MaxDelay)
		}
	}
}

func TestLookupPresetUnknown(t *testing.T) {
	if _, ok := LookupPreset("Hourly"); ok {
		t.Error("unknown label must not resolve")
	}
}

func TestRandomDelayBounds(t *testing.T) {
	if d := randomDelay(0); d != 0 {
		t.Errorf("zero max must yield zero delay, got %v", d)
	}
	for i := 0; i < 100; i++ {
		d := randomDelay(time.Hour)
		if d < 0 || d >= time.Hour {
			t.Fatalf("delay %v outside [0, 1h)", d)
		}
	}
}
