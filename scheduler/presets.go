package scheduler

import "time"

// Preset maps a human-facing schedule label to a 5-field cron expression
// and the maximum random per-firing delay. The set is closed: clients
// pick a label, never a raw cron expression.
type Preset struct {
	Label    string
	Cron     string
	MaxDelay time.Duration
}

var presets = []Preset{
	{"Daily (morning)", "0 7 * * *", 3 * time.Hour},
	{"Daily (afternoon)", "0 12 * * *", 3 * time.Hour},
	{"Daily (evening)", "0 17 * * *", 3 * time.Hour},
	{"Weekdays (morning)", "0 7 * * 1-5", 3 * time.Hour},
	{"Weekdays (afternoon)", "0 12 * * 1-5", 3 * time.Hour},
	{"Weekdays (evening)", "0 17 * * 1-5", 3 * time.Hour},
	{"Weekly (morning)", "0 7 * * 1", 3 * time.Hour},
	{"Weekly (afternoon)", "0 12 * * 1", 3 * time.Hour},
	{"Weekly (evening)", "0 17 * * 1", 3 * time.Hour},
}

// LookupPreset returns the preset for a label.
func LookupPreset(label string) (Preset, bool) {
	for _, p := range presets {
		if p.Label == label {
			return p, true
		}
	}
	return Preset{}, false
}

// PresetLabels returns all labels in table order.
func PresetLabels() []string {
	labels := make([]string, len(presets))
	for i, p := range presets {
		labels[i] = p.Label
	}
	return labels
}
