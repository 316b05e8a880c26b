package term

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sanitizeProjectPath munges an absolute working directory the way the
// agent CLI names its per-project state directories: every path
// separator becomes a dash.
func sanitizeProjectPath(cwd string) string {
	return strings.ReplaceAll(cwd, "/", "-")
}

// ActivityForCwd classifies an external (unmanaged) instance by the
// modification times of the agent's per-project state files under
// stateDir/projects/<munged-cwd>. Without a PTY there is no output
// stream to watch, so file churn is the only signal available:
//
//	busy    — some state file changed within the busy window
//	idle    — the project directory exists but is quiet
//	unknown — no state directory for this cwd
func ActivityForCwd(stateDir, cwd string) string {
	projectDir := filepath.Join(stateDir, "projects", sanitizeProjectPath(cwd))

	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return ActivityUnknown
	}

	var newest time.Time
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	if newest.IsZero() {
		return ActivityIdle
	}
	if time.Since(newest) < busyWindow {
		return ActivityBusy
	}
	return ActivityIdle
}
