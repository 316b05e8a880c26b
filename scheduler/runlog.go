package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentdeck/agentdeck/log"
)

// retentionAge is how long run logs are kept, by file mtime.
const retentionAge = 7 * 24 * time.Hour

// Run is one schedule execution as reconstructed from its log file.
// ExitCode and DurationMs are nil while the run is still in flight
// (no footer yet).
type Run struct {
	ScheduleID string `json:"scheduleId"`
	Timestamp  string `json:"timestamp"`
	ExitCode   *int   `json:"exitCode"`
	DurationMs *int64 `json:"durationMs"`
	Path       string `json:"path"`
}

// footerRe parses the authoritative run-log footer:
//
//	---
//	# Finished: <iso8601>
//	# Exit code: <int>
//	# Duration: <int>ms
var footerRe = regexp.MustCompile(
	`(?m)^---\n# Finished: .+\n# Exit code: (-?\d+)\n# Duration: (\d+)ms\s*$`)

// SafeTimestamp renders an instant as ISO-8601 with colons replaced by
// dashes so it can serve as a file name.
func SafeTimestamp(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format(time.RFC3339), ":", "-")
}

func writeHeader(f *os.File, startedAt time.Time, name, prompt, cwd string) error {
	_, err := fmt.Fprintf(f, "# Started: %s\n# Schedule: %s\n# Prompt: %s\n# Cwd: %s\n---\n",
		startedAt.UTC().Format(time.RFC3339), name, prompt, cwd)
	return err
}

func writeFooter(f *os.File, finishedAt time.Time, exitCode int, duration time.Duration) error {
	_, err := fmt.Fprintf(f, "\n---\n# Finished: %s\n# Exit code: %d\n# Duration: %dms\n",
		finishedAt.UTC().Format(time.RFC3339), exitCode, duration.Milliseconds())
	return err
}

// parseRun reads one log file and extracts its footer, if written.
func parseRun(scheduleID, path string) Run {
	timestamp := strings.TrimSuffix(filepath.Base(path), ".log")
	run := Run{ScheduleID: scheduleID, Timestamp: timestamp, Path: path}

	content, err := os.ReadFile(path)
	if err != nil {
		return run
	}
	if m := footerRe.FindStringSubmatch(string(content)); m != nil {
		if code, err := strconv.Atoi(m[1]); err == nil {
			run.ExitCode = &code
		}
		if ms, err := strconv.ParseInt(m[2], 10, 64); err == nil {
			run.DurationMs = &ms
		}
	}
	return run
}

// listRuns returns the runs recorded under dir for one schedule, newest
// first. The safe-timestamp file names sort lexicographically in
// chronological order.
func listRuns(runsDir, scheduleID string) ([]Run, error) {
	dir := filepath.Join(runsDir, scheduleID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Run{}, nil
		}
		return nil, err
	}

	runs := make([]Run, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		runs = append(runs, parseRun(scheduleID, filepath.Join(dir, entry.Name())))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp > runs[j].Timestamp
	})
	return runs, nil
}

// sweepRuns deletes run logs older than the retention age and removes
// per-schedule directories the sweep emptied.
func sweepRuns(runsDir string, cutoff time.Time) {
	scheduleDirs, err := os.ReadDir(runsDir)
	if err != nil {
		return
	}

	for _, sd := range scheduleDirs {
		if !sd.IsDir() {
			continue
		}
		dir := filepath.Join(runsDir, sd.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		remaining := 0
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
					log.Warn().Str("file", entry.Name()).Err(err).Msg("failed to delete expired run log")
					remaining++
				}
			} else {
				remaining++
			}
		}
		if remaining == 0 {
			os.Remove(dir)
		}
	}
}

// expandHome expands a leading ~ against the user's home directory.
func expandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
