package term

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentdeck/agentdeck/log"
)

// ExternalInstance is an agent CLI process found on the host that this
// server does not own. It has no PTY and no history; it can only be
// listed or adopted.
type ExternalInstance struct {
	PID            int      `json:"pid"`
	Cwd            string   `json:"cwd"`
	Command        string   `json:"command"`
	Args           []string `json:"args"`
	ActivityStatus string   `json:"activityStatus"`
}

type foundProcess struct {
	pid  int
	args []string
}

// findProcesses scans the host process table for the current user's live
// processes whose argv invokes the named binary. Zombies are skipped
// (they cannot be adopted), as are macOS .app bundle helpers whose path
// merely contains the name.
func findProcesses(name string) ([]foundProcess, error) {
	out, err := exec.Command("ps", "-eo", "user=,pid=,stat=,args=").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	currentUser := currentUsername()

	var procs []foundProcess
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		if currentUser != "" && fields[0] != currentUser {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		if strings.HasPrefix(fields[2], "Z") {
			continue
		}
		argv := fields[3:]
		if strings.Contains(argv[0], ".app/") {
			continue
		}
		// Match "claude", "/usr/local/bin/claude", "node .../claude".
		base := argv[0][strings.LastIndex(argv[0], "/")+1:]
		if base == name {
			procs = append(procs, foundProcess{pid: pid, args: argv[1:]})
			continue
		}
		if len(argv) > 1 {
			argBase := argv[1][strings.LastIndex(argv[1], "/")+1:]
			if base == "node" && argBase == name {
				procs = append(procs, foundProcess{pid: pid, args: argv[2:]})
			}
		}
	}
	return procs, nil
}

// currentUsername resolves the invoking user from the passwd database,
// falling back to $USER in environments without one (static containers).
// Empty means unknown; the process scan then skips the ownership filter.
func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// cwdOf resolves a process's working directory: /proc on Linux, lsof
// elsewhere.
func cwdOf(pid int) (string, error) {
	if cwd, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid)); err == nil {
		return cwd, nil
	}

	out, err := exec.Command("lsof", "-a", "-d", "cwd", "-p", strconv.Itoa(pid), "-Fn").Output()
	if err != nil {
		return "", fmt.Errorf("cannot resolve cwd of pid %d: %w", pid, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "n") {
			return strings.TrimPrefix(line, "n"), nil
		}
	}
	return "", fmt.Errorf("cannot resolve cwd of pid %d", pid)
}

// isAlive reports whether the pid still exists (signal 0 probe).
func isAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// killExternal terminates a foreign agent process: SIGTERM first, then
// polls for exit and escalates to SIGKILL after the grace budget.
func killExternal(pid int, grace time.Duration) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !isAlive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	log.Warn().Int("pid", pid).Msg("external process ignored SIGTERM, sending SIGKILL")
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}
	return nil
}
