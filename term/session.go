// Package term owns interactive agent CLI processes running inside
// pseudo-terminals: spawning, raw I/O, bounded replay history, activity
// classification, and discovery/adoption of foreign instances.
package term

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/agentdeck/agentdeck/log"
)

// Session status values.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Activity status values.
const (
	ActivityBusy    = "busy"
	ActivityIdle    = "idle"
	ActivityUnknown = "unknown"
)

const (
	initialCols = 120
	initialRows = 40

	// busyWindow is how recent the last output byte must be for a
	// running session to count as busy.
	busyWindow = 30 * time.Second

	// stopGrace is how long Stop waits after SIGINT before escalating
	// to SIGKILL. Agent CLIs are Node processes: they handle SIGINT
	// (flushing session files) but ignore SIGTERM.
	stopGrace = 200 * time.Millisecond
)

// OutputFunc receives each PTY read verbatim plus its parsed events.
type OutputFunc func(data []byte, events []Event)

// ExitFunc receives the child's exit code exactly once.
type ExitFunc func(code int)

type subscriber struct {
	output OutputFunc
	exit   ExitFunc
}

// Info is the JSON-safe session record.
type Info struct {
	ID             string    `json:"id"`
	Cwd            string    `json:"cwd"`
	CreatedAt      time.Time `json:"createdAt"`
	Status         string    `json:"status"`
	ActivityStatus string    `json:"activityStatus"`
	PID            int       `json:"pid,omitempty"`
}

// Session owns one agent CLI child attached to a pseudo-terminal.
// While status is running the PTY master is open and owned by the
// session's read loop; after stop no further output is emitted.
type Session struct {
	ID        string
	Cwd       string
	CreatedAt time.Time
	Args      []string

	binPath string

	mu         sync.RWMutex
	ptmx       *os.File
	cmd        *exec.Cmd
	status     string
	lastOutput time.Time
	exitCode   int
	exitSent   bool
	subs       map[int]*subscriber
	nextSubID  int

	history    *History
	readerDone chan struct{}
}

func newSession(id, cwd, binPath string, args []string) *Session {
	return &Session{
		ID:         id,
		Cwd:        cwd,
		CreatedAt:  time.Now(),
		Args:       args,
		binPath:    binPath,
		status:     StatusStopped,
		history:    NewHistory(HistoryLimit),
		subs:       make(map[int]*subscriber),
		readerDone: make(chan struct{}),
	}
}

// start spawns the child in the session's cwd with an xterm-256color PTY
// at 120x40. Spawn failures are returned synchronously; the session stays
// stopped and emits nothing.
func (s *Session) start() error {
	info, err := os.Stat(s.Cwd)
	if err != nil {
		return fmt.Errorf("working directory %q does not exist", s.Cwd)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory %q is not a directory", s.Cwd)
	}

	cmd := exec.Command(s.binPath, s.Args...)
	cmd.Dir = s.Cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "FORCE_COLOR=1")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: initialRows,
		Cols: initialCols,
	})
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", s.binPath, err)
	}

	s.mu.Lock()
	s.ptmx = ptmx
	s.cmd = cmd
	s.status = StatusRunning
	s.lastOutput = time.Now()
	s.mu.Unlock()

	go s.readLoop(ptmx)
	go s.waitLoop(cmd)

	log.Info().
		Str("sessionId", s.ID).
		Int("pid", cmd.Process.Pid).
		Str("cwd", s.Cwd).
		Msg("session started")

	return nil
}

// readLoop reads the PTY master until it closes and fans each chunk out
// to subscribers. The history append and the fan-out happen inside one
// critical section of s.mu, the same mutex Attach snapshots under, so a
// chunk is either in an attach's replay snapshot or delivered to it
// live, never both.
func (s *Session) readLoop(ptmx *os.File) {
	defer close(s.readerDone)

	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			events := Classify(data)

			s.mu.Lock()
			s.history.Append(data)
			s.lastOutput = time.Now()
			for _, sub := range s.subs {
				if sub.output != nil {
					sub.output(data, events)
				}
			}
			s.mu.Unlock()
		}
		if err != nil {
			// EIO when the child exits; shutdown races land here too.
			return
		}
	}
}

// waitLoop reaps the child and emits exit exactly once, after the read
// loop has drained every byte the server will ever observe. The exit
// fan-out runs inside the same critical section that flips exitSent, so
// an Attach either lands before it (and its handler is invoked here) or
// after it (and sees the recorded exit state instead) — never both, and
// a completed cancel is never followed by a late callback.
func (s *Session) waitLoop(cmd *exec.Cmd) {
	err := cmd.Wait()
	<-s.readerDone

	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	if code < 0 {
		// Killed by signal.
		code = 1
	}

	s.mu.Lock()
	if s.exitSent {
		s.mu.Unlock()
		return
	}
	s.exitSent = true
	s.status = StatusStopped
	s.exitCode = code
	if s.ptmx != nil {
		s.ptmx.Close()
		s.ptmx = nil
	}
	for _, sub := range s.subs {
		if sub.exit != nil {
			sub.exit(code)
		}
	}
	s.mu.Unlock()

	if err != nil {
		log.Debug().Str("sessionId", s.ID).Int("code", code).Err(err).Msg("child exited")
	} else {
		log.Info().Str("sessionId", s.ID).Int("code", code).Msg("child exited")
	}
}

// Write forwards input bytes to the PTY master. No-op once stopped.
func (s *Session) Write(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status != StatusRunning || s.ptmx == nil {
		return nil
	}
	_, err := s.ptmx.Write(data)
	return err
}

// Resize changes the PTY geometry. Resizes after stop are swallowed.
func (s *Session) Resize(cols, rows int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status != StatusRunning || s.ptmx == nil {
		return nil
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// Stop terminates the child: SIGINT first, SIGKILL after the grace
// budget. Idempotent; the wait loop performs the actual teardown.
func (s *Session) Stop() error {
	s.mu.RLock()
	stopped := s.status == StatusStopped
	var proc *os.Process
	if s.cmd != nil {
		proc = s.cmd.Process
	}
	s.mu.RUnlock()

	if stopped || proc == nil {
		return nil
	}

	if err := proc.Signal(syscall.SIGINT); err != nil {
		proc.Kill()
		return nil
	}

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if s.Status() == StatusStopped {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}

	log.Warn().Str("sessionId", s.ID).Msg("child ignored SIGINT, sending SIGKILL")
	proc.Kill()
	return nil
}

// Attach subscribes output and exit handlers and returns the history
// snapshot taken atomically with the subscription: no chunk can be both
// in the snapshot and delivered live. When the child has already exited,
// exited is true with its code and the exit handler will never fire, so
// each attachment observes the exit through exactly one of the two
// paths. The returned cancel detaches both handlers and, because
// fan-outs run under the same lock, returns only after any in-flight
// callback has completed.
func (s *Session) Attach(output OutputFunc, exit ExitFunc) (history []byte, exited bool, exitCode int, cancel func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = &subscriber{output: output, exit: exit}
	history = s.history.Bytes()
	exited = s.exitSent
	exitCode = s.exitCode
	s.mu.Unlock()

	return history, exited, exitCode, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Status returns running or stopped.
func (s *Session) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ExitCode returns the child's exit code; meaningful once stopped.
func (s *Session) ExitCode() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitCode
}

// PID returns the child's process id, or 0 when never started.
func (s *Session) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// History returns the replay buffer as one contiguous byte sequence.
func (s *Session) History() []byte {
	return s.history.Bytes()
}

// ActivityStatus is idle once stopped, busy while output arrived within
// the busy window, idle otherwise.
func (s *Session) ActivityStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status != StatusRunning {
		return ActivityIdle
	}
	if time.Since(s.lastOutput) < busyWindow {
		return ActivityBusy
	}
	return ActivityIdle
}

// Info returns the JSON-safe session record.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	activity := ActivityIdle
	if s.status == StatusRunning && time.Since(s.lastOutput) < busyWindow {
		activity = ActivityBusy
	}

	info := Info{
		ID:             s.ID,
		Cwd:            s.Cwd,
		CreatedAt:      s.CreatedAt,
		Status:         s.status,
		ActivityStatus: activity,
	}
	if s.cmd != nil && s.cmd.Process != nil && s.status == StatusRunning {
		info.PID = s.cmd.Process.Pid
	}
	return info
}
