package term

import (
	"bytes"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// waitFor polls a condition until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// collector accumulates output from a session attachment.
type collector struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	exit chan int
}

func newCollector() *collector {
	return &collector{exit: make(chan int, 1)}
}

func (c *collector) output(data []byte, _ []Event) {
	c.mu.Lock()
	c.buf.Write(data)
	c.mu.Unlock()
}

func (c *collector) onExit(code int) {
	c.exit <- code
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager("sh", "/bin/sh", t.TempDir())
}

func TestSessionWriteEchoExit(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.Create(t.TempDir(), "-c", `read line && echo "pong:$line"`)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer m.DestroyAll()

	col := newCollector()
	_, _, _, cancel := sess.Attach(col.output, col.onExit)
	defer cancel()

	if err := sess.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	waitFor(t, 5*time.Second, "echoed output", func() bool {
		return bytes.Contains([]byte(col.String()), []byte("pong:ping"))
	})

	select {
	case code := <-col.exit:
		if code != 0 {
			t.Errorf("expected exit code 0, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	if sess.Status() != StatusStopped {
		t.Errorf("expected stopped after exit, got %q", sess.Status())
	}
}

func TestSessionNonZeroExitCode(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.Create(t.TempDir(), "-c", "exit 3")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	waitFor(t, 5*time.Second, "child exit", func() bool {
		return sess.Status() == StatusStopped
	})
	if code := sess.ExitCode(); code != 3 {
		t.Errorf("expected exit code 3, got %d", code)
	}
}

func TestSessionHistoryReplay(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.Create(t.TempDir(), "-c", "echo marker && sleep 5")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer m.DestroyAll()

	waitFor(t, 5*time.Second, "marker in history", func() bool {
		return bytes.Contains(sess.History(), []byte("marker"))
	})

	col := newCollector()
	history, _, _, cancel := sess.Attach(col.output, col.onExit)
	defer cancel()

	if !bytes.Contains(history, []byte("marker")) {
		t.Errorf("attach snapshot missing earlier output: %q", history)
	}
}

func TestSessionExitEmittedAtMostOnce(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.Create(t.TempDir(), "-c", "exit 0")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	col := newCollector()
	_, exited, exitCode, cancel := sess.Attach(col.output, col.onExit)
	defer cancel()

	waitFor(t, 5*time.Second, "child exit", func() bool {
		return sess.Status() == StatusStopped
	})

	// The attachment observes the exit through exactly one path: either
	// the attach reported it already recorded, or the handler fires once.
	if exited {
		if exitCode != 0 {
			t.Errorf("expected recorded exit code 0, got %d", exitCode)
		}
		select {
		case code := <-col.exit:
			t.Fatalf("exit reported at attach and delivered again, code %d", code)
		case <-time.After(200 * time.Millisecond):
		}
		return
	}
	select {
	case <-col.exit:
	case <-time.After(time.Second):
		t.Fatal("exit never delivered")
	}
	select {
	case code := <-col.exit:
		t.Fatalf("exit delivered twice, second code %d", code)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestSessionExitObservedExactlyOncePerAttach hammers the window between
// child exit and attach: every attachment must see the exit either as
// recorded state returned by Attach or as one handler invocation, never
// both and never twice.
func TestSessionExitObservedExactlyOncePerAttach(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 20; i++ {
		sess, err := m.Create(t.TempDir(), "-c", "exit 0")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		col := newCollector()
		_, exited, _, cancel := sess.Attach(col.output, col.onExit)

		waitFor(t, 5*time.Second, "child exit", func() bool {
			return sess.Status() == StatusStopped
		})

		delivered := 0
	drain:
		for {
			select {
			case <-col.exit:
				delivered++
			case <-time.After(300 * time.Millisecond):
				break drain
			}
		}

		observed := delivered
		if exited {
			observed++
		}
		if observed != 1 {
			t.Fatalf("iteration %d: exit observed %d times (attach-reported=%v, delivered=%d)",
				i, observed, exited, delivered)
		}
		cancel()
	}
}

// TestAttachMidStreamDoesNotDuplicateOutput attaches while the child is
// still printing and verifies that the replay snapshot concatenated with
// the live deliveries reproduces the stream exactly, with no chunk
// repeated or dropped across the boundary.
func TestAttachMidStreamDoesNotDuplicateOutput(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 5; i++ {
		sess, err := m.Create(t.TempDir(), "-c", "seq 1 10000")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		// Let some output land first so the snapshot is non-trivial.
		waitFor(t, 5*time.Second, "initial output", func() bool {
			return len(sess.History()) > 0
		})

		col := newCollector()
		history, exited, _, cancel := sess.Attach(col.output, col.onExit)

		if !exited {
			select {
			case <-col.exit:
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for exit")
			}
		}
		cancel()

		stream := string(history) + col.String()
		stream = strings.ReplaceAll(stream, "\r\n", "\n")

		want := 1
		for _, line := range strings.Split(stream, "\n") {
			if line == "" {
				continue
			}
			n, err := strconv.Atoi(line)
			if err != nil {
				t.Fatalf("iteration %d: non-numeric line %q", i, line)
			}
			if n != want {
				t.Fatalf("iteration %d: expected %d, got %d (replay/live boundary corrupted the stream)", i, want, n)
			}
			want++
		}
		if want != 10001 {
			t.Fatalf("iteration %d: stream ended at %d, want full sequence", i, want-1)
		}
	}
}

func TestResizeAfterStopIsNotAnError(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.Create(t.TempDir(), "-c", "exit 0")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	waitFor(t, 5*time.Second, "child exit", func() bool {
		return sess.Status() == StatusStopped
	})

	if err := sess.Resize(80, 24); err != nil {
		t.Errorf("resize after stop should be swallowed, got %v", err)
	}
	if err := sess.Write([]byte("ignored")); err != nil {
		t.Errorf("write after stop should be a no-op, got %v", err)
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.Create(t.TempDir(), "-c", "sleep 30")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := sess.Stop(); err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	waitFor(t, 5*time.Second, "child exit", func() bool {
		return sess.Status() == StatusStopped
	})
	if err := sess.Stop(); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
}

func TestSessionActivityStatus(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.Create(t.TempDir(), "-c", "echo hi && sleep 5")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer m.DestroyAll()

	waitFor(t, 5*time.Second, "first output", func() bool {
		return len(sess.History()) > 0
	})
	if got := sess.ActivityStatus(); got != ActivityBusy {
		t.Errorf("expected busy right after output, got %q", got)
	}

	sess.Stop()
	waitFor(t, 5*time.Second, "child exit", func() bool {
		return sess.Status() == StatusStopped
	})
	if got := sess.ActivityStatus(); got != ActivityIdle {
		t.Errorf("expected idle once stopped, got %q", got)
	}
}
