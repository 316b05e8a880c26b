// Package tunnel runs an optional user-supplied subprocess (cloudflared,
// ngrok, etc.) that exposes the server publicly, and scrapes the public
// URL from its output.
package tunnel

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agentdeck/agentdeck/log"
)

var urlRe = regexp.MustCompile(`https://[^\s"']+`)

// Tunnel is one running tunnel subprocess.
type Tunnel struct {
	cmd      *exec.Cmd
	urlCh    chan string
	waitDone chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	url string
}

// Start launches the tunnel command through the shell, substituting
// {port} with the listen port, and begins scanning its output for the
// first https URL it announces.
func Start(cmdline string, port int) (*Tunnel, error) {
	expanded := strings.ReplaceAll(cmdline, "{port}", strconv.Itoa(port))
	cmd := exec.Command("sh", "-c", expanded)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start tunnel: %w", err)
	}

	t := &Tunnel{
		cmd:      cmd,
		urlCh:    make(chan string, 1),
		waitDone: make(chan struct{}),
	}
	go t.scan(stdout)
	go t.scan(stderr)
	go func() {
		cmd.Wait()
		close(t.waitDone)
	}()

	log.Info().Str("cmd", expanded).Msg("tunnel started")
	return t, nil
}

// scan watches one output stream for the announced public URL. Tunnel
// tools print it exactly once, to either stream.
func (t *Tunnel) scan(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if m := urlRe.FindString(line); m != "" {
			t.mu.Lock()
			if t.url == "" {
				t.url = m
				select {
				case t.urlCh <- m:
				default:
				}
			}
			t.mu.Unlock()
		}
	}
}

// URL waits up to timeout for the tunnel to announce its public URL.
// Empty means the tunnel never reported one.
func (t *Tunnel) URL(timeout time.Duration) string {
	t.mu.Lock()
	if t.url != "" {
		url := t.url
		t.mu.Unlock()
		return url
	}
	t.mu.Unlock()

	select {
	case url := <-t.urlCh:
		return url
	case <-time.After(timeout):
		return ""
	}
}

// Stop terminates the tunnel subprocess: SIGINT, then SIGKILL after a
// short grace period.
func (t *Tunnel) Stop() {
	t.stopOnce.Do(func() {
		if t.cmd.Process == nil {
			return
		}
		t.cmd.Process.Signal(syscall.SIGINT)

		select {
		case <-t.waitDone:
		case <-time.After(2 * time.Second):
			t.cmd.Process.Kill()
		}
	})
}
