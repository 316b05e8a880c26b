package term

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/log"
)

// adoptGrace bounds how long Adopt waits for the foreign process to
// release its project state files before respawning with --continue.
const adoptGrace = 200 * time.Millisecond

// Manager is the registry of PTY sessions plus discovery and adoption of
// foreign agent instances.
type Manager struct {
	agentName string
	binPath   string
	stateDir  string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates the session registry. binPath must already be
// resolved; stateDir is the agent CLI's own dot-directory used for
// external activity classification.
func NewManager(agentName, binPath, stateDir string) *Manager {
	return &Manager{
		agentName: agentName,
		binPath:   binPath,
		stateDir:  stateDir,
		sessions:  make(map[string]*Session),
	}
}

// Create spawns a new session in cwd with the given extra CLI arguments
// and registers it. On spawn failure nothing is registered.
func (m *Manager) Create(cwd string, args ...string) (*Session, error) {
	id := uuid.New().String()[:8]
	s := newSession(id, cwd, m.binPath, args)

	if err := s.start(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return s, nil
}

// Get returns the session or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// List returns a snapshot of all session records.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Destroy stops the session and removes it from the registry. Destroying
// an unknown or already-destroyed id is a no-op.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if s == nil {
		return
	}
	if err := s.Stop(); err != nil {
		log.Warn().Str("sessionId", id).Err(err).Msg("failed to stop session")
	}
}

// DestroyAll tears down every session; used at server shutdown.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}

// DiscoverExternal scans the host for agent CLI processes this server
// does not own: managed session children and the server's own process
// are excluded. Each instance carries an activity classification derived
// from the agent's per-project state files.
func (m *Manager) DiscoverExternal() ([]ExternalInstance, error) {
	procs, err := findProcesses(m.agentName)
	if err != nil {
		return nil, err
	}

	owned := map[int]bool{os.Getpid(): true}
	m.mu.RLock()
	for _, s := range m.sessions {
		if pid := s.PID(); pid != 0 {
			owned[pid] = true
		}
	}
	m.mu.RUnlock()

	instances := make([]ExternalInstance, 0, len(procs))
	for _, p := range procs {
		if owned[p.pid] {
			continue
		}
		cwd, err := cwdOf(p.pid)
		if err != nil {
			log.Debug().Int("pid", p.pid).Err(err).Msg("skipping undiscoverable external instance")
			continue
		}
		instances = append(instances, ExternalInstance{
			PID:            p.pid,
			Cwd:            cwd,
			Command:        m.agentName,
			Args:           p.args,
			ActivityStatus: ActivityForCwd(m.stateDir, cwd),
		})
	}
	return instances, nil
}

// Adopt takes over a foreign agent instance: verify the (pid, cwd) pair
// against a fresh discovery snapshot so clients cannot terminate
// arbitrary processes, kill it, wait for its state files to settle, then
// spawn a managed session in the same cwd with --continue so the CLI
// resumes the conversation the foreign process was holding.
func (m *Manager) Adopt(pid int, cwd string) (*Session, error) {
	if pid <= 0 || cwd == "" {
		return nil, fmt.Errorf("adopt requires a pid and a cwd")
	}

	instances, err := m.DiscoverExternal()
	if err != nil {
		return nil, err
	}
	found := false
	for _, inst := range instances {
		if inst.PID == pid && inst.Cwd == cwd {
			found = true
			break
		}
	}
	if !found {
		// Capitalized: the text is surfaced verbatim in client error
		// toasts.
		return nil, fmt.Errorf("Process %d is not running or already terminated", pid)
	}

	if err := killExternal(pid, adoptGrace); err != nil {
		return nil, err
	}

	// Give the dying process a beat to flush its session files, then
	// make sure it is really gone before --continue reads them.
	time.Sleep(150 * time.Millisecond)
	if isAlive(pid) {
		return nil, fmt.Errorf("process %d survived termination, cannot adopt", pid)
	}

	log.Info().Int("pid", pid).Str("cwd", cwd).Msg("adopted external instance")
	return m.Create(cwd, "--continue")
}
