// Package hub multiplexes browser connections onto PTY sessions: one
// WebSocket per client, binary frames for JSON control traffic, text
// frames for raw terminal bytes.
package hub

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/auth"
	"github.com/agentdeck/agentdeck/log"
	"github.com/agentdeck/agentdeck/prefs"
	"github.com/agentdeck/agentdeck/scheduler"
	"github.com/agentdeck/agentdeck/term"
)

// statusInterval is the cadence of the session:status broadcast.
const statusInterval = 5 * time.Second

// inputPreviewLen bounds the preview text of input_required events.
const inputPreviewLen = 150

// Hub owns the connected-client set, the periodic status broadcast, and
// per-session observers that surface ask_user prompts to every
// authenticated client.
type Hub struct {
	gate    *auth.Gate
	manager *term.Manager
	sched   *scheduler.Scheduler
	prefs   *prefs.Store
	dataDir string

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	watchers map[string]func()

	stop     chan struct{}
	stopOnce sync.Once
}

// New wires the hub to its collaborators. The scheduler is attached
// afterwards via SetScheduler because its run-complete callback points
// back at the hub.
func New(gate *auth.Gate, manager *term.Manager, prefsStore *prefs.Store, dataDir string) *Hub {
	return &Hub{
		gate:     gate,
		manager:  manager,
		prefs:    prefsStore,
		dataDir:  dataDir,
		clients:  make(map[*Client]struct{}),
		watchers: make(map[string]func()),
		stop:     make(chan struct{}),
	}
}

// SetScheduler attaches the scheduler once constructed.
func (h *Hub) SetScheduler(s *scheduler.Scheduler) {
	h.sched = s
}

// Run starts the periodic status broadcast; it returns when Stop is
// called.
func (h *Hub) Run() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.broadcastStatus()
		case <-h.stop:
			return
		}
	}
}

// Stop halts the broadcast loop and disconnects every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Broadcast sends a control event to every authenticated client.
func (h *Hub) Broadcast(typ string, fields E) {
	data := encodeEvent(typ, fields)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.isAuthenticated() {
			c.enqueueBinary(data)
		}
	}
}

// hasAuthenticatedClients reports whether any client would receive a
// broadcast; the status loop skips its process-table scan when nobody
// is listening.
func (h *Hub) hasAuthenticatedClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.isAuthenticated() {
			return true
		}
	}
	return false
}

func (h *Hub) broadcastStatus() {
	if !h.hasAuthenticatedClients() {
		return
	}

	sessions := h.manager.List()
	external, err := h.manager.DiscoverExternal()
	if err != nil {
		log.Debug().Err(err).Msg("external session discovery failed")
		external = []term.ExternalInstance{}
	}

	h.Broadcast("session:status", E{
		"sessions":         sessions,
		"externalSessions": external,
	})
}

// NotifyRunComplete is the scheduler's run-completion callback.
func (h *Hub) NotifyRunComplete(scheduleID, name string, exitCode int, timestamp string) {
	h.Broadcast("schedule:run_complete", E{
		"scheduleId": scheduleID,
		"name":       name,
		"exitCode":   exitCode,
		"timestamp":  timestamp,
	})
}

// watchSession installs the hub-level observer that turns ask_user
// output events into session:input_required broadcasts. One observer
// per session, independent of which clients are attached.
func (h *Hub) watchSession(s *term.Session) {
	sessionName := filepath.Base(s.Cwd)

	_, _, _, cancel := s.Attach(func(_ []byte, events []term.Event) {
		for _, ev := range events {
			if ev.Type != term.EventAskUser {
				continue
			}
			preview := ev.Content
			if runes := []rune(preview); len(runes) > inputPreviewLen {
				preview = string(runes[:inputPreviewLen])
			}
			h.Broadcast("session:input_required", E{
				"sessionId":   s.ID,
				"sessionName": sessionName,
				"preview":     preview,
			})
		}
	}, func(int) {
		// Exit handlers run inside the session's fan-out lock; cancel
		// re-takes that lock, so the teardown must happen elsewhere.
		go h.unwatchSession(s.ID)
	})

	h.mu.Lock()
	h.watchers[s.ID] = cancel
	h.mu.Unlock()
}

func (h *Hub) unwatchSession(id string) {
	h.mu.Lock()
	cancel := h.watchers[id]
	delete(h.watchers, id)
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
