package hub

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/log"
	"github.com/agentdeck/agentdeck/term"
)

// sendBuffer is the per-client outbound frame budget. A client that
// cannot drain this many frames is disconnected rather than allowed to
// stall the session read loop.
const sendBuffer = 256

const pingInterval = 30 * time.Second

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// Client is the per-connection state machine: authentication, at most
// one attached session, and the outbound frame queue drained by the
// writer goroutine.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	cancel context.CancelFunc

	mu            sync.Mutex
	authenticated bool
	attachedID    string
	detachFn      func()
	closed        bool
}

// ServeWS upgrades a Gin request to the control WebSocket and runs the
// connection until the client goes away.
func (h *Hub) ServeWS(c *gin.Context) {
	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // auth happens in-protocol via the auth command
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	log.MarkHijacked(c)
	c.Abort()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan frame, sendBuffer),
		cancel: cancel,
	}
	h.register(client)
	defer func() {
		client.detachCurrent()
		h.unregister(client)
	}()

	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-client.send:
				if err := conn.Write(ctx, f.typ, f.data); err != nil {
					if ctx.Err() == nil {
						log.Debug().Err(err).Msg("WebSocket write failed")
					}
					cancel()
					return
				}
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingTicker.C:
				if err := conn.Ping(ctx); err != nil {
					log.Debug().Err(err).Msg("WebSocket ping failed")
					cancel()
					return
				}
			}
		}
	}()

	for {
		msgType, msg, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusGoingAway ||
				closeStatus == websocket.StatusNormalClosure ||
				closeStatus == websocket.StatusNoStatusRcvd {
				log.Debug().Int("closeStatus", int(closeStatus)).Msg("WebSocket closed normally")
			} else if ctx.Err() == nil {
				log.Info().Err(err).Msg("WebSocket read error")
			}
			cancel()
			break
		}

		switch msgType {
		case websocket.MessageBinary:
			client.handleControl(msg)
		case websocket.MessageText:
			client.handleTerminalInput(msg)
		}
	}

	<-sendDone
}

// close tears the connection down from the server side.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close(websocket.StatusGoingAway, "server shutting down")
}

func (c *Client) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// enqueueBinary queues a control event. A full queue means the client
// has stopped draining; the connection is cut rather than blocking the
// producer.
func (c *Client) enqueueBinary(data []byte) {
	c.enqueue(frame{websocket.MessageBinary, data})
}

func (c *Client) enqueueText(data []byte) {
	c.enqueue(frame{websocket.MessageText, data})
}

func (c *Client) enqueue(f frame) {
	select {
	case c.send <- f:
	default:
		log.Warn().Msg("client send buffer overflow, disconnecting")
		c.cancel()
		c.conn.Close(websocket.StatusPolicyViolation, "client too slow")
	}
}

func (c *Client) sendEvent(typ string, fields E) {
	c.enqueueBinary(encodeEvent(typ, fields))
}

func (c *Client) sendError(format string, args ...any) {
	c.sendEvent("error", E{"error": fmt.Sprintf(format, args...)})
}

// handleTerminalInput forwards a text frame to the attached session's
// PTY. Frames arriving before auth or without an attachment are dropped
// silently.
func (c *Client) handleTerminalInput(data []byte) {
	c.mu.Lock()
	authed, id := c.authenticated, c.attachedID
	c.mu.Unlock()

	if !authed || id == "" {
		return
	}
	sess := c.hub.manager.Get(id)
	if sess == nil {
		return
	}
	if err := sess.Write(data); err != nil {
		log.Error().Err(err).Str("sessionId", id).Msg("PTY write failed")
	}
}

// handleControl dispatches one binary control frame.
func (c *Client) handleControl(data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		c.sendError("invalid command payload")
		return
	}

	if cmd.Type == "auth" {
		c.handleAuth(cmd)
		return
	}
	if !c.isAuthenticated() {
		c.sendError("Not authenticated")
		return
	}

	switch cmd.Type {
	case "preferences:set":
		c.handlePreferencesSet(cmd)
	case "session:list":
		c.sendEvent("session:list", E{"sessions": c.hub.manager.List()})
	case "session:discover":
		c.handleDiscover()
	case "session:create":
		c.handleCreate(cmd)
	case "session:attach":
		c.handleAttach(cmd)
	case "session:adopt":
		c.handleAdopt(cmd)
	case "session:destroy":
		c.handleDestroy(cmd)
	case "resize":
		c.handleResize(cmd)
	case "image:upload":
		c.handleImageUpload(cmd)
	case "schedule:create":
		c.handleScheduleCreate(cmd)
	case "schedule:update":
		c.handleScheduleUpdate(cmd)
	case "schedule:delete":
		c.handleScheduleDelete(cmd)
	case "schedule:trigger":
		c.handleScheduleTrigger(cmd)
	case "schedule:list":
		c.sendEvent("schedule:list", E{"schedules": c.hub.sched.List()})
	case "schedule:runs":
		c.handleScheduleRuns(cmd)
	case "schedule:log":
		c.handleScheduleLog(cmd)
	default:
		c.sendError("unknown command type %q", cmd.Type)
	}
}

func (c *Client) handleAuth(cmd Command) {
	if !c.hub.gate.Verify(cmd.Token) {
		log.Warn().Msg("WebSocket auth failed")
		c.sendEvent("auth:failed", E{"error": "Invalid token"})
		return
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	c.sendEvent("auth:success", E{"preferences": c.hub.prefs.Get()})
}

func (c *Client) handlePreferencesSet(cmd Command) {
	if cmd.Preferences == nil {
		c.sendError("preferences:set requires preferences")
		return
	}
	if err := c.hub.prefs.Set(*cmd.Preferences); err != nil {
		log.Error().Err(err).Msg("failed to persist preferences")
		c.sendError("failed to save preferences")
		return
	}
	c.hub.Broadcast("preferences:updated", E{"preferences": c.hub.prefs.Get()})
}

func (c *Client) handleDiscover() {
	external, err := c.hub.manager.DiscoverExternal()
	if err != nil {
		c.sendError("discovery failed: %v", err)
		return
	}
	c.sendEvent("session:discovered", E{"sessions": external})
}

func (c *Client) handleCreate(cmd Command) {
	cwd := cmd.Cwd
	if cwd == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			c.sendError("cannot determine home directory")
			return
		}
		cwd = home
	}

	sess, err := c.hub.manager.Create(cwd)
	if err != nil {
		c.sendError("%v", err)
		return
	}
	c.hub.watchSession(sess)

	c.sendEvent("session:created", E{"session": sess.Info()})
	c.bind(sess, true)
}

func (c *Client) handleAttach(cmd Command) {
	sess := c.hub.manager.Get(cmd.SessionID)
	if sess == nil {
		c.sendError("unknown session %q", cmd.SessionID)
		return
	}

	c.sendEvent("session:attached", E{"session": sess.Info()})
	c.bind(sess, cmd.HasCache)
}

func (c *Client) handleAdopt(cmd Command) {
	sess, err := c.hub.manager.Adopt(cmd.PID, cmd.Cwd)
	if err != nil {
		c.sendError("%v", err)
		return
	}
	c.hub.watchSession(sess)

	c.sendEvent("session:created", E{"session": sess.Info(), "isAdopted": true})
	c.bind(sess, true)
}

func (c *Client) handleDestroy(cmd Command) {
	c.mu.Lock()
	if c.attachedID == cmd.SessionID && c.detachFn != nil {
		c.detachFn()
		c.detachFn = nil
		c.attachedID = ""
	}
	c.mu.Unlock()

	c.hub.manager.Destroy(cmd.SessionID)
	c.hub.unwatchSession(cmd.SessionID)
	c.hub.Broadcast("session:destroyed", E{"sessionId": cmd.SessionID})
}

func (c *Client) handleResize(cmd Command) {
	c.mu.Lock()
	id := c.attachedID
	c.mu.Unlock()

	if id == "" {
		return
	}
	sess := c.hub.manager.Get(id)
	if sess == nil {
		return
	}
	if err := sess.Resize(cmd.Cols, cmd.Rows); err != nil {
		log.Debug().Err(err).Str("sessionId", id).Msg("resize failed")
	}
}

// bind rebinds the client to a session: the previous subscription is
// released first, then output and exit handlers are gated behind a ready
// channel so that nothing live is delivered before the history replay
// has been queued.
func (c *Client) bind(sess *term.Session, hasCache bool) {
	c.detachCurrent()

	ready := make(chan struct{})
	output := func(data []byte, _ []term.Event) {
		<-ready
		c.enqueueText(data)
	}
	exit := func(code int) {
		<-ready
		c.sendEvent("session:exit", E{"sessionId": sess.ID, "exitCode": code})
	}

	history, exited, exitCode, cancel := sess.Attach(output, exit)

	c.mu.Lock()
	c.attachedID = sess.ID
	c.detachFn = cancel
	c.mu.Unlock()

	if !hasCache && len(history) > 0 {
		c.enqueueText(history)
	}
	close(ready)

	// An attach that landed after the child exited sees the recorded
	// outcome here; the exit handler will never fire for it.
	if exited {
		c.sendEvent("session:exit", E{"sessionId": sess.ID, "exitCode": exitCode})
	}
}

func (c *Client) detachCurrent() {
	c.mu.Lock()
	detach := c.detachFn
	c.detachFn = nil
	c.attachedID = ""
	c.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// handleImageUpload persists a pasted image under the dot-directory and
// returns its absolute path so the client can reference it in a prompt.
func (c *Client) handleImageUpload(cmd Command) {
	if cmd.Data == "" {
		c.sendError("image:upload requires data")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(cmd.Data)
	if err != nil {
		c.sendError("invalid image data")
		return
	}

	name := filepath.Base(cmd.Filename)
	if name == "" || name == "." || name == "/" {
		name = "image" + extForMime(cmd.MimeType)
	}
	dir := filepath.Join(c.hub.dataDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.sendError("failed to store image")
		return
	}
	path := filepath.Join(dir, uuid.New().String()[:8]+"-"+name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		log.Error().Err(err).Msg("failed to write uploaded image")
		c.sendError("failed to store image")
		return
	}

	c.sendEvent("image:uploaded", E{"path": path})
}

func extForMime(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func (c *Client) handleScheduleCreate(cmd Command) {
	sched, err := c.hub.sched.Create(cmd.Name, cmd.Prompt, cmd.Cwd, cmd.Preset)
	if err != nil {
		c.sendError("%v", err)
		return
	}
	c.hub.Broadcast("schedule:updated", E{"schedule": sched})
}

func (c *Client) handleScheduleUpdate(cmd Command) {
	if cmd.Enabled == nil {
		c.sendError("schedule:update requires enabled")
		return
	}
	sched, err := c.hub.sched.Update(cmd.ScheduleID, *cmd.Enabled)
	if err != nil {
		c.sendError("%v", err)
		return
	}
	c.hub.Broadcast("schedule:updated", E{"schedule": sched})
}

func (c *Client) handleScheduleDelete(cmd Command) {
	if err := c.hub.sched.Delete(cmd.ScheduleID); err != nil {
		c.sendError("%v", err)
		return
	}
	c.hub.Broadcast("schedule:updated", E{"deleted": cmd.ScheduleID})
}

func (c *Client) handleScheduleTrigger(cmd Command) {
	if err := c.hub.sched.Trigger(cmd.ScheduleID); err != nil {
		c.sendError("%v", err)
		return
	}
	c.sendEvent("schedule:triggered", E{"scheduleId": cmd.ScheduleID})
}

func (c *Client) handleScheduleRuns(cmd Command) {
	runs, err := c.hub.sched.ListRuns(cmd.ScheduleID)
	if err != nil {
		c.sendError("%v", err)
		return
	}
	c.sendEvent("schedule:runs", E{"scheduleId": cmd.ScheduleID, "runs": runs})
}

func (c *Client) handleScheduleLog(cmd Command) {
	content, err := c.hub.sched.RunLog(cmd.ScheduleID, cmd.Timestamp)
	if err != nil {
		c.sendError("%v", err)
		return
	}
	c.sendEvent("schedule:log", E{
		"scheduleId": cmd.ScheduleID,
		"timestamp":  cmd.Timestamp,
		"content":    content,
	})
}
