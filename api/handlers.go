// Package api implements the token-guarded HTTP surface that sits next
// to the WebSocket: session listing, directory browsing, port discovery,
// and the localhost preview proxy.
package api

import (
	"github.com/agentdeck/agentdeck/auth"
	"github.com/agentdeck/agentdeck/term"
)

// Handlers carries the collaborators the HTTP endpoints need.
type Handlers struct {
	manager *term.Manager
	gate    *auth.Gate
}

// NewHandlers wires the HTTP handlers.
func NewHandlers(manager *term.Manager, gate *auth.Gate) *Handlers {
	return &Handlers{manager: manager, gate: gate}
}
