package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes. Everything under /api and
// /preview requires the bearer token; the WebSocket authenticates
// in-protocol.
func (h *Handlers) SetupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.Use(h.gate.Middleware())

	api.GET("/sessions", h.GetSessions)
	api.GET("/dirs", h.GetDirs)
	api.GET("/ports", h.GetPorts)

	preview := r.Group("/preview")
	preview.Use(h.gate.Middleware())
	preview.Any("/:port/*path", h.Preview)
}
