package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSessions handles GET /api/sessions
func (h *Handlers) GetSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.manager.List()})
}
