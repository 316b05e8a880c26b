// Package auth implements the shared-token gate that guards both the
// WebSocket control channel and the HTTP API routes.
//
// There is exactly one bearer token per server process. It is either
// supplied via the <AGENT>_REMOTE_TOKEN environment override or generated
// at startup as 4 random bytes rendered as 8 hex characters.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// CookieName carries the short-lived auth cookie that lets nested
	// sub-resource requests (preview proxy assets) authenticate without
	// re-presenting the token in every URL.
	CookieName = "agentdeck_auth"

	// CookieMaxAge is 24 hours, in seconds.
	CookieMaxAge = 24 * 60 * 60
)

// Gate holds the immutable shared token.
type Gate struct {
	token string
}

// NewGate creates a gate with the given token, generating one when empty.
func NewGate(token string) *Gate {
	if token == "" {
		token = generateToken()
	}
	return &Gate{token: token}
}

// generateToken returns 4 random bytes as 8 hex characters.
func generateToken() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		panic("auth: cannot read random bytes: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Token returns the shared token (for the startup banner).
func (g *Gate) Token() string {
	return g.token
}

// Verify compares a presented token against the shared token in constant
// time. Hashing both sides first keeps the comparison constant-time even
// for mismatched lengths.
func (g *Gate) Verify(presented string) bool {
	want := sha256.Sum256([]byte(g.token))
	got := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

// SetCookie issues the 24-hour auth cookie on the response.
func (g *Gate) SetCookie(c *gin.Context) {
	c.SetCookie(CookieName, g.token, CookieMaxAge, "/", "", false, true)
}

// Middleware returns a Gin middleware enforcing the token on API routes.
// The token may arrive as a bearer header, a ?token= query parameter, or
// the auth cookie. A valid header or query presentation refreshes the
// cookie so sub-resource requests authenticate on their own.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.Request.Header.Get("Authorization")
		if strings.HasPrefix(presented, "Bearer ") {
			presented = strings.TrimPrefix(presented, "Bearer ")
		} else if q := c.Query("token"); q != "" {
			presented = q
		} else if cookie, err := c.Cookie(CookieName); err == nil {
			presented = cookie
		}

		if presented == "" || !g.Verify(presented) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
			})
			return
		}

		g.SetCookie(c)
		c.Next()
	}
}
