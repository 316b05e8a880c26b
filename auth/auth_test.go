package auth

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestGeneratedTokenShape(t *testing.T) {
	g := NewGate("")
	if !regexp.MustCompile(`^[0-9a-f]{8}$`).MatchString(g.Token()) {
		t.Errorf("generated token should be 8 hex chars, got %q", g.Token())
	}
}

func TestVerify(t *testing.T) {
	g := NewGate("abcd1234")
	if !g.Verify("abcd1234") {
		t.Error("matching token rejected")
	}
	if g.Verify("abcd1235") || g.Verify("") || g.Verify("abcd12345") {
		t.Error("non-matching token accepted")
	}
}

func newTestRouter(g *Gate) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/ping", g.Middleware(), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return r
}

func TestMiddlewareRejectsWithoutToken(t *testing.T) {
	r := newTestRouter(NewGate("abcd1234"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewareAcceptsBearerHeader(t *testing.T) {
	r := newTestRouter(NewGate("abcd1234"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer abcd1234")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// A successful presentation refreshes the cookie.
	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == CookieName && c.Value == "abcd1234" {
			found = true
		}
	}
	if !found {
		t.Error("expected auth cookie to be set on success")
	}
}

func TestMiddlewareAcceptsQueryToken(t *testing.T) {
	r := newTestRouter(NewGate("abcd1234"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/ping?token=abcd1234", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMiddlewareAcceptsCookie(t *testing.T) {
	r := newTestRouter(NewGate("abcd1234"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "abcd1234"})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMiddlewareRejectsBadCookie(t *testing.T) {
	r := newTestRouter(NewGate("abcd1234"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "wrong"})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}
