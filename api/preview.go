package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/log"
)

// absoluteRefRe matches root-relative references in served HTML
// (href="/app.css", src='/main.js', action="/submit").
var absoluteRefRe = regexp.MustCompile(`(href|src|action)=(["'])/`)

// Preview handles /preview/:port/*path — a reverse proxy to a locally
// listening dev server. Absolute path references inside HTML responses
// are re-prefixed with /preview/:port/ so sub-resources route back
// through the proxy, and the auth cookie set by the middleware lets
// those sub-resource requests through without a token in the URL.
func (h *Handlers) Preview(c *gin.Context) {
	port, err := strconv.Atoi(c.Param("port"))
	if err != nil || port <= 0 || port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
		return
	}

	prefix := fmt.Sprintf("/preview/%d", port)
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
			req.URL.Path = c.Param("path")
			if req.URL.Path == "" {
				req.URL.Path = "/"
			}
			// Ask for an identity body so the HTML rewrite below
			// never has to decompress.
			req.Header.Del("Accept-Encoding")
			// The inner server has no use for our auth cookie.
			req.Header.Del("Cookie")
		},
		ModifyResponse: func(resp *http.Response) error {
			if loc := resp.Header.Get("Location"); strings.HasPrefix(loc, "/") {
				resp.Header.Set("Location", prefix+loc)
			}
			if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
				return nil
			}

			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return err
			}
			rewritten := absoluteRefRe.ReplaceAll(body, []byte(`$1=$2`+prefix+`/`))
			resp.Body = io.NopCloser(bytes.NewReader(rewritten))
			resp.ContentLength = int64(len(rewritten))
			resp.Header.Set("Content-Length", strconv.Itoa(len(rewritten)))
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Debug().Int("port", port).Err(err).Msg("preview proxy error")
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprintf(w, "nothing is listening on port %d", port)
		},
	}

	// Refresh the cookie so the HTML's sub-resources authenticate.
	h.gate.SetCookie(c)

	proxy.ServeHTTP(c.Writer, c.Request)
}
