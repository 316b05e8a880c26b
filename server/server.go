// Package server owns and coordinates all application components: the
// auth gate, the session manager, the scheduler, the WebSocket hub, the
// HTTP surface, and the optional tunnel subprocess.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/api"
	"github.com/agentdeck/agentdeck/auth"
	"github.com/agentdeck/agentdeck/config"
	"github.com/agentdeck/agentdeck/hub"
	"github.com/agentdeck/agentdeck/log"
	"github.com/agentdeck/agentdeck/prefs"
	"github.com/agentdeck/agentdeck/scheduler"
	"github.com/agentdeck/agentdeck/term"
	"github.com/agentdeck/agentdeck/tunnel"
)

// Server wires the components together and runs the HTTP listener.
type Server struct {
	cfg *config.Config

	gate    *auth.Gate
	manager *term.Manager
	sched   *scheduler.Scheduler
	hub     *hub.Hub
	assets  *assetCache
	tun     *tunnel.Tunnel

	router *gin.Engine
	http   *http.Server
}

// New creates a server with all components initialized. Nothing listens
// or spawns until Start.
func New(cfg *config.Config) (*Server, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	gate := auth.NewGate(cfg.Token)

	binPath, err := term.ResolveBinary(cfg.AgentBin, cfg.AgentPathOverride)
	if err != nil {
		return nil, err
	}
	log.Info().Str("binary", binPath).Msg("agent CLI resolved")

	manager := term.NewManager(cfg.AgentBin, binPath, cfg.AgentStateDir)

	prefsStore, err := prefs.NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	h := hub.New(gate, manager, prefsStore, cfg.DataDir)

	sched, err := scheduler.New(cfg.DataDir, binPath, h.NotifyRunComplete)
	if err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}
	h.SetScheduler(sched)

	s := &Server{
		cfg:     cfg,
		gate:    gate,
		manager: manager,
		sched:   sched,
		hub:     h,
		assets:  newAssetCache(cfg.WebDir, cfg.DevMode),
	}
	s.buildRouter()

	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.router,
	}
	return s, nil
}

func (s *Server) buildRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(log.GinLogger())
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`^/ws`, `^/preview/`})))
	r.SetTrustedProxies(nil)

	// Chrome DevTools and friends probe this; keep it out of the logs.
	r.GET("/.well-known/*path", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	r.GET("/ws", s.hub.ServeWS)
	api.NewHandlers(s.manager, s.gate).SetupRoutes(r)
	s.assets.register(r)

	s.router = r
}

// Token returns the active bearer token for the startup banner.
func (s *Server) Token() string {
	return s.gate.Token()
}

// Start launches the background components and the listener. It blocks
// until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.assets.start()
	go s.hub.Run()

	if s.cfg.TunnelCmd != "" {
		tun, err := tunnel.Start(s.cfg.TunnelCmd, s.cfg.Port)
		if err != nil {
			log.Warn().Err(err).Msg("tunnel failed to start")
		} else {
			s.tun = tun
		}
	}

	log.Info().Str("addr", s.http.Addr).Msg("server starting")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// PublicURL waits briefly for the tunnel's announced URL; empty when no
// tunnel is configured or it stayed silent.
func (s *Server) PublicURL(timeout time.Duration) string {
	if s.tun == nil {
		return ""
	}
	return s.tun.URL(timeout)
}

// Shutdown tears everything down in dependency order: stop accepting
// traffic, disconnect clients, kill sessions, halt the scheduler, then
// the tunnel.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.http.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}

	s.hub.Stop()
	s.manager.DestroyAll()
	s.sched.Stop()
	s.assets.stop()
	if s.tun != nil {
		s.tun.Stop()
	}
}
