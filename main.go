package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentdeck/agentdeck/banner"
	"github.com/agentdeck/agentdeck/config"
	"github.com/agentdeck/agentdeck/log"
	"github.com/agentdeck/agentdeck/server"
)

func main() {
	cfg := config.Get()

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize server")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// The tunnel, when configured, usually announces its URL within a
	// few seconds; don't hold the banner longer than that.
	localURL := fmt.Sprintf("http://localhost:%d?token=%s", cfg.Port, srv.Token())
	publicURL := srv.PublicURL(5 * time.Second)
	if publicURL != "" {
		publicURL = fmt.Sprintf("%s?token=%s", publicURL, srv.Token())
	}
	banner.Print(localURL, publicURL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
		return
	case <-quit:
	}

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	log.Info().Msg("server stopped")
}
