// Package main runs the development backend: session bootstrap, tool call
// history, LiveKit tokens and the per-session event channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/0xbacklit/voice-agent/internal/config"
	"github.com/0xbacklit/voice-agent/internal/devbackend"
	"github.com/0xbacklit/voice-agent/internal/devbackend/hub"
	"github.com/0xbacklit/voice-agent/internal/devbackend/store"
	"github.com/0xbacklit/voice-agent/internal/logging"
)

func main() {
	cfg := config.LoadDevBackend()

	logging.Configure(logging.Config{Level: cfg.LogLevel, Service: "voice-agent-devbackend"})
	log := logging.WithComponent("main")

	log.Info().
		Int("http_port", cfg.HTTPPort).
		Str("database", cfg.DatabaseURL).
		Str("livekit_url", cfg.LiveKitURL).
		Bool("livekit_tokens", cfg.LiveKitAPIKey != "" && cfg.LiveKitAPISecret != "").
		Msg("starting development backend")

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectionHub := hub.NewHub(logging.WithComponent("hub"))
	srv := devbackend.NewServer(cfg, db, connectionHub, logging.WithComponent("http"))
	srv.SetContext(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		connectionHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.Info().Str("addr", addr).Msg("development backend listening")
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down development backend")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to shut down gracefully")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("development backend stopped with error")
		return
	}
	log.Info().Msg("development backend stopped")
}
