// Package main runs the headless voice agent client.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/0xbacklit/voice-agent/internal/backend"
	"github.com/0xbacklit/voice-agent/internal/config"
	"github.com/0xbacklit/voice-agent/internal/domain"
	"github.com/0xbacklit/voice-agent/internal/logging"
	"github.com/0xbacklit/voice-agent/internal/media"
	"github.com/0xbacklit/voice-agent/internal/metrics"
	"github.com/0xbacklit/voice-agent/internal/orchestrator"
	"github.com/0xbacklit/voice-agent/internal/policy"
	"github.com/0xbacklit/voice-agent/internal/presenter"
	"github.com/0xbacklit/voice-agent/internal/session"
	controlhttp "github.com/0xbacklit/voice-agent/internal/transport/http"
)

const helpText = `commands:
  start            connect a new session
  end              end the current session
  tool <name>      record a tool call on the current session
  tools | summary  open a drawer
  close            close the drawer
  view             print the current view
  quit             exit`

func main() {
	cfg := config.Load()

	logging.Configure(logging.Config{Level: cfg.LogLevel, Service: "voice-agent"})
	log := logging.WithComponent("main")

	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("voice agent stopped with error")
	}
	log.Info().Msg("voice agent stopped")
}

func run(cfg *config.Config, in io.Reader, out io.Writer) error {
	log := logging.WithComponent("main")

	log.Info().
		Str("backend_http_url", cfg.BackendHTTPURL).
		Str("backend_ws_url", cfg.BackendWSURL).
		Bool("audio_only", cfg.AudioOnly()).
		Int("control_port", cfg.ControlPort).
		Msg("starting voice agent")
	if !cfg.CanConnect() {
		log.Warn().Msg("backend addresses are not configured, connecting is disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine, err := policy.NewDefaultEngine(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare tool policy: %w", err)
	}

	api := backend.NewClient(cfg.BackendHTTPURL, cfg.HTTPTimeout)
	store := session.NewStore(api, logging.WithComponent("session"))
	mediaClient := media.NewClient(
		api,
		media.LiveKitConnector{Logger: logging.WithComponent("livekit")},
		media.SampleCapture{},
		logging.WithComponent("media"),
	)

	orch := orchestrator.New(orchestrator.Config{
		CanConnect:      cfg.CanConnect(),
		AudioOnly:       cfg.AudioOnly(),
		EndDelay:        cfg.EndDelay,
		SummaryEndDelay: cfg.SummaryEndDelay,
	}, orchestrator.Deps{
		Store: store,
		Media: orchestrator.MediaClient(mediaClient),
		Channels: orchestrator.EventChannels{
			BaseURL: cfg.BackendWSURL,
			Logger:  logging.WithComponent("events"),
		},
		Policy:  engine,
		Sink:    media.NewMemorySink(),
		Metrics: m,
		Logger:  logging.WithComponent("orchestrator"),
	})

	out = &lockedWriter{w: out}
	render := func(v presenter.View) {
		if err := presenter.Render(out, v); err != nil {
			log.Debug().Err(err).Msg("failed to render view")
		}
	}
	view := presenter.New(presenter.Config{
		ToolToastDuration:    cfg.ToolToastDuration,
		SummaryToastDuration: cfg.SummaryToastDuration,
	}, render)
	defer view.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Run(gctx)
	})
	g.Go(func() error {
		view.Run(gctx, orch)
		return nil
	})

	if cfg.ControlPort > 0 {
		srv := controlhttp.NewServer(orch, view, reg, logging.WithComponent("control"))
		addr := fmt.Sprintf(":%d", cfg.ControlPort)
		g.Go(func() error {
			log.Info().Str("addr", addr).Msg("control API listening")
			if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		started, err := orch.AutoStart(gctx)
		if err != nil && !errors.Is(err, orchestrator.ErrStopped) {
			log.Warn().Err(err).Msg("auto start rejected")
		}
		if started {
			log.Info().Msg("auto start requested")
		}
		return nil
	})

	// Scanning stdin cannot be interrupted, so the reader stays outside the group.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		fmt.Fprintln(out, helpText)
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					// Input closed: keep serving until signalled.
					lines = nil
					continue
				}
				if quit := handleCommand(gctx, line, orch, view, out, render, log); quit {
					stop()
					return nil
				}
			}
		}
	})

	err = g.Wait()
	store.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func handleCommand(
	ctx context.Context,
	line string,
	orch *orchestrator.Orchestrator,
	view *presenter.Presenter,
	out io.Writer,
	render func(presenter.View),
	log zerolog.Logger,
) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "start", "connect":
		if err := orch.Start(ctx); err != nil {
			fmt.Fprintf(out, "cannot start: %v\n", err)
		}
	case "end":
		if err := orch.EndCall(ctx); err != nil {
			fmt.Fprintf(out, "cannot end: %v\n", err)
		}
	case "tool":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: tool <name>")
			return false
		}
		event := domain.ToolCallEvent{
			ID:        uuid.NewString(),
			Name:      fields[1],
			Status:    domain.ToolCallStatusCompleted,
			Detail:    strings.Join(fields[2:], " "),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if err := orch.RecordToolCall(event); err != nil {
			fmt.Fprintf(out, "cannot record tool call: %v\n", err)
		}
	case "tools":
		view.OpenTools()
	case "summary":
		view.OpenSummary()
	case "close":
		view.CloseDrawer()
	case "view":
		render(view.View())
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(out, helpText)
	default:
		log.Debug().Str("command", fields[0]).Msg("unknown command")
		fmt.Fprintf(out, "unknown command %q\n", fields[0])
	}
	return false
}

// lockedWriter serializes writes from the presenter and the command loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
