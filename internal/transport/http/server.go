// Package http provides the local control API of the voice agent.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/0xbacklit/voice-agent/internal/domain"
	"github.com/0xbacklit/voice-agent/internal/orchestrator"
	"github.com/0xbacklit/voice-agent/internal/presenter"
	"github.com/0xbacklit/voice-agent/internal/session"
)

// Controller is the session surface exposed over HTTP.
type Controller interface {
	Start(ctx context.Context) error
	EndCall(ctx context.Context) error
	Snapshot() orchestrator.Snapshot
	RecordToolCall(event domain.ToolCallEvent) error
}

// Viewer is the presentation surface exposed over HTTP.
type Viewer interface {
	View() presenter.View
	OpenTools()
	OpenSummary()
	CloseDrawer()
}

// Server is the control HTTP server.
type Server struct {
	echo   *echo.Echo
	ctrl   Controller
	viewer Viewer
	log    zerolog.Logger
}

// NewServer creates a new control server. viewer and gatherer may be nil.
func NewServer(ctrl Controller, viewer Viewer, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("request")
			return nil
		},
	}))

	s := &Server{
		echo:   e,
		ctrl:   ctrl,
		viewer: viewer,
		log:    logger,
	}

	e.GET("/healthz", s.handleHealth)
	e.GET("/state", s.handleState)
	e.POST("/session/start", s.handleStart)
	e.POST("/session/end", s.handleEnd)
	e.POST("/session/tools", s.handleRecordTool)
	if viewer != nil {
		e.GET("/view", s.handleView)
		e.POST("/view/drawer", s.handleDrawer)
	}
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	snap := s.ctrl.Snapshot()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"state":       snap.State,
		"can_connect": snap.CanConnect,
	})
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	State      domain.ConnectionState `json:"state"`
	SessionID  string                 `json:"session_id,omitempty"`
	Booting    bool                   `json:"booting"`
	HasEnded   bool                   `json:"has_ended"`
	HasVideo   bool                   `json:"has_video"`
	PendingEnd bool                   `json:"pending_end"`
	Error      string                 `json:"error,omitempty"`
	ToolCalls  []domain.ToolCallEvent `json:"tool_calls"`
	Summary    *domain.Summary        `json:"summary,omitempty"`
	CanConnect bool                   `json:"can_connect"`
	AudioOnly  bool                   `json:"audio_only"`
}

func newStateResponse(snap orchestrator.Snapshot) StateResponse {
	calls := snap.ToolCalls
	if calls == nil {
		calls = []domain.ToolCallEvent{}
	}
	return StateResponse{
		State:      snap.State,
		SessionID:  snap.SessionID,
		Booting:    snap.Booting,
		HasEnded:   snap.HasEnded,
		HasVideo:   snap.HasVideo,
		PendingEnd: snap.PendingEnd,
		Error:      snap.Error,
		ToolCalls:  calls,
		Summary:    snap.Summary,
		CanConnect: snap.CanConnect,
		AudioOnly:  snap.AudioOnly,
	}
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, newStateResponse(s.ctrl.Snapshot()))
}

func (s *Server) handleStart(c echo.Context) error {
	err := s.ctrl.Start(c.Request().Context())
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, newStateResponse(s.ctrl.Snapshot()))
	case errors.Is(err, orchestrator.ErrNotConfigured):
		return c.JSON(http.StatusServiceUnavailable, domain.ErrorResponse{Error: err.Error()})
	case errors.Is(err, orchestrator.ErrSessionActive):
		return c.JSON(http.StatusConflict, domain.ErrorResponse{Error: err.Error()})
	default:
		s.log.Error().Err(err).Msg("failed to start session")
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "failed to start session"})
	}
}

func (s *Server) handleEnd(c echo.Context) error {
	if err := s.ctrl.EndCall(c.Request().Context()); err != nil {
		s.log.Error().Err(err).Msg("failed to end session")
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "failed to end session"})
	}
	return c.JSON(http.StatusOK, newStateResponse(s.ctrl.Snapshot()))
}

func (s *Server) handleRecordTool(c echo.Context) error {
	var event domain.ToolCallEvent
	if err := c.Bind(&event); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
	}
	if event.Name == "" {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "name is required"})
	}

	if err := s.ctrl.RecordToolCall(event); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return c.JSON(http.StatusConflict, domain.ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "failed to record tool call"})
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"ok": true})
}

func (s *Server) handleView(c echo.Context) error {
	return c.JSON(http.StatusOK, s.viewer.View())
}

// DrawerRequest is the body of POST /view/drawer.
type DrawerRequest struct {
	Drawer presenter.Drawer `json:"drawer"`
}

func (s *Server) handleDrawer(c echo.Context) error {
	var req DrawerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
	}
	switch req.Drawer {
	case presenter.DrawerTools:
		s.viewer.OpenTools()
	case presenter.DrawerSummary:
		s.viewer.OpenSummary()
	case presenter.DrawerNone:
		s.viewer.CloseDrawer()
	default:
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "unknown drawer"})
	}
	return c.JSON(http.StatusOK, s.viewer.View())
}
