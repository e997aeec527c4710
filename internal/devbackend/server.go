// Package devbackend is an in-process implementation of the backend session
// API used for local runs and integration tests. It carries no conversation
// logic: events reach clients through the internal push endpoint.
package devbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/livekit/protocol/auth"
	"github.com/rs/zerolog"

	"github.com/0xbacklit/voice-agent/internal/config"
	"github.com/0xbacklit/voice-agent/internal/devbackend/hub"
	"github.com/0xbacklit/voice-agent/internal/devbackend/store"
	"github.com/0xbacklit/voice-agent/internal/domain"
	"github.com/0xbacklit/voice-agent/internal/events"
)

// Server serves the backend session API.
type Server struct {
	cfg      *config.DevBackendConfig
	echo     *echo.Echo
	store    store.Store
	hub      *hub.Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger

	// ctx scopes the websocket pumps; set by SetContext.
	ctx context.Context
}

// NewServer creates a new development backend.
func NewServer(cfg *config.DevBackendConfig, st store.Store, h *hub.Hub, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		cfg:   cfg,
		echo:  e,
		store: st,
		hub:   h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger,
		ctx: context.Background(),
	}

	e.GET("/health", s.handleHealth)
	e.POST("/session/start", s.handleStartSession)
	e.GET("/session/:id/tools", s.handleListTools)
	e.POST("/session/:id/tools", s.handleAddTool)
	e.GET("/session/:id/events", s.handleEvents)
	e.POST("/livekit/token", s.handleToken)
	e.POST("/internal/sessions/:id/events", s.handlePushEvent)

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

// SetContext scopes websocket connections to ctx.
func (s *Server) SetContext(ctx context.Context) {
	s.ctx = ctx
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.GetConnectionCount(),
		"sessions":    s.hub.GetSessionCount(),
	})
}

func (s *Server) handleStartSession(c echo.Context) error {
	ctx := c.Request().Context()
	session := &store.Session{
		SessionID: "sess_" + uuid.New().String()[:8],
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		s.log.Error().Err(err).Msg("failed to create session")
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "failed to create session"})
	}

	s.log.Info().Str("session_id", session.SessionID).Msg("session created")
	return c.JSON(http.StatusOK, domain.SessionStartResponse{
		SessionID: session.SessionID,
		WSURL:     s.wsURL(c, session.SessionID),
	})
}

// wsURL returns the advertised channel address of a session.
func (s *Server) wsURL(c echo.Context, sessionID string) string {
	base := strings.TrimSuffix(s.cfg.PublicWSURL, "/")
	if base == "" {
		scheme := "ws"
		if c.Scheme() == "https" {
			scheme = "wss"
		}
		base = scheme + "://" + c.Request().Host
	}
	return base + "/session/" + sessionID + "/events"
}

// requireSession loads the session named in the path, writing a 404 when it is unknown.
func (s *Server) requireSession(c echo.Context) (*store.Session, error) {
	session, err := s.store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load session")
		return nil, c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "failed to load session"})
	}
	if session == nil {
		return nil, c.JSON(http.StatusNotFound, domain.ErrorResponse{Error: "session not found"})
	}
	return session, nil
}

func (s *Server) handleListTools(c echo.Context) error {
	session, err := s.requireSession(c)
	if session == nil {
		return err
	}
	calls, err := s.store.ListToolCalls(c.Request().Context(), session.SessionID)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", session.SessionID).Msg("failed to list tool calls")
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "failed to list tool calls"})
	}
	return c.JSON(http.StatusOK, calls)
}

func (s *Server) handleAddTool(c echo.Context) error {
	session, err := s.requireSession(c)
	if session == nil {
		return err
	}

	var call domain.ToolCallEvent
	if err := c.Bind(&call); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
	}
	if call.Name == "" {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "name is required"})
	}
	if call.ID == "" {
		call.ID = "tc_" + uuid.New().String()[:8]
	}
	if call.Status == "" {
		call.Status = domain.ToolCallStatusCompleted
	}
	if call.Timestamp == "" {
		call.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	if err := s.store.AddToolCall(c.Request().Context(), session.SessionID, call); err != nil {
		s.log.Error().Err(err).Str("session_id", session.SessionID).Msg("failed to add tool call")
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "failed to add tool call"})
	}
	if err := s.broadcast(session.SessionID, domain.EventTypeToolCall, call); err != nil {
		s.log.Error().Err(err).Msg("failed to broadcast tool call")
	}

	return c.JSON(http.StatusCreated, call)
}

func (s *Server) handleToken(c echo.Context) error {
	var req domain.TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.TokenResponse{Error: "invalid request body"})
	}
	if req.SessionID == "" || req.Identity == "" {
		return c.JSON(http.StatusBadRequest, domain.TokenResponse{Error: "session_id and identity are required"})
	}
	if s.cfg.LiveKitAPIKey == "" || s.cfg.LiveKitAPISecret == "" {
		return c.JSON(http.StatusServiceUnavailable, domain.TokenResponse{Error: "livekit is not configured"})
	}

	session, err := s.store.GetSession(c.Request().Context(), req.SessionID)
	if err != nil || session == nil {
		return c.JSON(http.StatusNotFound, domain.TokenResponse{Error: "session not found"})
	}

	token, err := MintToken(s.cfg.LiveKitAPIKey, s.cfg.LiveKitAPISecret, session.SessionID, req.Identity, s.cfg.TokenTTL)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to mint token")
		return c.JSON(http.StatusInternalServerError, domain.TokenResponse{Error: "failed to mint token"})
	}

	return c.JSON(http.StatusOK, domain.TokenResponse{
		Token:    token,
		URL:      s.cfg.LiveKitURL,
		Room:     session.SessionID,
		Identity: req.Identity,
	})
}

// MintToken issues a room-join token for identity in room.
func MintToken(apiKey, apiSecret, room, identity string, ttl time.Duration) (string, error) {
	at := auth.NewAccessToken(apiKey, apiSecret)
	at.SetVideoGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}).
		SetIdentity(identity).
		SetValidFor(ttl)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// PushResponse is the response of POST /internal/sessions/:id/events.
type PushResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

func (s *Server) handlePushEvent(c echo.Context) error {
	session, err := s.requireSession(c)
	if session == nil {
		return err
	}

	var env events.Envelope
	if err := c.Bind(&env); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
	}
	data, err := json.Marshal(env)
	if err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid envelope"})
	}
	ev, err := events.Decode(data)
	if err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
	}

	if ev.Type() == domain.EventTypeToolCall {
		call := ev.(events.ToolCallEvent).ToolCallEvent
		if err := s.store.AddToolCall(c.Request().Context(), session.SessionID, call); err != nil {
			s.log.Error().Err(err).Msg("failed to add tool call")
			return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "failed to add tool call"})
		}
	}

	delivered := s.hub.HasActiveConnections(session.SessionID)
	s.hub.Broadcast(session.SessionID, data)
	// ?close=true hangs up the session's channels after the event.
	if c.QueryParam("close") == "true" {
		s.hub.CloseSession(session.SessionID)
	}

	if ev.Type() == domain.EventTypeSessionClosed {
		if err := s.store.CloseSession(c.Request().Context(), session.SessionID, time.Now()); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
			s.log.Error().Err(err).Msg("failed to close session")
		}
	}

	s.log.Info().Str("session_id", session.SessionID).Str("event_type", string(ev.Type())).Bool("delivered", delivered).Msg("event pushed")
	return c.JSON(http.StatusOK, PushResponse{OK: true, Delivered: delivered})
}

func (s *Server) broadcast(sessionID string, t domain.EventType, payload interface{}) error {
	data, err := events.Encode(t, payload)
	if err != nil {
		return err
	}
	s.hub.Broadcast(sessionID, data)
	return nil
}
