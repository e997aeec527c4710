// Package session holds the backend-issued session identifier and wraps the
// session endpoints of the backend API.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xbacklit/voice-agent/internal/domain"
)

// Backend is the subset of the backend API used by the Store.
type Backend interface {
	StartSession(ctx context.Context) (*domain.SessionStartResponse, error)
	FetchToolCalls(ctx context.Context, sessionID string) ([]domain.ToolCallEvent, error)
	PushToolCall(ctx context.Context, sessionID string, event domain.ToolCallEvent) error
}

// Store holds the current session id.
type Store struct {
	backend Backend
	log     zerolog.Logger

	// recordTimeout bounds fire-and-forget pushes.
	recordTimeout time.Duration

	mu        sync.RWMutex
	sessionID string
	wg        sync.WaitGroup
}

// NewStore creates a new session store.
func NewStore(backend Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend:       backend,
		log:           logger,
		recordTimeout: 10 * time.Second,
	}
}

// Start requests a new session. The id does not become current until Bind.
func (s *Store) Start(ctx context.Context) (string, error) {
	resp, err := s.backend.StartSession(ctx)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	s.log.Info().Str("session_id", resp.SessionID).Msg("session started")
	return resp.SessionID, nil
}

// Bind makes sessionID the current session.
func (s *Store) Bind(sessionID string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.mu.Unlock()
}

// History returns the tool calls already recorded for sessionID, most recent
// first. Failures yield an empty history.
func (s *Store) History(ctx context.Context, sessionID string) []domain.ToolCallEvent {
	calls, err := s.backend.FetchToolCalls(ctx, sessionID)
	if err != nil {
		s.log.Debug().Err(err).Str("session_id", sessionID).Msg("no tool history")
		return nil
	}
	return Reverse(calls)
}

// Record pushes a tool call for the current session without waiting for the result.
func (s *Store) Record(event domain.ToolCallEvent) error {
	sessionID := s.SessionID()
	if sessionID == "" {
		return ErrNoSession
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.recordTimeout)
		defer cancel()
		if err := s.backend.PushToolCall(ctx, sessionID, event); err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Str("tool", event.Name).Msg("failed to record tool call")
		}
	}()
	return nil
}

// Wait blocks until pending Record pushes finish.
func (s *Store) Wait() {
	s.wg.Wait()
}

// SessionID returns the current session id, or "".
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Clear forgets the current session id.
func (s *Store) Clear() {
	s.mu.Lock()
	s.sessionID = ""
	s.mu.Unlock()
}

// Reverse returns calls in reverse order in a new slice.
func Reverse(calls []domain.ToolCallEvent) []domain.ToolCallEvent {
	out := make([]domain.ToolCallEvent, len(calls))
	for i, c := range calls {
		out[len(calls)-1-i] = c
	}
	return out
}
