// Package store persists the development backend's sessions and tool calls.
package store

import (
	"context"
	"time"

	"github.com/0xbacklit/voice-agent/internal/domain"
)

// Session is a backend-issued conversation session.
type Session struct {
	SessionID string
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *Session) error
	// GetSession returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	CloseSession(ctx context.Context, sessionID string, at time.Time) error

	// ToolCall operations
	AddToolCall(ctx context.Context, sessionID string, call domain.ToolCallEvent) error
	// ListToolCalls returns the calls of a session in the order they were added.
	ListToolCalls(ctx context.Context, sessionID string) ([]domain.ToolCallEvent, error)

	// Lifecycle
	Close() error
}
