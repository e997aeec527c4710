// Package events implements the per-session push channel that reports status,
// tool calls, summaries and session closure.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/0xbacklit/voice-agent/internal/domain"
)

// ErrUnknownEventType is returned by Decode for envelopes with an unrecognised type.
var ErrUnknownEventType = errors.New("unknown event type")

// Envelope is the wire format of every channel message.
type Envelope struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// Event is one decoded channel message. The set of implementations is closed.
type Event interface {
	Type() domain.EventType
}

// StatusEvent reports the backend's view of the session state.
type StatusEvent struct {
	domain.StatusPayload
}

// ToolCallEvent reports a tool invocation.
type ToolCallEvent struct {
	domain.ToolCallEvent
}

// SummaryEvent carries the post-call summary.
type SummaryEvent struct {
	domain.Summary
}

// SessionClosedEvent reports that the backend closed the session.
type SessionClosedEvent struct {
	domain.SessionClosedPayload
}

func (StatusEvent) Type() domain.EventType        { return domain.EventTypeStatus }
func (ToolCallEvent) Type() domain.EventType      { return domain.EventTypeToolCall }
func (SummaryEvent) Type() domain.EventType       { return domain.EventTypeSummary }
func (SessionClosedEvent) Type() domain.EventType { return domain.EventTypeSessionClosed }

// Decode parses one channel message into exactly one Event variant.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case domain.EventTypeStatus:
		var ev StatusEvent
		if err := decodePayload(env, &ev.StatusPayload); err != nil {
			return nil, err
		}
		return ev, nil
	case domain.EventTypeToolCall:
		var ev ToolCallEvent
		if err := decodePayload(env, &ev.ToolCallEvent); err != nil {
			return nil, err
		}
		return ev, nil
	case domain.EventTypeSummary:
		var ev SummaryEvent
		if err := decodePayload(env, &ev.Summary); err != nil {
			return nil, err
		}
		return ev, nil
	case domain.EventTypeSessionClosed:
		var ev SessionClosedEvent
		if err := decodePayload(env, &ev.SessionClosedPayload); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}

// Encode wraps payload in an Envelope of the given type.
func Encode(t domain.EventType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

func decodePayload(env Envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s event without payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return nil
}
