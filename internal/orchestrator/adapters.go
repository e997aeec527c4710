package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xbacklit/voice-agent/internal/events"
	"github.com/0xbacklit/voice-agent/internal/media"
)

// MediaClient adapts a media.Client to MediaConnector.
func MediaClient(c *media.Client) MediaConnector {
	return mediaClient{c: c}
}

type mediaClient struct {
	c *media.Client
}

func (m mediaClient) Connect(ctx context.Context, sessionID string, opts media.Options) (MediaHandle, error) {
	h, err := m.c.Connect(ctx, sessionID, opts)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// EventChannels opens event channels with the events package.
type EventChannels struct {
	BaseURL     string
	ReadTimeout time.Duration
	Logger      zerolog.Logger
}

func (e EventChannels) Open(ctx context.Context, sessionID string, onEvent func(events.Event), onClose func(error)) (Channel, error) {
	ch, err := events.Dial(ctx, events.Options{
		BaseURL:     e.BaseURL,
		SessionID:   sessionID,
		OnEvent:     onEvent,
		OnClose:     onClose,
		ReadTimeout: e.ReadTimeout,
		Logger:      e.Logger,
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}
