package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/0xbacklit/voice-agent/internal/domain"
)

// TokenSource exchanges a session id for transport credentials.
type TokenSource interface {
	FetchToken(ctx context.Context, req domain.TokenRequest) (*domain.TokenResponse, error)
}

// Options configures one Connect call.
type Options struct {
	Sink Sink
	// EnableVideo routes remote video to the sink; audio-only sessions ignore video tracks.
	EnableVideo   bool
	OnVideoChange func(hasVideo bool)
	// OnDisconnected reports an ungraceful transport disconnect, after local cleanup.
	OnDisconnected func()
}

// Client joins the media room of a session.
type Client struct {
	tokens    TokenSource
	connector Connector
	capture   Capture
	log       zerolog.Logger
}

// NewClient creates a new media client.
func NewClient(tokens TokenSource, connector Connector, capture Capture, logger zerolog.Logger) *Client {
	return &Client{
		tokens:    tokens,
		connector: connector,
		capture:   capture,
		log:       logger,
	}
}

// Identity returns the participant identity used for sessionID.
func Identity(sessionID string) string {
	prefix := sessionID
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	return "caller-" + prefix
}

// Connect exchanges sessionID for credentials, joins the room and publishes the
// local audio track. The returned Handle is owned by the caller.
func (c *Client) Connect(ctx context.Context, sessionID string, opts Options) (*Handle, error) {
	log := c.log.With().Str("session_id", sessionID).Logger()

	creds, err := c.tokens.FetchToken(ctx, domain.TokenRequest{
		SessionID: sessionID,
		Identity:  Identity(sessionID),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnableToConnect, err)
	}

	h := &Handle{
		sessionID: sessionID,
		opts:      opts,
		log:       log,
	}

	room, err := c.connector.Connect(ctx, creds.URL, creds.Token, RoomEvents{
		OnTrackSubscribed:   h.onTrackSubscribed,
		OnTrackUnsubscribed: h.onTrackUnsubscribed,
		OnDisconnected:      h.onDisconnected,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: join room: %w", ErrUnableToConnect, err)
	}
	h.room = room

	audio, err := c.capture.Open(ctx)
	if err != nil {
		room.Disconnect()
		return nil, fmt.Errorf("%w: open capture: %w", ErrUnableToConnect, err)
	}
	h.audio = audio

	sid, err := room.PublishAudio(audio)
	if err != nil {
		audio.Stop()
		room.Disconnect()
		return nil, fmt.Errorf("%w: publish audio: %w", ErrUnableToConnect, err)
	}
	h.sid = sid
	h.install()

	log.Info().Str("room", creds.Room).Str("track_sid", sid).Msg("joined media room")
	return h, nil
}

// Handle owns a joined room and its local audio track.
type Handle struct {
	sessionID string
	room      Room
	audio     LocalAudio
	sid       string
	opts      Options
	log       zerolog.Logger

	mu sync.Mutex
	// Subscriptions that arrive before install are queued and replayed.
	installed bool
	released  bool
	pending   []RemoteTrack

	releaseOnce sync.Once
}

// SessionID returns the session the handle was created for.
func (h *Handle) SessionID() string {
	return h.sessionID
}

// Release unpublishes and stops the local track, stops listening to room events,
// disconnects and detaches every sink. It is safe to call more than once.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		h.mu.Lock()
		h.released = true
		h.pending = nil
		h.mu.Unlock()

		if h.room != nil && h.audio != nil {
			if err := h.room.Unpublish(h.sid); err != nil {
				h.log.Debug().Err(err).Msg("unpublish local audio")
			}
		}
		if h.audio != nil {
			h.audio.Stop()
		}
		if h.room != nil {
			h.room.Disconnect()
		}
		if h.opts.Sink != nil {
			h.opts.Sink.DetachAll()
			h.opts.Sink.ClearVideo()
		}
		h.log.Debug().Msg("media handle released")
	})
}

func (h *Handle) install() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.installed = true
	queued := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, track := range queued {
		h.attach(track)
	}
}

// listening reports whether room events should be handled, queueing track when
// handlers are not installed yet.
func (h *Handle) listening(queue RemoteTrack) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}
	if !h.installed && queue != nil {
		h.pending = append(h.pending, queue)
	}
	return h.installed
}

func (h *Handle) onTrackSubscribed(track RemoteTrack) {
	if h.listening(track) {
		h.attach(track)
	}
}

func (h *Handle) onTrackUnsubscribed(track RemoteTrack) {
	h.mu.Lock()
	if !h.installed || h.released {
		for i, p := range h.pending {
			if p.ID() == track.ID() {
				h.pending = append(h.pending[:i], h.pending[i+1:]...)
				break
			}
		}
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if h.opts.Sink == nil {
		return
	}
	switch track.Kind() {
	case TrackKindAudio:
		h.opts.Sink.Detach(track)
	case TrackKindVideo:
		if !h.opts.EnableVideo {
			return
		}
		h.opts.Sink.Detach(track)
		h.opts.Sink.ClearVideo()
		h.reportVideo(false)
	}
}

func (h *Handle) attach(track RemoteTrack) {
	if h.opts.Sink == nil {
		return
	}
	switch track.Kind() {
	case TrackKindAudio:
		h.opts.Sink.Attach(track)
	case TrackKindVideo:
		if !h.opts.EnableVideo {
			return
		}
		h.opts.Sink.Attach(track)
		h.reportVideo(true)
	}
}

func (h *Handle) onDisconnected() {
	if !h.listening(nil) {
		return
	}
	h.log.Warn().Msg("media room disconnected")
	if h.audio != nil {
		h.audio.Stop()
	}
	if h.opts.Sink != nil {
		h.opts.Sink.DetachAll()
		h.opts.Sink.ClearVideo()
		if h.opts.EnableVideo {
			h.reportVideo(false)
		}
	}
	if h.opts.OnDisconnected != nil {
		h.opts.OnDisconnected()
	}
}

func (h *Handle) reportVideo(hasVideo bool) {
	if h.opts.OnVideoChange != nil {
		h.opts.OnVideoChange(hasVideo)
	}
}
