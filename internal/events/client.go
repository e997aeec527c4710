package events

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Options configures a Channel.
type Options struct {
	// BaseURL is the ws:// or wss:// base address of the backend.
	BaseURL   string
	SessionID string

	// OnEvent is invoked from the reader goroutine, in arrival order.
	OnEvent func(Event)
	// OnClose is invoked exactly once when the transport closes for any reason,
	// including an explicit Close. err is nil for a normal closure.
	OnClose func(err error)

	// ReadTimeout bounds silence between server frames (pings included). Zero disables it.
	ReadTimeout time.Duration
	Dialer      *websocket.Dialer
	Logger      zerolog.Logger
}

// Channel is a live event channel bound to one session.
type Channel struct {
	conn      *websocket.Conn
	sessionID string
	opts      Options
	log       zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// URL returns the channel address for sessionID under baseURL.
func URL(baseURL, sessionID string) (string, error) {
	base := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return "", errors.New("channel base address is not configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid channel base address: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported channel scheme %q", u.Scheme)
	}
	return u.String() + "/session/" + url.PathEscape(sessionID) + "/events", nil
}

// Dial opens the event channel for opts.SessionID and starts reading.
func Dial(ctx context.Context, opts Options) (*Channel, error) {
	if opts.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	addr, err := URL(opts.BaseURL, opts.SessionID)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Channel{
		conn:      conn,
		sessionID: opts.SessionID,
		opts:      opts,
		log:       opts.Logger.With().Str("session_id", opts.SessionID).Logger(),
		done:      make(chan struct{}),
	}

	c.extendDeadline()
	conn.SetPingHandler(func(appData string) error {
		c.extendDeadline()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	go c.readPump()

	return c, nil
}

// SessionID returns the session this channel is bound to.
func (c *Channel) SessionID() string {
	return c.sessionID
}

// Done is closed once the reader has exited and OnClose has returned.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close closes the channel. It is safe to call more than once and never blocks
// on the reader goroutine.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) readPump() {
	var closeErr error
	defer func() {
		_ = c.Close()
		if c.opts.OnClose != nil {
			c.opts.OnClose(closeErr)
		}
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !isNormalClose(err) {
				closeErr = err
				c.log.Debug().Err(err).Msg("event channel closed")
			}
			return
		}
		c.extendDeadline()

		ev, err := Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable channel message")
			continue
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(ev)
		}
	}
}

func (c *Channel) extendDeadline() {
	if c.opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	// Local Close surfaces as a read on a closed connection.
	return errors.Is(err, net.ErrClosed)
}
