// Package hub provides connection management for event channel subscribers.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Connection represents a single WebSocket connection bound to a session.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	mu        sync.Mutex
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Sessions maps session_id to set of connection IDs
	sessions map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *SessionMessage

	log zerolog.Logger
	mu  sync.RWMutex
}

// SessionMessage is used to broadcast a message to a session.
type SessionMessage struct {
	SessionID string
	Data      []byte
	// Close ends every connection of the session instead of sending Data.
	Close bool
}

// NewHub creates a new Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *SessionMessage, 256),
		log:         logger,
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing every
// connection's send channel.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id := range h.connections {
				h.removeLocked(id)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.sessions[conn.SessionID] == nil {
				h.sessions[conn.SessionID] = make(map[string]bool)
			}
			h.sessions[conn.SessionID][conn.ID] = true
			h.mu.Unlock()
			h.log.Debug().Str("conn_id", conn.ID).Str("session_id", conn.SessionID).Msg("connection registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(conn.ID)
			h.mu.Unlock()
			h.log.Debug().Str("conn_id", conn.ID).Msg("connection unregistered")

		case msg := <-h.broadcast:
			if msg.Close {
				h.mu.Lock()
				for connID := range h.sessions[msg.SessionID] {
					h.removeLocked(connID)
				}
				h.mu.Unlock()
				continue
			}
			h.mu.RLock()
			for connID := range h.sessions[msg.SessionID] {
				if conn, exists := h.connections[connID]; exists {
					select {
					case conn.Send <- msg.Data:
					default:
						h.log.Warn().Str("conn_id", connID).Msg("connection buffer full, closing")
						go h.Unregister(ctx, conn)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// removeLocked drops a connection and closes its send channel. h.mu must be held.
func (h *Hub) removeLocked(connID string) {
	conn, ok := h.connections[connID]
	if !ok {
		return
	}
	delete(h.connections, connID)
	if ids := h.sessions[conn.SessionID]; ids != nil {
		delete(ids, connID)
		if len(ids) == 0 {
			delete(h.sessions, conn.SessionID)
		}
	}
	close(conn.Send)
}

// NewConnection creates a new connection bound to sessionID.
func (h *Hub) NewConnection(ws *websocket.Conn, sessionID string) *Connection {
	return &Connection{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(ctx context.Context, conn *Connection) {
	select {
	case h.register <- conn:
	case <-ctx.Done():
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(ctx context.Context, conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-ctx.Done():
	}
}

// Broadcast sends a message to all connections of a session. Messages are
// delivered in the order Broadcast is called.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	h.broadcast <- &SessionMessage{
		SessionID: sessionID,
		Data:      data,
	}
}

// CloseSession closes every connection of a session once previously
// broadcast messages are queued on them.
func (h *Hub) CloseSession(sessionID string) {
	h.broadcast <- &SessionMessage{
		SessionID: sessionID,
		Close:     true,
	}
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetSessionCount returns the number of sessions with connections.
func (h *Hub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HasActiveConnections checks if a session has any active connections.
func (h *Hub) HasActiveConnections(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	connIDs, ok := h.sessions[sessionID]
	return ok && len(connIDs) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
