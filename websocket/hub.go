// Package websocket lets the login page wait for the user to click the
// emailed link in another tab or device. The frontend subscribes with its
// login session id; when the link is consumed the hub pushes a verified event
// so the page can move on without polling.
package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"membrane/metrics"
)

// Connection represents one waiting login page.
type Connection struct {
	ID        string
	SessionID uuid.UUID
	Conn      *websocket.Conn
	Send      chan []byte
}

// Hub tracks which login sessions have pages waiting and fans verified
// events out to them.
type Hub struct {
	connections map[string]*Connection
	sessions    map[uuid.UUID]map[string]*Connection // sessionID -> connID -> connection
	register    chan *Connection
	unregister  chan *Connection
	mu          sync.RWMutex
	done        chan struct{}
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[uuid.UUID]map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
	}
}

// Close shuts down the hub event loop.
func (h *Hub) Close() {
	h.mu.Lock()
	select {
	case <-h.done:
		// already closed
	default:
		close(h.done)
	}
	h.mu.Unlock()
}

// RegisterConnection schedules a connection to be added to the hub. After
// shutdown the send channel is closed immediately so the connection's writer
// can finish.
func (h *Hub) RegisterConnection(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// UnregisterConnection schedules a connection to be removed from the hub.
func (h *Hub) UnregisterConnection(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Run starts the hub's event loop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			// Release every waiting page so their writer goroutines end.
			h.mu.Lock()
			for id, conn := range h.connections {
				close(conn.Send)
				delete(h.connections, id)
			}
			h.sessions = make(map[uuid.UUID]map[string]*Connection)
			h.mu.Unlock()
			metrics.UpdateWebSocketConnections(0)
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.sessions[conn.SessionID] == nil {
				h.sessions[conn.SessionID] = make(map[string]*Connection)
			}
			h.sessions[conn.SessionID][conn.ID] = conn
			count := len(h.connections)
			h.mu.Unlock()
			metrics.UpdateWebSocketConnections(count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if peers := h.sessions[conn.SessionID]; peers != nil {
					delete(peers, conn.ID)
					if len(peers) == 0 {
						delete(h.sessions, conn.SessionID)
					}
				}
				close(conn.Send)
			}
			count := len(h.connections)
			h.mu.Unlock()
			metrics.UpdateWebSocketConnections(count)
		}
	}
}

// NotifyVerified pushes a verified event to every page waiting on the session.
func (h *Hub) NotifyVerified(sessionID uuid.UUID, email, redirectURL string) {
	msg := WSMessage{
		Type:      "verified",
		SessionID: sessionID.String(),
		Content: VerifiedMessage{
			Email:       email,
			RedirectURL: redirectURL,
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal verified message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.sessions[sessionID] {
		select {
		case conn.Send <- payload:
		default:
			// Slow consumer; drop rather than block the notifier.
		}
	}
}

// WaitingCount reports how many pages are waiting on the given session.
func (h *Hub) WaitingCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
