package websocket

import (
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// HandleLoginWait handles a frontend waiting for its login session to be
// verified. The session id is a random capability generated by the frontend;
// the same id is baked into the verification token so the authenticate
// handler can route the event back here.
func HandleLoginWait(c *websocket.Conn, hub *Hub) {
	defer c.Close()

	sessionIDStr := c.Query("session_id")
	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		log.Printf("WebSocket connection rejected: invalid session id")
		return
	}

	conn := &Connection{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Conn:      c,
		Send:      make(chan []byte, 8),
	}
	hub.RegisterConnection(conn)

	// Writer: push hub events to the page.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for payload := range conn.Send {
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}()

	// Reader: the page sends nothing meaningful; this just detects closure.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}

	// Unregister closes conn.Send, which ends the writer.
	hub.UnregisterConnection(conn)
	<-writeDone
}
