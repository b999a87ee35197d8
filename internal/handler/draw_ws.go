package handler

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"drawboard-backend/internal/config"
	"drawboard-backend/internal/dispatch"
	"drawboard-backend/internal/model"
)

// DrawWSHandler is the connection layer: it assigns each socket an opaque
// id, parses envelopes off the wire and hands them to the dispatcher.
// Malformed frames are dropped here and never reach the dispatcher.
type DrawWSHandler struct {
	dispatcher *dispatch.Dispatcher
	cfg        *config.WebSocketConfig
}

// NewDrawWSHandler creates the websocket handler.
func NewDrawWSHandler(dispatcher *dispatch.Dispatcher, cfg *config.WebSocketConfig) *DrawWSHandler {
	return &DrawWSHandler{dispatcher: dispatcher, cfg: cfg}
}

// client is one connected socket. Outbound messages go through a buffered
// queue drained by a single writer goroutine, so a slow or dead recipient
// never blocks a room broadcast.
type client struct {
	uid          string
	username     string
	roomID       string
	conn         *websocket.Conn
	send         chan *model.Envelope
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// UID returns the opaque per-connection id.
func (c *client) UID() string { return c.uid }

// RoomID returns the bound room, "" before join.
func (c *client) RoomID() string { return c.roomID }

// Username returns the name given at join time.
func (c *client) Username() string { return c.username }

// Bind attaches the socket to its room. Called once, from the read loop.
func (c *client) Bind(roomID, username string) {
	c.roomID = roomID
	c.username = username
}

// Send queues an envelope for delivery, dropping it if the client's queue
// is full or the connection is gone.
func (c *client) Send(env *model.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- env:
	default:
		log.Printf("[WS] send queue full, dropping %s for %s", env.Type, c.uid)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump drains the send queue onto the wire. A write failure ends the
// pump; the read loop notices the dead connection on its own.
func (c *client) writePump() {
	defer c.conn.Close()

	for env := range c.send {
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// HandleWebSocket runs one connection's read loop until the socket dies,
// then feeds the leave through the dispatcher.
func (h *DrawWSHandler) HandleWebSocket(conn *websocket.Conn) {
	cl := &client{
		uid:          uuid.New().String(),
		conn:         conn,
		send:         make(chan *model.Envelope, h.cfg.SendQueueSize),
		writeTimeout: h.cfg.WriteTimeout,
	}
	go cl.writePump()

	log.Printf("[WS] connected: %s", cl.uid)
	defer func() {
		h.dispatcher.HandleLeave(cl)
		cl.close()
		log.Printf("[WS] disconnected: %s", cl.uid)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
			continue
		}
		h.dispatcher.HandleMessage(cl, &env)
	}
}
