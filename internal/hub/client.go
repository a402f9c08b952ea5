package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wazzap/chat-backend/internal/config"
	"github.com/wazzap/chat-backend/pkg/log"
)

// Client is the handle for one live transport.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	hub    *Hub
	config config.WebSocketConfig

	mu     sync.Mutex
	userID int64
	closed bool
}

func NewClient(id string, h *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		ID:     id,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		hub:    h,
		config: cfg,
	}
}

// ReadPump reads frames until the transport dies and hands each one to
// handler. Inbound frames for one connection are therefore processed
// strictly in arrival order.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.hub.Disconnect(c, 0, c.UserID())
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.L().Warn().Err(err).Str(log.FieldConnID, c.ID).Msg("websocket read failed")
			}
			break
		}
		handler(c, message)
	}
}

// WritePump drains the Send channel onto the wire and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage marshals and enqueues one payload. It reports false when
// the connection is closed or its buffer is full; the caller decides
// whether that matters.
func (c *Client) SendMessage(message interface{}) bool {
	data, err := json.Marshal(message)
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldConnID, c.ID).Msg("marshal outbound frame")
		return false
	}
	return c.enqueue(data)
}

// UserID reports the user this connection is bound to, zero before the
// handshake binds one. The hub's pumps and the dispatcher read it from
// different goroutines, so access is synchronized.
func (c *Client) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) bindUser(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend marks the client dead and closes its Send channel exactly
// once. Only the hub calls this.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// closeTransport shuts the underlying socket, swallowing errors: the
// peer may already be gone.
func (c *Client) closeTransport() {
	if c.Conn == nil {
		return
	}
	_ = c.Conn.Close()
}
