package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drawdock/drawdock/internal/slogging"
)

// Client wraps one WebSocket connection registered with the hub. Outbound
// frames are serialized through the buffered send channel; a client that
// cannot drain it fast enough loses frames rather than blocking the room.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	session *Session
	room    *Room

	send      chan []byte
	closeOnce sync.Once
}

// NewClient creates a client for an upgraded connection. conn may be nil in
// tests; trySend still queues and the test drains the channel directly.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Send exposes the outbound queue for tests.
func (c *Client) Send() <-chan []byte {
	return c.send
}

func (c *Client) sessionID() string {
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

// trySend queues a frame without blocking. It reports false when the
// client's queue is full or already closed.
func (c *Client) trySend(frame []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			// send was closed concurrently; treat as a failed delivery
			ok = false
		}
	}()
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown closes the outbound queue exactly once. The write pump drains
// anything already queued, then closes the connection, which in turn ends
// the read pump.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.conn != nil {
			// Unblock a read pump waiting on a silent connection
			_ = c.conn.SetReadDeadline(time.Now())
		}
	})
}

// ReadPump pumps frames from the connection into the room's dispatch loop.
// It runs in its own goroutine, one per connection.
func (c *Client) ReadPump() {
	logger := slogging.Get()
	defer func() {
		c.hub.Leave(c.session)
		c.shutdown()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error for session %s: %v", c.sessionID(), err)
			}
			return
		}
		// Inbound traffic resets the liveness deadline alongside pongs
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		room := c.room
		if room == nil {
			continue
		}
		select {
		case room.inbound <- inboundFrame{client: c, data: message}:
		case <-room.done:
			return
		}
	}
}

// WritePump pumps queued frames to the connection and keeps it alive with
// periodic pings. It runs in its own goroutine, one per connection.
func (c *Client) WritePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				// Hub closed the queue
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
