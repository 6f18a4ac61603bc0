package gateway

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection lifecycle states. Transitions only move forward:
// Connecting → Authenticating → Open → Closed.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateOpen
	StateClosed
)

const (
	// pingPeriod is the heartbeat interval. pongWait spans two cycles: a peer
	// that misses a whole cycle is considered dead and torn down.
	pingPeriod = 30 * time.Second
	pongWait   = 2 * pingPeriod

	writeWait      = 10 * time.Second
	maxFrameBytes  = 64 << 10
	sendBufferSize = 64
)

// Client is one websocket connection owned by an authenticated user. A user
// may hold several simultaneously (multi-device); each gets its own read and
// write goroutine.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	send   chan []byte
	state  atomic.Int32
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) { c.state.Store(int32(s)) }

func (c *Client) UserID() uuid.UUID { return c.userID }

// readPump drains inbound frames until the connection dies. It owns the read
// deadline: pongs and app-level pings both refresh it, so either protocol- or
// application-level heartbeats keep the connection alive.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read ended", "user_id", c.userID, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case FramePing:
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		case FrameTyping:
			c.hub.forwardTyping(c.userID, frame.ThreadID, frame.IsTyping)
		}
	}
}

// writePump serializes all writes: queued events plus the heartbeat ping. A
// send error or a closed send channel ends the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a frame to the write pump without blocking the hub. A full
// buffer means the consumer is too slow; it gets disconnected rather than
// stalling delivery to everyone else.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}
