package websocket

import (
	"sync/atomic"
	"time"

	"canvas-backend/domain/events"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Send buffer size
	sendBufferSize = 256
)

// State tracks a connection's readiness.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

// Client represents one live duplex connection.
type Client struct {
	id     string
	roomID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	state  atomic.Int32
	logger *zap.Logger

	// onEvent receives every decoded inbound event, including Unknown
	// frames, so unrecognized tags are forwarded rather than discarded.
	onEvent func(*Client, events.Event)
}

// NewClient creates a client for an upgraded connection. onEvent may be nil.
func NewClient(roomID string, hub *Hub, conn *websocket.Conn, onEvent func(*Client, events.Event), logger *zap.Logger) *Client {
	id := uuid.New().String()
	c := &Client{
		id:      id,
		roomID:  roomID,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		onEvent: onEvent,
		logger:  logger.With(zap.String("connectionID", id)),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID returns the client's connection ID.
func (c *Client) ID() string {
	return c.id
}

// RoomID returns the room the client joined.
func (c *Client) RoomID() string {
	return c.roomID
}

// State returns the connection's readiness state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Start registers the client with the hub, marks it open, and begins the
// read and write pumps.
func (c *Client) Start() {
	c.hub.lifecycle <- lifecycleOp{client: c, join: true}
	c.state.Store(int32(StateOpen))

	go c.writePump()
	go c.readPump()
}

// Send enqueues a single pre-serialized message for this connection only.
// Reports false when the buffer is full.
func (c *Client) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// readPump pumps messages from the connection into the event dispatch.
// On exit the client is deregistered before any other teardown, so no
// broadcast can target a dead handle.
func (c *Client) readPump() {
	defer func() {
		c.state.Store(int32(StateClosed))
		c.hub.lifecycle <- lifecycleOp{client: c, join: false}
		c.conn.Close()
		c.logger.Info("read pump stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.handleTextMessage(message)
		case websocket.BinaryMessage:
			c.logger.Warn("binary messages not supported")
		}
	}
}

// writePump pumps messages from the hub to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Info("write pump stopped")
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("failed to write message", zap.Error(err))
				return
			}

			// Drain queued messages into the same write window.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					c.logger.Error("failed to write batched message", zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// handleTextMessage decodes an inbound frame and forwards it to the event
// dispatch. A malformed payload is logged and dropped; it never closes the
// connection.
func (c *Client) handleTextMessage(message []byte) {
	ev, err := events.Decode(message)
	if err != nil {
		c.logger.Warn("dropping malformed inbound frame", zap.Error(err))
		return
	}

	if c.onEvent != nil {
		c.onEvent(c, ev)
		return
	}
	c.logger.Debug("inbound event ignored", zap.String("eventType", ev.EventType()))
}
