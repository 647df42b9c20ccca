package client

import (
	"sync"
	"time"

	"canvas-backend/domain/events"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// reconnectDelay is the fixed backoff before a reconnection attempt.
const reconnectDelay = 3 * time.Second

// ChannelState tracks the live update channel's lifecycle.
type ChannelState int32

const (
	ChannelIdle ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelBackingOff
)

// Channel is the client end of the live update channel: it dials the server,
// feeds decoded events to a handler, and reconnects after a fixed backoff on
// abnormal closure. An explicit Close never reconnects, and at most one
// reconnect attempt is pending at a time.
type Channel struct {
	url     string
	handler func(events.Event)
	logger  *zap.Logger

	mu             sync.Mutex
	state          ChannelState
	conn           *websocket.Conn
	reconnectTimer *time.Timer
	closed         bool
}

// NewChannel creates a channel for the given ws:// URL. handler receives
// every decoded inbound event.
func NewChannel(url string, handler func(events.Event), logger *zap.Logger) *Channel {
	return &Channel{
		url:     url,
		handler: handler,
		logger:  logger,
	}
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the server. A call while a connection is already open or in
// progress is a no-op.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.closed || c.state == ChannelOpen || c.state == ChannelConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = ChannelConnecting
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.logger.Warn("dial failed", zap.Error(err))
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.state = ChannelOpen
	c.mu.Unlock()

	c.logger.Info("channel open", zap.String("url", c.url))
	go c.readLoop(conn)
	return nil
}

// Send pushes one event to the server over the open channel.
func (c *Channel) Send(ev events.Event) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == ChannelOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return websocket.ErrCloseSent
	}
	return conn.WriteJSON(ev)
}

// Close tears the channel down. Any pending reconnect is cancelled and no
// further attempt is made.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.state = ChannelIdle
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
	c.logger.Info("channel closed")
}

// readLoop decodes inbound frames until the connection drops. A malformed
// frame is logged and skipped; only a transport-level error ends the loop.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		ev, decodeErr := events.Decode(message)
		if decodeErr != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(decodeErr))
			continue
		}
		c.handler(ev)
	}
}

// handleDisconnect deregisters the connection, then schedules a reconnect
// unless the closure was normal or the channel was explicitly closed.
func (c *Channel) handleDisconnect(conn *websocket.Conn, err error) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.state = ChannelIdle
	c.mu.Unlock()

	if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.logger.Info("channel disconnected", zap.Error(err))
		return
	}

	c.logger.Warn("abnormal disconnect, scheduling reconnect", zap.Error(err))
	c.scheduleReconnect()
}

// scheduleReconnect arms the single reconnect timer. A second call while one
// is pending is a no-op.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.reconnectTimer != nil {
		return
	}
	c.state = ChannelBackingOff
	c.reconnectTimer = time.AfterFunc(reconnectDelay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.state = ChannelIdle
		c.mu.Unlock()

		if err := c.Connect(); err != nil {
			c.logger.Warn("reconnect attempt failed", zap.Error(err))
		}
	})
}
