package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"canvas-backend/domain/events"
	"canvas-backend/pkg/observability"

	"go.uber.org/zap"
)

// Hub is the connection registry: it tracks live connections and their room
// association and provides broadcast fan-out. The default deployment is
// single-room; room parameters are accepted but every registered connection
// is targeted.
type Hub struct {
	// Connection -> room association.
	connections map[*Client]string
	mu          sync.RWMutex

	// Joins and leaves share one channel so a connection's leave can never
	// overtake its join when both are queued behind other hub work.
	lifecycle chan lifecycleOp

	// Message broadcasting
	broadcast chan *broadcastMessage

	// Shutdown
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	metrics *observability.Metrics
}

// lifecycleOp is one queued connection join or leave.
type lifecycleOp struct {
	client *Client
	join   bool
}

// broadcastMessage is one serialized event queued for fan-out.
type broadcastMessage struct {
	roomID    string
	excludeID string
	payload   []byte
	eventType string
}

// NewHub creates a new connection hub.
func NewHub(metrics *observability.Metrics, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		connections: make(map[*Client]string),
		lifecycle:   make(chan lifecycleOp, 256),
		broadcast:   make(chan *broadcastMessage, 1000),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run starts the hub's main event loop.
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("hub shutting down")
			h.closeAllConnections()
			return

		case op := <-h.lifecycle:
			if op.join {
				h.registerClient(op.client)
			} else {
				h.unregisterClient(op.client)
			}

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-ticker.C:
			h.performHealthCheck()
		}
	}
}

// Stop gracefully shuts down the hub.
func (h *Hub) Stop() {
	h.logger.Info("stopping hub")
	h.cancel()
}

// Broadcast serializes event once and queues it for delivery to every open
// connection in roomID except the one identified by excludeID. Implements
// ports.Broadcaster.
func (h *Hub) Broadcast(roomID string, event events.Event, excludeID string) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal broadcast event",
			zap.Error(err),
			zap.String("eventType", event.EventType()),
		)
		return
	}

	message := &broadcastMessage{
		roomID:    roomID,
		excludeID: excludeID,
		payload:   payload,
		eventType: event.EventType(),
	}

	select {
	case h.broadcast <- message:
	case <-time.After(5 * time.Second):
		h.metrics.BroadcastsFailed.Inc()
		h.logger.Error("broadcast channel full, message dropped",
			zap.String("eventType", event.EventType()),
		)
	}
}

// ConnectionCount reports the number of registered connections. Implements
// ports.Broadcaster.
func (h *Hub) ConnectionCount(_ string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RoomFor returns the room the client registered under.
func (h *Hub) RoomFor(client *Client) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.connections[client]
	return room, ok
}

// registerClient adds a new client connection.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[client] = client.roomID
	h.metrics.ActiveConnections.Inc()

	h.logger.Info("client registered",
		zap.String("connectionID", client.id),
		zap.Int("connections", len(h.connections)),
	)
}

// unregisterClient removes a client connection. Removal happens only here,
// on explicit close or error; a merely unready connection is skipped during
// fan-out, not dropped. The shared lifecycle channel guarantees the matching
// join was already processed, so an absent client was simply never started.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[client]; !ok {
		return
	}
	delete(h.connections, client)
	close(client.send)
	h.metrics.ActiveConnections.Dec()

	h.logger.Info("client unregistered",
		zap.String("connectionID", client.id),
		zap.Int("remainingConnections", len(h.connections)),
	)
}

// fanOut delivers a serialized message to every open connection in the room.
func (h *Hub) fanOut(message *broadcastMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.connections))
	for client := range h.connections {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	successCount := 0
	skipCount := 0

	for _, client := range targets {
		if client.id == message.excludeID {
			continue
		}
		if client.State() != StateOpen {
			skipCount++
			continue
		}

		select {
		case client.send <- message.payload:
			successCount++
			h.metrics.BroadcastsSent.Inc()
		default:
			// Send buffer full: a best-effort send to a likely-dead
			// connection. The read pump's close detection owns removal.
			h.metrics.BroadcastsFailed.Inc()
			h.logger.Warn("dropping message for slow client",
				zap.String("connectionID", client.id),
				zap.String("eventType", message.eventType),
			)
		}
	}

	h.logger.Debug("broadcast complete",
		zap.String("eventType", message.eventType),
		zap.Int("delivered", successCount),
		zap.Int("skipped", skipCount),
	)
}

// performHealthCheck pings all connections to check if they're alive.
func (h *Hub) performHealthCheck() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.connections {
		if client.State() != StateOpen {
			continue
		}
		select {
		case client.send <- []byte(`{"type":"ping"}`):
		default:
			h.logger.Warn("failed to ping client",
				zap.String("connectionID", client.id),
			)
		}
	}

	h.logger.Debug("health check performed",
		zap.Int("totalConnections", len(h.connections)),
	)
}

// closeAllConnections closes all active connections during shutdown.
func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.connections {
		close(client.send)
		client.conn.Close()
		delete(h.connections, client)
	}

	h.logger.Info("all connections closed")
}
