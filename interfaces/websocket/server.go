package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"canvas-backend/application/services"
	"canvas-backend/domain/events"
	"canvas-backend/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades HTTP requests into live update channels. On every new
// connection it pushes the full element snapshot plus a status event to that
// connection only, then leaves the hub to relay broadcasts.
type Server struct {
	hub      *Hub
	service  *services.ElementService
	upgrader websocket.Upgrader
	logger   *zap.Logger
	roomID   string
}

// ServerConfig holds WebSocket server configuration
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultServerConfig returns default WebSocket server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// The canvas frontend is served from a different origin in
			// development; origin checks are left to the deployment proxy.
			return true
		},
	}
}

// NewServer creates a new WebSocket server
func NewServer(hub *Hub, service *services.ElementService, config *ServerConfig, roomID string, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	return &Server{
		hub:     hub,
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: logger,
		roomID: roomID,
	}
}

// HandleWebSocket handles WebSocket upgrade requests.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		return
	}

	client := NewClient(s.roomID, s.hub, conn, s.handleInbound, s.logger)

	// Queue the snapshot before the hub sees the client: once the client is
	// registered, only the hub loop may write to its send channel, since the
	// leave path closes that channel.
	s.sendSnapshot(client)
	client.Start()

	s.logger.Info("new websocket connection established",
		zap.String("connectionID", client.ID()),
		zap.String("remoteAddr", r.RemoteAddr),
	)
}

// sendSnapshot queues initial_elements and sync_status for one connection.
// Called before the client starts, so the two frames are first in its buffer
// and no broadcast can precede them.
func (s *Server) sendSnapshot(client *Client) {
	elements := s.service.List(context.Background())

	snapshot, err := json.Marshal(events.NewInitialElements(elements))
	if err != nil {
		s.logger.Error("failed to marshal snapshot", zap.Error(err))
		return
	}
	status, err := json.Marshal(events.NewSyncStatus(len(elements), utils.NowRFC3339()))
	if err != nil {
		s.logger.Error("failed to marshal status", zap.Error(err))
		return
	}

	if !client.Send(snapshot) || !client.Send(status) {
		s.logger.Warn("failed to push initial snapshot",
			zap.String("connectionID", client.ID()),
		)
	}
}

// handleInbound dispatches decoded inbound events. Status events carry no
// scene mutation; clients mutate the store through the REST sync endpoints.
// Unrecognized tags land in the default arm so new client message kinds
// degrade to a log line instead of an error.
func (s *Server) handleInbound(client *Client, ev events.Event) {
	if _, registered := s.hub.RoomFor(client); !registered {
		// Teardown already deregistered this connection.
		return
	}

	switch ev.(type) {
	case events.SyncStatus, events.ElementsSynced:
		s.logger.Debug("status event from client",
			zap.String("connectionID", client.ID()),
			zap.String("eventType", ev.EventType()),
		)
	default:
		s.logger.Debug("unhandled inbound event",
			zap.String("connectionID", client.ID()),
			zap.String("eventType", ev.EventType()),
		)
	}
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
