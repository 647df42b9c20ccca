package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"canvas-backend/application/services"
	"canvas-backend/domain/element"
	"canvas-backend/domain/events"
	"canvas-backend/infrastructure/persistence/memory"
	"canvas-backend/pkg/observability"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	service *services.ElementService
	hub     *Hub
	ts      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	metrics := observability.NopMetrics()
	store := memory.NewStore()
	hub := NewHub(metrics, logger)
	service := services.NewElementService(store, hub, metrics, logger, "")
	server := NewServer(hub, service, nil, "", logger)

	go hub.Run()
	t.Cleanup(hub.Stop)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)

	return &testEnv{service: service, hub: hub, ts: ts}
}

func (env *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads frames until one decodes to a non-ping event.
func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Type == "ping" {
			continue
		}

		ev, err := events.Decode(raw)
		require.NoError(t, err)
		return ev
	}
}

func waitForConnections(t *testing.T, hub *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ConnectionCount("") == want
	}, 2*time.Second, 10*time.Millisecond)
}

func floatPtr(f float64) *float64 {
	return &f
}

func TestConnect_ReceivesSnapshotAndStatus(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Create(context.Background(), services.CreateElementInput{
		Type: element.TypeRectangle, X: floatPtr(1), Y: floatPtr(2),
	})
	require.NoError(t, err)

	conn := env.dial(t)

	first := readEvent(t, conn)
	initial, ok := first.(events.InitialElements)
	require.True(t, ok, "first event must be the snapshot, got %s", first.EventType())
	assert.Len(t, initial.Elements, 1)

	second := readEvent(t, conn)
	status, ok := second.(events.SyncStatus)
	require.True(t, ok, "second event must be sync_status, got %s", second.EventType())
	assert.Equal(t, 1, status.ElementCount)
	assert.NotEmpty(t, status.Timestamp)
}

func TestBroadcast_FansOutToAllConnections(t *testing.T) {
	env := newTestEnv(t)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = env.dial(t)
		// Drain snapshot + status.
		readEvent(t, conns[i])
		readEvent(t, conns[i])
	}
	waitForConnections(t, env.hub, 3)

	el, err := env.service.Create(context.Background(), services.CreateElementInput{
		Type: element.TypeEllipse, X: floatPtr(0), Y: floatPtr(0),
	})
	require.NoError(t, err)

	// The HTTP caller is not a connection target: every live connection
	// receives the event.
	for i, conn := range conns {
		ev := readEvent(t, conn)
		created, ok := ev.(events.ElementCreated)
		require.True(t, ok, "conn %d expected element_created, got %s", i, ev.EventType())
		assert.Equal(t, el.ID, created.Element.ID)
	}
}

func TestBroadcast_ExcludesOriginatingConnection(t *testing.T) {
	env := newTestEnv(t)

	connA := env.dial(t)
	connB := env.dial(t)
	for _, c := range []*websocket.Conn{connA, connB} {
		readEvent(t, c)
		readEvent(t, c)
	}
	waitForConnections(t, env.hub, 2)

	var excludeID string
	env.hub.mu.RLock()
	for client := range env.hub.connections {
		excludeID = client.id
		break
	}
	env.hub.mu.RUnlock()
	require.NotEmpty(t, excludeID)

	env.hub.Broadcast("", events.NewElementDeleted("x"), excludeID)

	// Exactly one of the two receives it. Drain both with a short deadline.
	received := 0
	for _, c := range []*websocket.Conn{connA, connB} {
		c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		_, raw, err := c.ReadMessage()
		if err != nil {
			continue
		}
		var envlp struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(raw, &envlp))
		if envlp.Type == events.TypeElementDeleted {
			received++
		}
	}
	assert.Equal(t, 1, received)
}

func TestBroadcast_NoConnectionsIsSafe(t *testing.T) {
	env := newTestEnv(t)
	// No panic, nothing to assert beyond completion.
	env.hub.Broadcast("", events.NewElementDeleted("x"), "")
}

func TestLifecycle_LeaveQueuedBehindJoinAlwaysRemoves(t *testing.T) {
	hub := NewHub(observability.NopMetrics(), zap.NewNop())

	// A connection that drops right after the handshake queues its join and
	// leave back to back while the hub loop is busy. The leave must never be
	// consumed ahead of the join.
	for i := 0; i < 100; i++ {
		c := NewClient("", hub, nil, nil, zap.NewNop())
		hub.lifecycle <- lifecycleOp{client: c, join: true}
		hub.lifecycle <- lifecycleOp{client: c, join: false}
	}

	go hub.Run()
	defer hub.Stop()

	require.Eventually(t, func() bool {
		return len(hub.lifecycle) == 0 && hub.ConnectionCount("") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestImmediateDisconnect_DoesNotLeakConnections(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 20; i++ {
		conn := env.dial(t)
		conn.Close()
	}

	waitForConnections(t, env.hub, 0)

	// The registry is clean; a fresh connection still gets broadcasts.
	conn := env.dial(t)
	readEvent(t, conn)
	readEvent(t, conn)
	waitForConnections(t, env.hub, 1)

	env.hub.Broadcast("", events.NewElementDeleted("x"), "")
	ev := readEvent(t, conn)
	assert.Equal(t, events.TypeElementDeleted, ev.EventType())
}

func TestRoomFor(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	readEvent(t, conn)
	readEvent(t, conn)
	waitForConnections(t, env.hub, 1)

	env.hub.mu.RLock()
	var client *Client
	for c := range env.hub.connections {
		client = c
	}
	env.hub.mu.RUnlock()
	require.NotNil(t, client)

	room, ok := env.hub.RoomFor(client)
	assert.True(t, ok)
	assert.Equal(t, "", room)

	conn.Close()
	waitForConnections(t, env.hub, 0)

	_, ok = env.hub.RoomFor(client)
	assert.False(t, ok)
}

func TestDisconnect_DeregistersClient(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	readEvent(t, conn)
	readEvent(t, conn)
	waitForConnections(t, env.hub, 1)

	conn.Close()
	waitForConnections(t, env.hub, 0)
}

func TestInbound_MalformedFrameDoesNotCloseConnection(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	readEvent(t, conn)
	readEvent(t, conn)
	waitForConnections(t, env.hub, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{{{not json`)))

	// The connection survives: a later broadcast still arrives.
	time.Sleep(50 * time.Millisecond)
	env.hub.Broadcast("", events.NewElementDeleted("x"), "")

	ev := readEvent(t, conn)
	assert.Equal(t, events.TypeElementDeleted, ev.EventType())
}

func TestInbound_UnknownEventTypeIsTolerated(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	readEvent(t, conn)
	readEvent(t, conn)
	waitForConnections(t, env.hub, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"presence_ping"}`)))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.hub.ConnectionCount(""))
}
