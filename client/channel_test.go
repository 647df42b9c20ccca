package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"canvas-backend/domain/events"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// channelFixture is a websocket server endpoint that hands each upgraded
// connection to the test and counts dials.
type channelFixture struct {
	ts       *httptest.Server
	upgrades atomic.Int32
	conns    chan *websocket.Conn
}

func newChannelFixture(t *testing.T) *channelFixture {
	t.Helper()

	f := &channelFixture{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	f.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		f.upgrades.Add(1)
		f.conns <- conn
	}))
	t.Cleanup(f.ts.Close)
	return f
}

func (f *channelFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.ts.URL, "http")
}

// accept returns the next server-side connection.
func (f *channelFixture) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func newTestChannel(t *testing.T, url string) (*Channel, chan events.Event) {
	t.Helper()
	received := make(chan events.Event, 16)
	ch := NewChannel(url, func(ev events.Event) { received <- ev }, zap.NewNop())
	t.Cleanup(ch.Close)
	return ch, received
}

func TestChannel_ConnectAndReceive(t *testing.T) {
	f := newChannelFixture(t)
	ch, received := newTestChannel(t, f.wsURL())

	require.NoError(t, ch.Connect())
	server := f.accept(t)

	require.NoError(t, server.WriteJSON(events.NewElementDeleted("el-1")))

	select {
	case ev := <-received:
		deleted, ok := ev.(events.ElementDeleted)
		require.True(t, ok, "expected element_deleted, got %s", ev.EventType())
		assert.Equal(t, "el-1", deleted.ElementID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered to handler")
	}
	assert.Equal(t, ChannelOpen, ch.State())
}

func TestChannel_ConnectWhileOpenIsNoOp(t *testing.T) {
	f := newChannelFixture(t)
	ch, _ := newTestChannel(t, f.wsURL())

	require.NoError(t, ch.Connect())
	f.accept(t)

	require.NoError(t, ch.Connect())
	require.NoError(t, ch.Connect())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), f.upgrades.Load())
	assert.Equal(t, ChannelOpen, ch.State())
}

func TestChannel_NormalCloseDoesNotReconnect(t *testing.T) {
	f := newChannelFixture(t)
	ch, _ := newTestChannel(t, f.wsURL())

	require.NoError(t, ch.Connect())
	server := f.accept(t)

	deadline := time.Now().Add(time.Second)
	require.NoError(t, server.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		deadline,
	))
	server.Close()

	require.Eventually(t, func() bool {
		return ch.State() == ChannelIdle
	}, 2*time.Second, 10*time.Millisecond)

	ch.mu.Lock()
	timer := ch.reconnectTimer
	ch.mu.Unlock()
	assert.Nil(t, timer, "normal closure must not arm the reconnect timer")
	assert.Equal(t, int32(1), f.upgrades.Load())
}

func TestChannel_AbnormalCloseSchedulesReconnect(t *testing.T) {
	f := newChannelFixture(t)
	ch, _ := newTestChannel(t, f.wsURL())

	require.NoError(t, ch.Connect())
	server := f.accept(t)

	// Drop the TCP connection without a close handshake.
	server.Close()

	require.Eventually(t, func() bool {
		return ch.State() == ChannelBackingOff
	}, 2*time.Second, 10*time.Millisecond)

	ch.mu.Lock()
	timer := ch.reconnectTimer
	ch.mu.Unlock()
	require.NotNil(t, timer, "abnormal closure must arm the reconnect timer")
}

func TestChannel_CloseCancelsPendingReconnect(t *testing.T) {
	f := newChannelFixture(t)
	ch, _ := newTestChannel(t, f.wsURL())

	require.NoError(t, ch.Connect())
	server := f.accept(t)
	server.Close()

	require.Eventually(t, func() bool {
		return ch.State() == ChannelBackingOff
	}, 2*time.Second, 10*time.Millisecond)

	ch.Close()

	assert.Equal(t, ChannelIdle, ch.State())
	ch.mu.Lock()
	timer := ch.reconnectTimer
	closed := ch.closed
	ch.mu.Unlock()
	assert.Nil(t, timer)
	assert.True(t, closed)

	// A later Connect after Close stays a no-op.
	require.NoError(t, ch.Connect())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), f.upgrades.Load())
}

func TestChannel_DialFailureBacksOff(t *testing.T) {
	ch, _ := newTestChannel(t, "ws://127.0.0.1:1/ws")

	err := ch.Connect()
	require.Error(t, err)
	assert.Equal(t, ChannelBackingOff, ch.State())
}

func TestChannel_MalformedFrameIsSkipped(t *testing.T) {
	f := newChannelFixture(t)
	ch, received := newTestChannel(t, f.wsURL())

	require.NoError(t, ch.Connect())
	server := f.accept(t)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, server.WriteJSON(events.NewSyncStatus(3, "2025-01-01T00:00:00Z")))

	select {
	case ev := <-received:
		assert.Equal(t, events.TypeSyncStatus, ev.EventType())
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after malformed one was not delivered")
	}
	assert.Equal(t, ChannelOpen, ch.State())
}
