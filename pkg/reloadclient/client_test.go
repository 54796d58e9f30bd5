package reloadclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelDebug,
}))

// mockServer is a refresh channel endpoint that records every inbound data
// frame and hands accepted connections to the test for driving.
type mockServer struct {
	srv     *httptest.Server
	conns   chan *websocket.Conn
	inbound atomic.Int64
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{conns: make(chan *websocket.Conn, 4)}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		m.conns <- ws
		for {
			if _, _, err := ws.Read(context.Background()); err != nil {
				return
			}
			m.inbound.Add(1)
		}
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-m.conns:
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (m *mockServer) send(t *testing.T, ws *websocket.Conn, payload []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, payload))
}

func expectReload(t *testing.T, reloads chan struct{}) {
	t.Helper()
	select {
	case <-reloads:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload invocation")
	}
}

func expectNoReload(t *testing.T, reloads chan struct{}, wait time.Duration) {
	t.Helper()
	select {
	case <-reloads:
		t.Fatal("unexpected reload invocation")
	case <-time.After(wait):
	}
}

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		origin string
		path   string
		want   string
	}{
		{"http://localhost:6464", "", "ws://localhost:6464/refresh-ws"},
		{"https://example.test", "", "wss://example.test/refresh-ws"},
		{"http://localhost:6464/", "", "ws://localhost:6464/refresh-ws"},
		{"ws://localhost:6464", "", "ws://localhost:6464/refresh-ws"},
		{"https://example.test", "/custom-ws", "wss://example.test/custom-ws"},
	}
	for _, c := range cases {
		got, err := EndpointURL(c.origin, c.path)
		require.NoError(t, err, "EndpointURL(%q, %q)", c.origin, c.path)
		assert.Equal(t, c.want, got)
	}

	_, err := EndpointURL("ftp://example.test", "")
	assert.Error(t, err, "non-web schemes are rejected")
	_, err = EndpointURL("http://", "")
	assert.Error(t, err, "an origin without a host is rejected")
}

func TestConnectRequiresReloadSignal(t *testing.T) {
	_, err := Connect("http://localhost:6464", nil)
	assert.ErrorIs(t, err, ErrNoReloadSignal)
}

// Opening the connection alone must not trigger a reload.
func TestOpenDoesNotReload(t *testing.T) {
	m := newMockServer(t)

	reloads := make(chan struct{}, 10)
	c, err := Connect(m.srv.URL, func() { reloads <- struct{}{} }, WithLogger(testLogger))
	require.NoError(t, err)
	defer c.Close()

	m.accept(t)
	expectNoReload(t, reloads, 300*time.Millisecond)
	assert.True(t, c.Connected())
}

// Every received message triggers exactly one reload, regardless of payload.
func TestEachMessageTriggersOneReload(t *testing.T) {
	m := newMockServer(t)

	reloads := make(chan struct{}, 10)
	c, err := Connect(m.srv.URL, func() { reloads <- struct{}{} }, WithLogger(testLogger))
	require.NoError(t, err)
	defer c.Close()

	ws := m.accept(t)

	payloads := [][]byte{
		[]byte(""),
		[]byte("changed"),
		[]byte(`{"file":"a.ts"}`),
	}
	for _, payload := range payloads {
		m.send(t, ws, payload)
		expectReload(t, reloads)
		expectNoReload(t, reloads, 150*time.Millisecond)
	}

	assert.EqualValues(t, 0, m.inbound.Load(), "client must never send a message")
}

// Scenario from the contract: a message delivered immediately after the
// connection opens causes exactly one reload and zero outbound sends.
func TestImmediateMessageScenario(t *testing.T) {
	m := newMockServer(t)

	reloads := make(chan struct{}, 10)
	c, err := Connect(m.srv.URL, func() { reloads <- struct{}{} }, WithLogger(testLogger))
	require.NoError(t, err)
	defer c.Close()

	ws := m.accept(t)
	m.send(t, ws, []byte("reload"))

	expectReload(t, reloads)
	expectNoReload(t, reloads, 300*time.Millisecond)
	assert.EqualValues(t, 0, m.inbound.Load())
}

// Connection loss without a message never triggers a reload, and without
// opt-in reconnection no corrective action is taken.
func TestConnectionLossDoesNotReload(t *testing.T) {
	m := newMockServer(t)

	reloads := make(chan struct{}, 10)
	disconnected := make(chan struct{}, 1)
	c, err := Connect(m.srv.URL,
		func() { reloads <- struct{}{} },
		WithLogger(testLogger),
		WithDisconnectHandler(func(error) { disconnected <- struct{}{} }),
	)
	require.NoError(t, err)
	defer c.Close()

	ws := m.accept(t)
	require.NoError(t, ws.Close(websocket.StatusNormalClosure, "server going away"))

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect callback")
	}

	expectNoReload(t, reloads, 300*time.Millisecond)
	assert.False(t, c.Connected())

	// No new connection shows up without WithReconnect.
	select {
	case <-m.conns:
		t.Fatal("client reconnected without opt-in")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestReconnectResumesReloads(t *testing.T) {
	m := newMockServer(t)

	reloads := make(chan struct{}, 10)
	c, err := Connect(m.srv.URL,
		func() { reloads <- struct{}{} },
		WithLogger(testLogger),
		WithReconnect(10, 20*time.Millisecond, 100*time.Millisecond),
	)
	require.NoError(t, err)
	defer c.Close()

	first := m.accept(t)
	require.NoError(t, first.Close(websocket.StatusGoingAway, "restart"))

	second := m.accept(t)
	m.send(t, second, []byte("changed"))

	expectReload(t, reloads)
	assert.EqualValues(t, 0, m.inbound.Load())
}

func TestInitialDialFailure(t *testing.T) {
	// Nothing listens on this origin.
	_, err := Connect("http://127.0.0.1:1", func() {}, WithDialTimeout(500*time.Millisecond))
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newMockServer(t)

	c, err := Connect(m.srv.URL, func() {}, WithLogger(testLogger))
	require.NoError(t, err)
	m.accept(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
}
