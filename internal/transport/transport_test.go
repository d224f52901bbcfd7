package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flowtabs/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startServer(t *testing.T, notify bool) (*Server, string) {
	t.Helper()
	srv := NewServer(ServerConfig{NotifyDisplaced: notify})
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Close(ctx)
		hs.Close()
	})
	return srv, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func nextEvent(t *testing.T, srv *Server) Event {
	t.Helper()
	select {
	case ev := <-srv.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transport event")
		return Event{}
	}
}

func noEvent(t *testing.T, srv *Server, d time.Duration) {
	t.Helper()
	select {
	case ev := <-srv.Events():
		t.Fatalf("unexpected event: %v %+v", ev.Kind, ev.Message)
	case <-time.After(d):
	}
}

func TestParseInbound(t *testing.T) {
	in, err := ParseInbound([]byte(`{"tabs":[{"id":1,"title":"a","url":"https://a"},{"title":"no id"}]}`))
	require.NoError(t, err)
	assert.Equal(t, ActionSnapshot, in.Action)
	require.Len(t, in.Tabs, 1)
	assert.Equal(t, model.ID("1"), in.Tabs[0].ID)
	assert.Equal(t, 1, in.Skipped)

	in, err = ParseInbound([]byte(`{"action":"tabActivated","id":42}`))
	require.NoError(t, err)
	assert.Equal(t, Inbound{Action: ActionTabActivated, ID: "42"}, in)

	in, err = ParseInbound([]byte(`{"action":"snapshot","tabs":[]}`))
	require.NoError(t, err)
	assert.Empty(t, in.Tabs)

	_, err = ParseInbound([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParseInbound([]byte(`{"action":"tabRemoved"}`))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParseInbound([]byte(`{"action":"dance"}`))
	assert.ErrorIs(t, err, ErrUnknownAction)
	_, err = ParseInbound([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseOutbound(t *testing.T) {
	cmd, err := ParseOutbound([]byte(`{"action":"activateTab","id":7}`))
	require.NoError(t, err)
	assert.Equal(t, ActivateTab("7"), cmd)

	cmd, err = ParseOutbound([]byte(`{"action":"search","url":"https://example.com/?q=x"}`))
	require.NoError(t, err)
	assert.Equal(t, Search("https://example.com/?q=x"), cmd)

	_, err = ParseOutbound([]byte(`{"action":"search"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestServer_MalformedMessageKeepsConnectionOpen(t *testing.T) {
	srv, url := startServer(t, true)
	conn := dial(t, url)
	require.Equal(t, EventConnected, nextEvent(t, srv).Kind)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{{{`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"unknown"}`)))
	require.NoError(t, conn.WriteJSON(SnapshotMessage([]model.Tab{{ID: "3", Title: "x"}})))

	ev := nextEvent(t, srv)
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, ActionSnapshot, ev.Message.Action)
	require.Len(t, ev.Message.Tabs, 1)
	assert.True(t, srv.Connected())
}

func TestServer_SendWithoutPeerIsDropped(t *testing.T) {
	srv, _ := startServer(t, true)
	assert.False(t, srv.Send(ActivateTab("1")))
}

func TestOutbound_TabIDsEncodeAsNumbers(t *testing.T) {
	b, err := json.Marshal(ActivateTab("42"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"activateTab","id":42}`, string(b))

	b, err = json.Marshal(ActivateTab("0x1f"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"activateTab","id":"0x1f"}`, string(b))

	for _, id := range []model.ID{"007", "+5", "-0"} {
		b, err = json.Marshal(ActivateTab(id))
		require.NoError(t, err)
		assert.JSONEq(t, `{"action":"activateTab","id":"`+string(id)+`"}`, string(b))
	}

	b, err = json.Marshal(ActivateTab("-3"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"activateTab","id":-3}`, string(b))

	b, err = json.Marshal(Search("https://example.com/?q=a"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"search","url":"https://example.com/?q=a"}`, string(b))
}

func TestServer_SendReachesPeer(t *testing.T) {
	srv, url := startServer(t, true)
	conn := dial(t, url)
	require.Equal(t, EventConnected, nextEvent(t, srv).Kind)

	require.True(t, srv.Send(ActivateTab("9")))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	cmd, err := ParseOutbound(data)
	require.NoError(t, err)
	assert.Equal(t, ActivateTab("9"), cmd)
}

func TestServer_NewPeerReplacesOldAndNotifiesIt(t *testing.T) {
	srv, url := startServer(t, true)
	old := dial(t, url)
	first := nextEvent(t, srv)
	require.Equal(t, EventConnected, first.Kind)

	newer := dial(t, url)
	second := nextEvent(t, srv)
	require.Equal(t, EventConnected, second.Kind)
	assert.NotEqual(t, first.PeerID, second.PeerID)

	_ = old.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := old.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, CloseReplaced), "got %v", err)

	// The displaced peer going away must not look like a disconnect.
	noEvent(t, srv, 150*time.Millisecond)

	require.True(t, srv.Send(Search("https://s")))
	_ = newer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := newer.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"search"`)
}

func TestServer_ActivePeerLossEmitsDisconnected(t *testing.T) {
	srv, url := startServer(t, false)
	conn := dial(t, url)
	connected := nextEvent(t, srv)

	require.NoError(t, conn.Close())
	ev := nextEvent(t, srv)
	assert.Equal(t, EventDisconnected, ev.Kind)
	assert.Equal(t, connected.PeerID, ev.PeerID)
	assert.False(t, srv.Connected())
	assert.False(t, srv.Send(ActivateTab("1")))
}

func TestClient_PushesSnapshotOnEveryConnectBeforeCommands(t *testing.T) {
	srv, url := startServer(t, true)

	var connects atomic.Int32
	var mu sync.Mutex
	var order []string

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(ClientConfig{
		URL:               url,
		ReconnectInterval: 50 * time.Millisecond,
		OnConnect: func(ctx context.Context, c *Client) error {
			connects.Add(1)
			mu.Lock()
			order = append(order, "snapshot")
			mu.Unlock()
			return c.Send(SnapshotMessage([]model.Tab{{ID: "1", Title: "one"}}))
		},
		OnCommand: func(ctx context.Context, cmd Outbound) {
			mu.Lock()
			order = append(order, cmd.Action)
			mu.Unlock()
		},
	})
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Equal(t, EventConnected, nextEvent(t, srv).Kind)
	ev := nextEvent(t, srv)
	require.Equal(t, EventMessage, ev.Kind)
	require.Equal(t, ActionSnapshot, ev.Message.Action)
	require.True(t, srv.Send(ActivateTab("1")))

	// Drop the peer from the server side; the client must come back and push again.
	require.NoError(t, srv.dropActiveForTest())
	require.Equal(t, EventDisconnected, nextEvent(t, srv).Kind)
	require.Equal(t, EventConnected, nextEvent(t, srv).Kind)
	ev = nextEvent(t, srv)
	require.Equal(t, ActionSnapshot, ev.Message.Action)

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.GreaterOrEqual(t, connects.Load(), int32(2))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, order)
	assert.Equal(t, "snapshot", order[0])
}

func TestClient_KeepsRetryingWhileUnreachable(t *testing.T) {
	var attempts atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	c := NewClient(ClientConfig{
		URL:               "ws://127.0.0.1:1/",
		ReconnectInterval: 20 * time.Millisecond,
		OnConnect: func(context.Context, *Client) error {
			attempts.Add(1)
			return nil
		},
	})
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, attempts.Load())
	assert.ErrorIs(t, c.Send("x"), ErrNotConnected)
}
