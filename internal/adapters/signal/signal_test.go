package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/vocs/internal/adapters/storage/memory"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/session"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer answers every request with its own parameter and closes the
// socket when asked to.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var req map[string]any
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			if req["event"] == "bye" {
				return
			}
			reply := map[string]any{
				"event":    req["event"],
				"uuid":     req["uuid"],
				"client":   req["client"],
				"type":     "unicast",
				"response": req["parameter"],
			}
			if err := ws.WriteJSON(reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/vocs"
}

func TestRoundTripOverWebsocket(t *testing.T) {
	srv := echoServer(t)
	store := session.NewStore("vocs", memory.New())
	c := core.NewConnection(core.Options{Name: "local", URL: wsURL(srv)}, NewDialer(time.Second), store)
	t.Cleanup(c.Disconnect)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := c.Connect(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := c.SendEvent(ctx, "echo", core.Message{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Int("n"))

	res, err = c.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.True(t, c.Authenticated())
	_, stored := store.Get(wsURL(srv))
	assert.True(t, stored)
	assert.Equal(t, "alice", res.Str("user"))
}

func TestServerCloseDisconnects(t *testing.T) {
	srv := echoServer(t)
	c := core.NewConnection(core.Options{URL: wsURL(srv)}, NewDialer(time.Second), session.NewStore("vocs", memory.New()))
	t.Cleanup(c.Disconnect)

	gone := make(chan struct{})
	c.On(core.EventDisconnected, func(core.Event) { close(gone) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Connect(ctx)
	require.NoError(t, err)

	_, err = c.SendEvent(ctx, "bye", nil)
	assert.ErrorIs(t, err, core.ErrDisconnected)
	select {
	case <-gone:
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event")
	}
	assert.False(t, c.IsConnecting())
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewDialer(time.Second).Dial(context.Background(), wsURL(srv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestWriteAfterClose(t *testing.T) {
	srv := echoServer(t)
	sock, err := NewDialer(time.Second).Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	require.NoError(t, sock.Close())
	require.NoError(t, sock.Close())

	assert.ErrorIs(t, sock.WriteMessage([]byte(`{}`)), ErrClosed)
	_, err = sock.ReadMessage()
	assert.ErrorIs(t, err, ErrClosed)
}
