// Package protocoltest builds logged-in connection sets on fake servers.
package protocoltest

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/vocs/internal/adapters/storage/memory"
	"github.com/dkeye/vocs/internal/app"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/core/coretest"
	"github.com/dkeye/vocs/internal/session"
	"github.com/stretchr/testify/require"
)

// Policy retries quickly so tests stay fast.
var Policy = app.Policy{Retries: app.DefaultRetries, Delay: time.Millisecond}

// Server is one member of the set and the fake behind it.
type Server struct {
	Conn      *core.Connection
	Transport *coretest.Transport
}

// Sock is the server's current socket.
func (s *Server) Sock() *coretest.Socket { return s.Transport.Last() }

// NewSet connects and logs in one connection per name. Login is answered by
// the fake; every other request goes to h, or gets an empty response when h
// is nil.
func NewSet(t *testing.T, h coretest.Handler, names ...string) (*app.ConnectionSet, []*Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := session.NewStore("vocs", memory.New())
	handler := func(s *coretest.Socket, r coretest.Request) {
		switch {
		case r.Event == core.EventLogin:
			s.Reply(r, map[string]any{"session": "tok"})
		case h != nil:
			h(s, r)
		default:
			s.Reply(r, nil)
		}
	}

	var (
		conns   []*core.Connection
		servers []*Server
	)
	for _, name := range names {
		tr := coretest.New(handler)
		c := core.NewConnection(core.Options{Name: name, URL: "wss://" + name + ".example/vocs"}, tr, store)
		t.Cleanup(c.Disconnect)

		ok, err := c.Connect(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = c.Login(ctx, "alice", "secret")
		require.NoError(t, err)

		conns = append(conns, c)
		servers = append(servers, &Server{Conn: c, Transport: tr})
	}
	set, err := app.NewConnectionSet(conns, 5*time.Millisecond)
	require.NoError(t, err)
	return set, servers
}

// Ctx is a context bounded to a few seconds.
func Ctx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Answer replies to every request with response.
func Answer(response map[string]any) coretest.Handler {
	return func(s *coretest.Socket, r coretest.Request) { s.Reply(r, response) }
}
