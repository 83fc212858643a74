package app

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/vocs/internal/adapters/storage/memory"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/core/coretest"
	"github.com/dkeye/vocs/internal/session"
	"github.com/stretchr/testify/require"
)

func newConn(t *testing.T, name string, h coretest.Handler) (*core.Connection, *coretest.Transport) {
	t.Helper()
	tr := coretest.New(h)
	store := session.NewStore("vocs", memory.New())
	c := core.NewConnection(core.Options{Name: name, URL: "wss://" + name + ".example/vocs"}, tr, store)
	t.Cleanup(c.Disconnect)
	return c, tr
}

func connect(t *testing.T, c *core.Connection) {
	t.Helper()
	ok, err := c.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func testCtx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func failWith(code int) coretest.Handler {
	return func(s *coretest.Socket, r coretest.Request) {
		s.Fail(r, code, "failure", nil)
	}
}
