package sip

import (
	"strings"
	"testing"
	"time"

	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/core/coretest"
	"github.com/dkeye/vocs/internal/protocol/protocoltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFollowsPrime(t *testing.T) {
	set, servers := protocoltest.NewSet(t, func(s *coretest.Socket, r coretest.Request) {
		s.Reply(r, map[string]any{"connected": !strings.Contains(s.URL, "backup")})
	}, "prime", "backup")
	set.SwitchLead(servers[1].Conn)
	c := New(set, protocoltest.Policy)

	ok, err := c.Status(protocoltest.Ctx(t), nil)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Eventually(t, func() bool {
		return len(servers[1].Sock().SentEvents(EventSIP)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCallParameters(t *testing.T) {
	set, servers := protocoltest.NewSet(t, func(s *coretest.Socket, r coretest.Request) {
		if r.Event == EventListCalls {
			s.Reply(r, map[string]any{"calls": map[string]any{
				"c2": map[string]any{"loop": "l2"},
				"c1": map[string]any{"loop": "l1"},
			}})
			return
		}
		s.Reply(r, nil)
	}, "prime")
	c := New(set, protocoltest.Policy)
	ctx := protocoltest.Ctx(t)

	_, err := c.Call(ctx, "l1", "100", "200", nil)
	require.NoError(t, err)
	_, err = c.Hangup(ctx, "l1", "c1", nil)
	require.NoError(t, err)
	_, err = c.Permit(ctx, Permission{Loop: "l1", Caller: "100", Callee: "200"}, nil)
	require.NoError(t, err)
	_, err = c.Revoke(ctx, Permission{Loop: "l1", Caller: "100", Callee: "200"}, nil)
	require.NoError(t, err)

	calls, err := c.ListCalls(ctx, nil)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[0].Str("id"))
	assert.Equal(t, "l2", calls[1].Str("loop"))

	sock := servers[0].Sock()
	assert.Equal(t, map[string]any{"loop": "l1", "destination": "200", "from": "100"}, sock.SentEvents(EventCall)[0].Parameter)
	assert.Equal(t, map[string]any{"call": "c1", "loop": "l1"}, sock.SentEvents(EventHangup)[0].Parameter)
	perm := map[string]any{"loop": "l1", "caller": "100", "callee": "200"}
	assert.Equal(t, perm, sock.SentEvents(EventPermit)[0].Parameter)
	assert.Equal(t, perm, sock.SentEvents(EventRevoke)[0].Parameter)
}

func TestTransientErrorsExhaustRetries(t *testing.T) {
	set, servers := protocoltest.NewSet(t, func(s *coretest.Socket, r coretest.Request) {
		s.Fail(r, core.CodeTempMin+1, "busy", nil)
	}, "prime")
	c := New(set, protocoltest.Policy)

	_, err := c.ListCallPermissions(protocoltest.Ctx(t), servers[0].Conn)
	require.Error(t, err)
	assert.Len(t, servers[0].Sock().SentEvents(EventListCallPermissions), 6)
	assert.False(t, servers[0].Conn.IsConnecting())
}
