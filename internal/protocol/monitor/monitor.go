// Package monitor builds the server state queries of the admin API.
package monitor

import (
	"context"

	"github.com/dkeye/vocs/internal/app"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/protocol"
)

const (
	EventMixerCount       = "state_mixer"
	EventMixerState       = "get_mixer_state"
	EventConnectionsState = "state_connections"
	EventSessionState     = "state_session"
)

type Client struct {
	m protocol.Module
}

func New(set *app.ConnectionSet, p app.Policy) *Client {
	return &Client{m: protocol.NewModule("monitor", set, p.WithFailure(app.ForceDisconnect))}
}

// MixerCount reports the mixers known to the server.
func (m *Client) MixerCount(ctx context.Context, on *core.Connection) (core.Message, error) {
	res, err := m.m.Send(ctx, m.m.LeadOr(on), "collect mixer state", EventMixerCount, nil)
	if err != nil {
		return nil, err
	}
	return res.Map("mixer"), nil
}

// MixerState asks for the mixer of user's session.
func (m *Client) MixerState(ctx context.Context, user string, on *core.Connection) (core.Message, error) {
	return m.m.Send(ctx, m.m.LeadOr(on), "collect mixer state of "+user, EventMixerState, core.Message{"user": user})
}

func (m *Client) ConnectionState(ctx context.Context, on *core.Connection) (core.Message, error) {
	res, err := m.m.Send(ctx, m.m.LeadOr(on), "collect connection state", EventConnectionsState, nil)
	if err != nil {
		return nil, err
	}
	return res.Map("connections"), nil
}

func (m *Client) SessionState(ctx context.Context, on *core.Connection) (core.Message, error) {
	return m.m.Send(ctx, m.m.LeadOr(on), "collect session state", EventSessionState, nil)
}
