// Package sip builds the SIP gateway requests. Without an explicit
// connection a request goes to every ready server and the prime's answer
// counts.
package sip

import (
	"context"

	"github.com/dkeye/vocs/internal/app"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/protocol"
)

const (
	EventSIP                 = "sip"
	EventCall                = "call"
	EventHangup              = "hangup"
	EventPermit              = "permit_call"
	EventRevoke              = "revoke_call"
	EventListCalls           = "list_calls"
	EventListCallPermissions = "list_call_permissions"
	EventListStatus          = "list_sip_status"
)

type Client struct {
	m protocol.Module
}

func New(set *app.ConnectionSet, p app.Policy) *Client {
	return &Client{m: protocol.NewModule("sip", set, p.WithFailure(app.ForceDisconnect))}
}

func (s *Client) each(ctx context.Context, on *core.Connection, what, event string, parameter any) (core.Message, error) {
	return protocol.Each(ctx, s.m, on, s.m.Set.Prime(), func(ctx context.Context, c *core.Connection) (core.Message, error) {
		return s.m.Send(ctx, c, what, event, parameter)
	})
}

// Status reports whether the server is connected to its SIP gateway.
func (s *Client) Status(ctx context.Context, on *core.Connection) (bool, error) {
	res, err := s.each(ctx, on, "request sip status", EventSIP, nil)
	if err != nil {
		return false, err
	}
	return res.Bool("connected"), nil
}

// Call dials destination into loop.
func (s *Client) Call(ctx context.Context, loop, from, destination string, on *core.Connection) (core.Message, error) {
	return s.each(ctx, on, "call", EventCall, core.Message{"loop": loop, "destination": destination, "from": from})
}

func (s *Client) Hangup(ctx context.Context, loop, call string, on *core.Connection) (core.Message, error) {
	return s.each(ctx, on, "hangup", EventHangup, core.Message{"call": call, "loop": loop})
}

// ListCalls returns the active calls.
func (s *Client) ListCalls(ctx context.Context, on *core.Connection) ([]core.Message, error) {
	res, err := s.each(ctx, on, "list calls", EventListCalls, nil)
	if err != nil {
		return nil, err
	}
	return protocol.List(res["calls"]), nil
}

// Permission allows caller to reach callee through loop.
type Permission struct {
	Loop   string `json:"loop"`
	Caller string `json:"caller"`
	Callee string `json:"callee"`
}

func (s *Client) Permit(ctx context.Context, p Permission, on *core.Connection) (core.Message, error) {
	return s.each(ctx, on, "permit call", EventPermit, p)
}

func (s *Client) Revoke(ctx context.Context, p Permission, on *core.Connection) (core.Message, error) {
	return s.each(ctx, on, "revoke call", EventRevoke, p)
}

func (s *Client) ListCallPermissions(ctx context.Context, on *core.Connection) (core.Message, error) {
	return s.each(ctx, on, "list call permissions", EventListCallPermissions, nil)
}

func (s *Client) ListSIPStatus(ctx context.Context, on *core.Connection) (core.Message, error) {
	return s.each(ctx, on, "list sip status", EventListStatus, nil)
}
