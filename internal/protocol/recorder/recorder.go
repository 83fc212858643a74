// Package recorder builds the loop recording requests of the admin API.
package recorder

import (
	"context"
	"time"

	"github.com/dkeye/vocs/internal/app"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/protocol"
)

const (
	EventStartRecord   = "start_record"
	EventStopRecord    = "stop_record"
	EventRecordedLoops = "get_recorded_loops"
	EventAllLoops      = "get_all_loops"
	EventRecording     = "get_recording"
)

type Client struct {
	m protocol.Module
}

func New(set *app.ConnectionSet, p app.Policy) *Client {
	return &Client{m: protocol.NewModule("recorder", set, p.WithFailure(app.ForceDisconnect))}
}

func (r *Client) StartRecording(ctx context.Context, loop string, on *core.Connection) (core.Message, error) {
	return r.m.Send(ctx, r.m.LeadOr(on), "start recording", EventStartRecord, core.Message{"loop": loop})
}

func (r *Client) StopRecording(ctx context.Context, loop string, on *core.Connection) (core.Message, error) {
	return r.m.Send(ctx, r.m.LeadOr(on), "stop recording", EventStopRecord, core.Message{"loop": loop})
}

// RecordedLoops lists the loops that are being recorded.
func (r *Client) RecordedLoops(ctx context.Context, on *core.Connection) (core.Message, error) {
	return r.m.Send(ctx, r.m.LeadOr(on), "collect recorded loops", EventRecordedLoops, nil)
}

// AllLoops lists every loop of every domain.
func (r *Client) AllLoops(ctx context.Context, on *core.Connection) (core.Message, error) {
	return r.m.Send(ctx, r.m.LeadOr(on), "collect all loops", EventAllLoops, nil)
}

// Query narrows a recording search. Zero fields are left out.
type Query struct {
	Loop  string
	User  string
	From  time.Time
	Until time.Time
}

func (q Query) parameter() core.Message {
	p := core.Message{}
	if q.Loop != "" {
		p["loop"] = q.Loop
	}
	if q.User != "" {
		p["user"] = q.User
	}
	if !q.From.IsZero() {
		p["from"] = q.From.Unix()
	}
	if !q.Until.IsZero() {
		p["to"] = q.Until.Unix()
	}
	return p
}

// Recordings searches stored recordings.
func (r *Client) Recordings(ctx context.Context, q Query, on *core.Connection) ([]core.Message, error) {
	res, err := r.m.Send(ctx, r.m.LeadOr(on), "collect recordings", EventRecording, q.parameter())
	if err != nil {
		return nil, err
	}
	return protocol.List(res["result"]), nil
}
