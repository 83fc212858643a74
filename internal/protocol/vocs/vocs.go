// Package vocs builds the loop, settings and media signaling requests.
// Without an explicit connection a request goes to every ready server and
// the lead's answer counts. A request that fails for good closes its
// connection so recovery can take over.
package vocs

import (
	"context"
	"maps"

	"github.com/dkeye/vocs/internal/app"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/domain"
	"github.com/dkeye/vocs/internal/protocol"
)

const (
	EventKeysetLayout       = "get_keyset_layout"
	EventUpdateUserSettings = "set_user_data"
	EventUserSettings       = "get_user_data"

	EventMedia           = "media"
	EventCandidate       = "candidate"
	EventEndOfCandidates = "end_of_candidates"
	EventMediaReady      = "media_ready"

	EventRoleLoops        = "role_loops"
	EventSwitchLoopState  = "switch_loop_state"
	EventSwitchLoopVolume = "switch_loop_volume"
	EventTalking          = "talking"
	EventVAD              = "vad"
)

const DefaultLayout = "default"

type Client struct {
	m protocol.Module
}

func New(set *app.ConnectionSet, p app.Policy) *Client {
	return &Client{m: protocol.NewModule("vocs", set, p.WithFailure(app.ForceDisconnect))}
}

func (v *Client) each(ctx context.Context, on *core.Connection, op func(context.Context, *core.Connection) (core.Message, error)) (core.Message, error) {
	return protocol.Each(ctx, v.m, on, v.m.Set.Lead(), op)
}

// CollectKeysetLayout fetches a named keyset layout of the user's domain.
func (v *Client) CollectKeysetLayout(ctx context.Context, layout string, on *core.Connection) (core.Message, error) {
	if layout == "" {
		layout = DefaultLayout
	}
	return v.each(ctx, on, func(ctx context.Context, c *core.Connection) (core.Message, error) {
		u, _ := c.User()
		res, err := v.m.Send(ctx, c, "collect keyset layout", EventKeysetLayout, core.Message{"domain": u.Domain, "layout": layout})
		if err != nil {
			return nil, err
		}
		return res.Map("layout"), nil
	})
}

func (v *Client) CollectUserSettings(ctx context.Context, on *core.Connection) (core.Message, error) {
	return v.each(ctx, on, v.collectUserSettings)
}

func (v *Client) collectUserSettings(ctx context.Context, c *core.Connection) (core.Message, error) {
	res, err := v.m.Send(ctx, c, "collect user settings", EventUserSettings, nil)
	if err != nil {
		return nil, err
	}
	return res.Map("data"), nil
}

func (v *Client) UpdateUserSettings(ctx context.Context, settings core.Message, on *core.Connection) (core.Message, error) {
	return v.each(ctx, on, func(ctx context.Context, c *core.Connection) (core.Message, error) {
		return v.m.Send(ctx, c, "update user settings", EventUpdateUserSettings, settings)
	})
}

// UpdateUserRoleSettings merges roleSettings into the stored settings' roles
// and writes the result back.
func (v *Client) UpdateUserRoleSettings(ctx context.Context, roleSettings core.Message, on *core.Connection) (core.Message, error) {
	settings, err := v.collectUserSettings(ctx, v.m.LeadOr(on))
	if err != nil {
		return nil, err
	}
	settings = settings.Clone()
	if settings == nil {
		settings = core.Message{}
	}
	roles := settings.Map("roles")
	if roles == nil {
		roles = core.Message{}
	}
	maps.Copy(roles, roleSettings)
	settings["roles"] = map[string]any(roles)
	return v.UpdateUserSettings(ctx, settings, on)
}

// CollectLoops lists the loops of the authorized role.
func (v *Client) CollectLoops(ctx context.Context, on *core.Connection) ([]domain.Loop, error) {
	return protocol.Each(ctx, v.m, on, v.m.Set.Lead(), func(ctx context.Context, c *core.Connection) ([]domain.Loop, error) {
		res, err := v.m.Send(ctx, c, "collect role loops", EventRoleLoops, nil)
		if err != nil {
			return nil, err
		}
		return domain.ParseLoops(res["loops"]), nil
	})
}

// LoopSwitch is the outcome of SwitchLoopState.
type LoopSwitch struct {
	Loop  domain.LoopID
	State domain.LoopState
	// Activity is set when talking was signaled again after the switch.
	Activity bool
	Response core.Message
}

// SwitchLoopState moves loop from one state to another. With audio activity
// on, push to talk is released before leaving talk and taken again once the
// server confirms talk.
func (v *Client) SwitchLoopState(ctx context.Context, loop domain.LoopID, from, to domain.LoopState, audioActivity bool, on *core.Connection) (LoopSwitch, error) {
	return protocol.Each(ctx, v.m, on, v.m.Set.Lead(), func(ctx context.Context, c *core.Connection) (LoopSwitch, error) {
		activity := false
		if audioActivity && from == domain.LoopTalk {
			_, err := v.talk(ctx, c, loop, false)
			activity = err == nil
		}

		res, err := v.m.Send(ctx, c, "switch loop state", EventSwitchLoopState, core.Message{"loop": string(loop), "state": string(to)})
		if err != nil {
			return LoopSwitch{Loop: loop, Response: protocol.ResponseOf(err)}, err
		}
		res = maps.Clone(res)
		if res == nil {
			res = core.Message{}
		}
		out := LoopSwitch{Loop: domain.LoopID(res.Str("loop")), Response: res}
		if out.Loop == "" {
			out.Loop = loop
		}
		if st, err := domain.ParseLoopState(res.Str("state")); err == nil {
			out.State = st
		}

		if audioActivity && out.State == domain.LoopTalk {
			_, err := v.talk(ctx, c, loop, true)
			activity = err == nil
		}
		out.Activity = activity
		res["activity"] = activity
		return out, nil
	})
}

func (v *Client) SwitchLoopVolume(ctx context.Context, loop domain.LoopID, volume int, on *core.Connection) (core.Message, error) {
	return v.each(ctx, on, func(ctx context.Context, c *core.Connection) (core.Message, error) {
		return v.m.Send(ctx, c, "switch loop volume", EventSwitchLoopVolume, core.Message{"loop": string(loop), "volume": volume})
	})
}

// TalkInLoop signals push to talk on or off.
func (v *Client) TalkInLoop(ctx context.Context, loop domain.LoopID, ptt bool, on *core.Connection) (core.Message, error) {
	return v.each(ctx, on, func(ctx context.Context, c *core.Connection) (core.Message, error) {
		return v.talk(ctx, c, loop, ptt)
	})
}

func (v *Client) talk(ctx context.Context, c *core.Connection, loop domain.LoopID, ptt bool) (core.Message, error) {
	return v.m.Send(ctx, c, "signal talking in loop", EventTalking, core.Message{"loop": string(loop), "state": ptt})
}
