package vocs

import (
	"context"
	"fmt"

	"github.com/dkeye/vocs/internal/core"
	"github.com/pion/webrtc/v4"
)

// RequestMediaConnection asks the server for an offer. A nil c means the
// lead.
func (v *Client) RequestMediaConnection(ctx context.Context, c *core.Connection) (webrtc.SessionDescription, error) {
	var offer webrtc.SessionDescription
	res, err := v.m.Send(ctx, v.m.LeadOr(c), "request media connection", EventMedia, core.Message{"type": "request"})
	if err != nil {
		return offer, err
	}
	if err := res.Decode(&offer); err != nil {
		return offer, err
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return offer, fmt.Errorf("%w: media reply of type %q", core.ErrFormat, offer.Type)
	}
	return offer, nil
}

func (v *Client) SendMediaAnswer(ctx context.Context, c *core.Connection, answer webrtc.SessionDescription) error {
	_, err := v.m.Send(ctx, v.m.LeadOr(c), "send media answer", EventMedia, core.Message{"type": "answer", "sdp": answer.SDP})
	return err
}

func (v *Client) SendICECandidate(ctx context.Context, c *core.Connection, cand webrtc.ICECandidateInit) error {
	param := core.Message{"candidate": cand.Candidate}
	if cand.SDPMid != nil {
		param["sdpMid"] = *cand.SDPMid
	}
	if cand.SDPMLineIndex != nil {
		param["sdpMLineIndex"] = *cand.SDPMLineIndex
	}
	if cand.UsernameFragment != nil {
		param["ufrag"] = *cand.UsernameFragment
	}
	_, err := v.m.Send(ctx, v.m.LeadOr(c), "send ice candidate", EventCandidate, param)
	return err
}

func (v *Client) SendEndOfICECandidates(ctx context.Context, c *core.Connection) error {
	_, err := v.m.Send(ctx, v.m.LeadOr(c), "send end of ice candidates", EventEndOfCandidates, nil)
	return err
}

// VAD is a voice activity update pushed by the server.
type VAD struct {
	Loop string `json:"loop"`
	On   bool   `json:"on"`
}

// server pushes carry no client.
func fromServer(ev core.Event) bool { return ev.Sender.Client == "" && ev.Err == nil }

// OnMediaReady fires when the lead reports the media path as established.
func (v *Client) OnMediaReady(fn func()) *core.Subscription {
	return v.m.Set.On(EventMediaReady, func(ev core.Event) {
		if fromServer(ev) {
			fn()
		}
	})
}

// OnMediaOffer fires for offers the lead pushes on its own.
func (v *Client) OnMediaOffer(fn func(webrtc.SessionDescription)) *core.Subscription {
	return v.m.Set.On(EventMedia, func(ev core.Event) {
		if !fromServer(ev) || ev.Message.Str("type") != webrtc.SDPTypeOffer.String() {
			return
		}
		var offer webrtc.SessionDescription
		if err := ev.Message.Decode(&offer); err == nil {
			fn(offer)
		}
	})
}

func (v *Client) OnVAD(fn func(VAD)) *core.Subscription {
	return v.m.Set.On(EventVAD, func(ev core.Event) {
		var vad VAD
		if ev.Err == nil && ev.Message.Decode(&vad) == nil {
			fn(vad)
		}
	})
}
