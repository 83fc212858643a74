package vocs

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/core/coretest"
	"github.com/dkeye/vocs/internal/domain"
	"github.com/dkeye/vocs/internal/protocol/protocoltest"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func events(s *coretest.Socket) []string {
	var out []string
	for _, r := range s.Sent() {
		if r.Event != core.EventLogin {
			out = append(out, r.Event)
		}
	}
	return out
}

func TestCollectLoopsReturnsLeadAnswer(t *testing.T) {
	set, servers := protocoltest.NewSet(t, func(s *coretest.Socket, r coretest.Request) {
		name := "prime"
		if strings.Contains(s.URL, "backup") {
			name = "backup"
		}
		s.Reply(r, map[string]any{"loops": map[string]any{
			name: map[string]any{"name": "Loop " + name, "state": "recv", "volume": 50},
		}})
	}, "prime", "backup")
	v := New(set, protocoltest.Policy)

	loops, err := v.CollectLoops(protocoltest.Ctx(t), nil)
	require.NoError(t, err)
	require.Len(t, loops, 1)
	assert.Equal(t, domain.Loop{ID: "prime", Name: "Loop prime", State: domain.LoopMonitor, Volume: 50}, loops[0])

	require.Eventually(t, func() bool {
		return len(servers[1].Sock().SentEvents(EventRoleLoops)) == 1
	}, time.Second, 5*time.Millisecond)

	set.SwitchLead(servers[1].Conn)
	loops, err = v.CollectLoops(protocoltest.Ctx(t), nil)
	require.NoError(t, err)
	require.Len(t, loops, 1)
	assert.EqualValues(t, "backup", loops[0].ID)
}

func TestSwitchLoopStateReleasesTalk(t *testing.T) {
	set, servers := protocoltest.NewSet(t, func(s *coretest.Socket, r coretest.Request) {
		switch r.Event {
		case EventSwitchLoopState:
			s.Reply(r, map[string]any{"loop": r.Parameter["loop"], "state": r.Parameter["state"]})
		default:
			s.Reply(r, map[string]any{"loop": r.Parameter["loop"]})
		}
	}, "prime")
	v := New(set, protocoltest.Policy)
	sock := servers[0].Sock()

	res, err := v.SwitchLoopState(protocoltest.Ctx(t), "l1", domain.LoopTalk, domain.LoopMonitor, true, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopMonitor, res.State)
	assert.True(t, res.Activity)
	assert.Equal(t, []string{EventTalking, EventSwitchLoopState}, events(sock))
	assert.Equal(t, false, sock.SentEvents(EventTalking)[0].Parameter["state"])
}

func TestSwitchLoopStateReassertsTalk(t *testing.T) {
	set, servers := protocoltest.NewSet(t, func(s *coretest.Socket, r coretest.Request) {
		s.Reply(r, map[string]any{"loop": r.Parameter["loop"], "state": r.Parameter["state"]})
	}, "prime")
	v := New(set, protocoltest.Policy)
	sock := servers[0].Sock()

	res, err := v.SwitchLoopState(protocoltest.Ctx(t), "l1", domain.LoopMonitor, domain.LoopTalk, true, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopTalk, res.State)
	assert.True(t, res.Activity)
	assert.Equal(t, true, res.Response["activity"])
	assert.Equal(t, []string{EventSwitchLoopState, EventTalking}, events(sock))
	assert.Equal(t, true, sock.SentEvents(EventTalking)[0].Parameter["state"])

	res, err = v.SwitchLoopState(protocoltest.Ctx(t), "l2", domain.LoopNone, domain.LoopTalk, false, nil)
	require.NoError(t, err)
	assert.False(t, res.Activity)
	assert.Len(t, sock.SentEvents(EventTalking), 1)
}

func TestListenersSeeServerReplyOnly(t *testing.T) {
	set, _ := protocoltest.NewSet(t, func(s *coretest.Socket, r coretest.Request) {
		switch r.Event {
		case EventUserSettings:
			s.Reply(r, map[string]any{"data": map[string]any{
				"roles": map[string]any{"r1": map[string]any{"layout": "a"}},
			}})
		default:
			s.Reply(r, map[string]any{"loop": r.Parameter["loop"], "state": r.Parameter["state"]})
		}
	}, "prime")
	v := New(set, protocoltest.Policy)

	seen := make(chan core.Message, 8)
	read := func(ev core.Event) {
		for i := 0; i < 100; i++ {
			for k, val := range ev.Message {
				_, _ = k, val
			}
			for range ev.Message.Map("data").Map("roles") {
			}
		}
		seen <- ev.Message
	}
	set.On(EventSwitchLoopState, read)
	set.On(EventUserSettings, read)

	res, err := v.SwitchLoopState(protocoltest.Ctx(t), "l1", domain.LoopMonitor, domain.LoopTalk, true, nil)
	require.NoError(t, err)
	assert.Equal(t, true, res.Response["activity"])

	_, err = v.UpdateUserRoleSettings(protocoltest.Ctx(t), core.Message{"r2": map[string]any{"layout": "b"}}, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case m := <-seen:
			assert.NotContains(t, m, "activity")
			if roles := m.Map("data").Map("roles"); roles != nil {
				assert.NotContains(t, roles, "r2")
			}
		case <-time.After(time.Second):
			t.Fatal("listener not called")
		}
	}
}

func TestFatalErrorDisconnects(t *testing.T) {
	var calls atomic.Int32
	set, servers := protocoltest.NewSet(t, func(s *coretest.Socket, r coretest.Request) {
		calls.Add(1)
		s.Fail(r, 4000, "bad loop", map[string]any{"loop": r.Parameter["loop"]})
	}, "prime")
	v := New(set, protocoltest.Policy)

	res, err := v.SwitchLoopState(protocoltest.Ctx(t), "l1", domain.LoopNone, domain.LoopMonitor, false, nil)
	require.Error(t, err)
	assert.Equal(t, 4000, core.ServerCode(err))
	assert.Equal(t, "l1", res.Response.Str("loop"))
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, servers[0].Conn.IsConnecting())
}

func TestUpdateUserRoleSettingsMerges(t *testing.T) {
	set, servers := protocoltest.NewSet(t, func(s *coretest.Socket, r coretest.Request) {
		if r.Event == EventUserSettings {
			s.Reply(r, map[string]any{"data": map[string]any{
				"theme": "dark",
				"roles": map[string]any{"r1": map[string]any{"layout": "a"}},
			}})
			return
		}
		s.Reply(r, nil)
	}, "prime")
	v := New(set, protocoltest.Policy)

	_, err := v.UpdateUserRoleSettings(protocoltest.Ctx(t), core.Message{"r2": map[string]any{"layout": "b"}}, nil)
	require.NoError(t, err)

	upd := servers[0].Sock().SentEvents(EventUpdateUserSettings)
	require.Len(t, upd, 1)
	assert.Equal(t, map[string]any{
		"theme": "dark",
		"roles": map[string]any{
			"r1": map[string]any{"layout": "a"},
			"r2": map[string]any{"layout": "b"},
		},
	}, upd[0].Parameter)
}

func TestCollectKeysetLayoutDefaults(t *testing.T) {
	set, servers := protocoltest.NewSet(t, protocoltest.Answer(map[string]any{
		"layout": map[string]any{"rows": 4.0},
	}), "prime")
	v := New(set, protocoltest.Policy)

	layout, err := v.CollectKeysetLayout(protocoltest.Ctx(t), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, layout["rows"])

	req := servers[0].Sock().SentEvents(EventKeysetLayout)
	require.Len(t, req, 1)
	assert.Equal(t, DefaultLayout, req[0].Parameter["layout"])
	assert.Contains(t, req[0].Parameter, "domain")
}

func TestMediaNegotiation(t *testing.T) {
	set, servers := protocoltest.NewSet(t, func(s *coretest.Socket, r coretest.Request) {
		if r.Event == EventMedia && r.Parameter["type"] == "request" {
			s.Reply(r, map[string]any{"type": "offer", "sdp": "v=0\r\n"})
			return
		}
		s.Reply(r, nil)
	}, "prime")
	v := New(set, protocoltest.Policy)
	ctx := protocoltest.Ctx(t)

	offer, err := v.RequestMediaConnection(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Equal(t, "v=0\r\n", offer.SDP)

	require.NoError(t, v.SendMediaAnswer(ctx, nil, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}))

	mid, idx, ufrag := "0", uint16(1), "frag"
	require.NoError(t, v.SendICECandidate(ctx, nil, webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 UDP 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx, UsernameFragment: &ufrag,
	}))
	require.NoError(t, v.SendEndOfICECandidates(ctx, nil))

	sock := servers[0].Sock()
	media := sock.SentEvents(EventMedia)
	require.Len(t, media, 2)
	assert.Equal(t, map[string]any{"type": "answer", "sdp": "v=0 answer"}, media[1].Parameter)

	cand := sock.SentEvents(EventCandidate)
	require.Len(t, cand, 1)
	assert.Equal(t, map[string]any{
		"candidate":     "candidate:1 1 UDP 1 10.0.0.1 5000 typ host",
		"sdpMid":        "0",
		"sdpMLineIndex": 1.0,
		"ufrag":         "frag",
	}, cand[0].Parameter)
	assert.Len(t, sock.SentEvents(EventEndOfCandidates), 1)
}

func TestRequestMediaConnectionRejectsNonOffer(t *testing.T) {
	set, servers := protocoltest.NewSet(t, protocoltest.Answer(map[string]any{"type": "answer", "sdp": "x"}), "prime")
	v := New(set, protocoltest.Policy)

	_, err := v.RequestMediaConnection(protocoltest.Ctx(t), nil)
	assert.ErrorIs(t, err, core.ErrFormat)
	assert.True(t, servers[0].Conn.IsReady())
}

func TestServerPushes(t *testing.T) {
	set, servers := protocoltest.NewSet(t, nil, "prime")
	v := New(set, protocoltest.Policy)

	vads := make(chan VAD, 1)
	ready := make(chan struct{}, 1)
	offers := make(chan webrtc.SessionDescription, 1)
	v.OnVAD(func(x VAD) { vads <- x })
	v.OnMediaReady(func() { ready <- struct{}{} })
	v.OnMediaOffer(func(o webrtc.SessionDescription) { offers <- o })

	sock := servers[0].Sock()
	sock.Push(map[string]any{"event": EventVAD, "parameter": map[string]any{"loop": "l1", "on": true}})
	sock.Push(map[string]any{"event": EventMediaReady, "parameter": map[string]any{}})
	sock.Push(map[string]any{"event": EventMedia, "parameter": map[string]any{"type": "offer", "sdp": "v=0"}})

	select {
	case x := <-vads:
		assert.Equal(t, VAD{Loop: "l1", On: true}, x)
	case <-time.After(time.Second):
		t.Fatal("no vad")
	}
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("no media_ready")
	}
	select {
	case o := <-offers:
		assert.Equal(t, "v=0", o.SDP)
	case <-time.After(time.Second):
		t.Fatal("no offer")
	}
}
