package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/domain"
	"github.com/dkeye/vocs/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const DefaultReadyPollInterval = time.Second

var (
	ErrNoServers     = errors.New("no signaling servers")
	ErrNoReadyServer = errors.New("no ready signaling server")
)

// ConnectionSet owns every configured Connection. The first one is the
// prime and never changes; the lead is whichever connection currently
// drives the session. Subscriptions made through the set follow the lead.
type ConnectionSet struct {
	members []*core.Connection
	prime   *core.Connection
	poll    time.Duration
	search  singleflight.Group
	log     zerolog.Logger

	mu   sync.Mutex
	lead *core.Connection
	subs []*core.Subscription
}

func NewConnectionSet(members []*core.Connection, pollInterval time.Duration) (*ConnectionSet, error) {
	if len(members) == 0 {
		return nil, ErrNoServers
	}
	if pollInterval <= 0 {
		pollInterval = DefaultReadyPollInterval
	}
	return &ConnectionSet{
		members: append([]*core.Connection(nil), members...),
		prime:   members[0],
		lead:    members[0],
		poll:    pollInterval,
		log:     logging.For("app.connections"),
	}, nil
}

func (s *ConnectionSet) Prime() *core.Connection { return s.prime }

func (s *ConnectionSet) Lead() *core.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lead
}

func (s *ConnectionSet) IsLead(c *core.Connection) bool { return s.Lead() == c }

// List returns the members in configuration order.
func (s *ConnectionSet) List() []*core.Connection {
	return append([]*core.Connection(nil), s.members...)
}

func (s *ConnectionSet) Contains(c *core.Connection) bool {
	for _, m := range s.members {
		if m == c {
			return true
		}
	}
	return false
}

// Find returns the member with the given name.
func (s *ConnectionSet) Find(name string) (*core.Connection, bool) {
	for _, m := range s.members {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// Select returns the members accepted by keep.
func (s *ConnectionSet) Select(keep func(*core.Connection) bool) []*core.Connection {
	var out []*core.Connection
	for _, m := range s.members {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// On subscribes to an event on whichever connection is lead, now and after
// any later SwitchLead.
func (s *ConnectionSet) On(event string, fn core.Listener) *core.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.lead.On(event, fn)
	s.subs = append(s.subs, sub)
	return sub
}

func (s *ConnectionSet) Off(sub *core.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.subs {
		if x == sub {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			s.lead.Off(sub)
			return true
		}
	}
	return false
}

// SwitchLead makes c the lead and moves every subscription over in one step.
// It reports false when c already is lead or is not a member.
func (s *ConnectionSet) SwitchLead(c *core.Connection) bool {
	if c == nil || !s.Contains(c) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == s.lead {
		return false
	}
	old := s.lead
	core.Move(old.Events(), c.Events(), s.subs)
	s.lead = c
	s.log.Info().Str("from", old.Name()).Str("to", c.Name()).Int("listeners", len(s.subs)).Msg("switched lead server")
	return true
}

// FindNewReadyServer polls until a member has an open socket, and is
// authorized if requireAuthorized is set. Concurrent searches with the same
// requirement share one poll and its outcome. A shared poll that ends because
// another caller gave up is started again while ctx is live.
func (s *ConnectionSet) FindNewReadyServer(ctx context.Context, requireAuthorized bool) (*core.Connection, error) {
	key := fmt.Sprintf("ready:%t", requireAuthorized)
	for {
		ch := s.search.DoChan(key, func() (any, error) {
			return s.pollReady(ctx, requireAuthorized)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				if ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			return res.Val.(*core.Connection), nil
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNoReadyServer, ctx.Err())
		}
	}
}

func (s *ConnectionSet) pollReady(ctx context.Context, requireAuthorized bool) (*core.Connection, error) {
	t := time.NewTicker(s.poll)
	defer t.Stop()
	for {
		for _, c := range s.members {
			if c.IsReady() && (!requireAuthorized || c.Authorized()) {
				s.log.Debug().Str("server", c.Name()).Bool("authorized", requireAuthorized).Msg("found ready server")
				return c, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNoReadyServer, ctx.Err())
		case <-t.C:
		}
	}
}

// Ready returns the members with an open socket and an authenticated user.
func (s *ConnectionSet) Ready() []*core.Connection {
	return s.Select(func(c *core.Connection) bool { return c.IsReady() && c.Authenticated() })
}

// CurrentUser is the lead's user, or the prime's before the lead has one.
func (s *ConnectionSet) CurrentUser() (domain.User, bool) {
	if u, ok := s.Lead().User(); ok {
		return u, true
	}
	return s.prime.User()
}

func (s *ConnectionSet) ServerName() string {
	if n := s.Lead().Name(); n != "" {
		return n
	}
	return s.prime.Name()
}

func (s *ConnectionSet) ServerURL() string {
	if u := s.Lead().ServerURL(); u != "" {
		return u
	}
	return s.prime.ServerURL()
}
