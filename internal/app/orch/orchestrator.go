package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/vocs/internal/app"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/logging"
	"github.com/dkeye/vocs/internal/session"
	"github.com/rs/zerolog"
)

const (
	DefaultPersErrorDelay = 5 * time.Second

	dialPollInterval = 20 * time.Millisecond
)

var (
	ErrConnectFailed     = errors.New("failed to connect to any server")
	ErrLoginFailed       = errors.New("failed to login")
	ErrIncompleteSession = errors.New("incomplete session information")
	ErrNotAuthorized     = errors.New("connection not ready or not authorized")
)

type Options struct {
	Policy app.Policy
	// BroadcastRegistration sends register after every connect.
	BroadcastRegistration bool
	// PersErrorDelay is the pause before a lost connection is dialed again.
	PersErrorDelay time.Duration
}

// Orchestrator drives authentication and recovery across the ConnectionSet.
type Orchestrator struct {
	Set      *app.ConnectionSet
	Store    *session.Store
	Notifier core.Notifier
	Policy   app.Policy

	broadcastRegistration bool
	persErrorDelay        time.Duration
	log                   zerolog.Logger

	loggingOut atomic.Bool

	mu         sync.Mutex
	recovering map[*core.Connection]bool
}

func New(set *app.ConnectionSet, store *session.Store, notifier core.Notifier, opts Options) *Orchestrator {
	if notifier == nil {
		notifier = app.NewLogNotifier()
	}
	if opts.Policy == (app.Policy{}) {
		opts.Policy = app.DefaultPolicy()
	}
	if opts.PersErrorDelay <= 0 {
		opts.PersErrorDelay = DefaultPersErrorDelay
	}
	return &Orchestrator{
		Set:                   set,
		Store:                 store,
		Notifier:              notifier,
		Policy:                opts.Policy,
		broadcastRegistration: opts.BroadcastRegistration,
		persErrorDelay:        opts.PersErrorDelay,
		log:                   logging.For("app.auth"),
		recovering:            make(map[*core.Connection]bool),
	}
}

func (o *Orchestrator) logFor(c *core.Connection) *zerolog.Logger {
	l := o.log.With().Str("server", c.Name()).Logger()
	return &l
}

func (o *Orchestrator) notify(kind core.NotifyKind, c *core.Connection, msg string, err error) {
	n := core.Notification{Kind: kind, Message: msg, Err: err}
	if c != nil {
		n.Server = c.Name()
	}
	o.Notifier.Notify(n)
}

// ConnectAll dials every member at once. The prime stays lead when it
// connects first; otherwise the first member to connect takes over. It
// returns once the lead is known or every dial has finished.
func (o *Orchestrator) ConnectAll(ctx context.Context) error {
	members := o.Set.List()
	prime := o.Set.Prime()

	type result struct {
		c  *core.Connection
		ok bool
	}
	results := make(chan result, len(members))
	for _, c := range members {
		go func(c *core.Connection) {
			results <- result{c: c, ok: o.Connect(ctx, c)}
		}(c)
	}

	resolved := false
	for range members {
		r := <-results
		switch {
		case r.c == prime:
			resolved = resolved || r.ok
		case r.ok && !resolved:
			resolved = true
			o.logFor(r.c).Info().Msg("switch server")
			o.Set.SwitchLead(r.c)
		}
		if resolved {
			return nil
		}
	}
	o.notify(core.NotifyError, nil, "no server reachable", ErrConnectFailed)
	return ErrConnectFailed
}

// Connect dials c unless it is already open or being dialed, and reports
// whether the socket is open.
func (o *Orchestrator) Connect(ctx context.Context, c *core.Connection) bool {
	if c.IsConnecting() {
		return c.IsReady()
	}
	l := o.logFor(c)
	l.Info().Msg("connect to server...")
	o.notify(core.NotifyConnecting, c, "", nil)
	ok, err := c.Connect(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("failed to connect to server")
		o.notify(core.NotifyError, c, "failed to connect to server", err)
		return false
	}
	if o.broadcastRegistration {
		go func() { _ = o.Register(context.WithoutCancel(ctx), c) }()
	}
	o.notify(core.NotifyConnected, c, "", nil)
	return ok
}

// awaitDial waits for a dial started elsewhere to settle and reports whether
// the socket is open.
func (o *Orchestrator) awaitDial(ctx context.Context, c *core.Connection) bool {
	t := time.NewTicker(dialPollInterval)
	defer t.Stop()
	for c.IsConnecting() && !c.IsReady() {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
	return c.IsReady()
}

// Register subscribes c to server broadcasts.
func (o *Orchestrator) Register(ctx context.Context, c *core.Connection) error {
	o.logFor(c).Info().Msg("register for broadcast...")
	if _, err := app.Send(ctx, o.Policy, c, "register for broadcast", core.EventRegister, nil); err != nil {
		return err
	}
	o.logFor(c).Info().Msg("registered for broadcast")
	return nil
}

// ClearSession drops the stored session of c.
func (o *Orchestrator) ClearSession(c *core.Connection) {
	if err := o.Store.Clear(c.URL()); err != nil {
		o.logFor(c).Error().Err(err).Msg("failed to clear session")
	}
}

// ClearSessions drops the stored session of every member.
func (o *Orchestrator) ClearSessions() {
	for _, c := range o.Set.List() {
		o.ClearSession(c)
	}
}

func (o *Orchestrator) HasValidSession(c *core.Connection) bool {
	_, ok := o.Store.Get(c.URL())
	return ok
}

func describe(err error) string {
	var se *core.ServerError
	if !errors.As(err, &se) {
		return "connection closed"
	}
	return fmt.Sprintf("%s (%d)", se.Description, se.Code)
}
