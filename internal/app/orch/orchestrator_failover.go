package orch

import (
	"context"
	"time"

	"github.com/dkeye/vocs/internal/core"
)

// Watch recovers every member after it disconnects until ctx is done or the
// returned stop is called.
func (o *Orchestrator) Watch(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	members := o.Set.List()
	subs := make([]*core.Subscription, 0, len(members))
	for _, c := range members {
		subs = append(subs, c.On(core.EventDisconnected, func(ev core.Event) {
			go o.reestablish(ctx, c, ev.Err)
		}))
	}
	return func() {
		cancel()
		for i, c := range members {
			c.Off(subs[i])
		}
	}
}

// Resume re-establishes the lead from its stored session, then the other
// members in the background.
func (o *Orchestrator) Resume(ctx context.Context) error {
	lead := o.Set.Lead()
	bg := context.WithoutCancel(ctx)
	for _, c := range o.Set.List() {
		if c == lead {
			continue
		}
		go func(c *core.Connection) {
			switch {
			case c.IsReady():
			case !c.IsConnecting() && o.Connect(bg, c):
			default:
				c.Disconnect()
				return
			}
			_ = o.Establish(bg, c)
		}(c)
	}
	return o.Establish(ctx, lead)
}

// Establish brings c back to an authorized state from the stored session.
// On failure c is disconnected, which starts the next recovery round.
func (o *Orchestrator) Establish(ctx context.Context, c *core.Connection) error {
	l := o.logFor(c)
	if !c.Authenticated() || !c.Authorized() {
		err := o.Relogin(ctx, c)
		if err == nil && (!c.Authenticated() || !c.Authorized()) {
			l.Error().Msg("incomplete session information, clear session")
			o.ClearSession(c)
			err = ErrIncompleteSession
		}
		if err != nil {
			c.Disconnect()
			return err
		}
	}
	if u, _ := c.User(); !u.HasRoles() {
		if err := o.CollectRolesOn(ctx, c); err != nil {
			c.Disconnect()
			return err
		}
	}
	if !c.IsReady() || !c.Authorized() {
		c.Disconnect()
		return ErrNotAuthorized
	}
	return nil
}

func (o *Orchestrator) beginRecovery(c *core.Connection) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.recovering[c] {
		return false
	}
	o.recovering[c] = true
	return true
}

func (o *Orchestrator) endRecovery(c *core.Connection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.recovering, c)
}

// Recovering reports whether c is being brought back.
func (o *Orchestrator) Recovering(c *core.Connection) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recovering[c]
}

// reestablish runs after c lost its socket. A lost lead hands over to the first
// authorized member. c itself is dialed again every PersErrorDelay until it
// is authorized again, the operator logged out, or no member holds a
// session any more.
func (o *Orchestrator) reestablish(ctx context.Context, c *core.Connection, cause error) {
	if o.loggingOut.Load() || !o.beginRecovery(c) {
		return
	}
	defer o.endRecovery(c)
	l := o.logFor(c)

	if o.Set.IsLead(c) {
		o.notify(core.NotifyLoading, c, "connection lost: "+describe(cause), nil)
		go o.failover(ctx, c)
	}

	for {
		if o.loggingOut.Load() {
			return
		}
		if !o.anyoneAlive() {
			l.Error().Msg("no authorized connection and no stored session left")
			o.notify(core.NotifyError, c, "session lost, login required", ErrNotAuthorized)
			return
		}
		if !core.IsAuthError(cause) {
			if !sleep(ctx, o.persErrorDelay) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		if o.Connect(ctx, c) {
			if err := o.Establish(ctx, c); err == nil {
				l.Info().Msg("connection recovered")
				o.notify(core.NotifyConnected, c, "recovered", nil)
				return
			}
			l.Warn().Msg("pers error, disconnect and try again")
		} else {
			c.Disconnect()
		}
		cause = lastError(c)
	}
}

// failover moves the lead to the first authorized member.
func (o *Orchestrator) failover(ctx context.Context, lost *core.Connection) {
	next, err := o.Set.FindNewReadyServer(ctx, true)
	if err != nil {
		o.log.Warn().Err(err).Str("lost", lost.Name()).Msg("no server to take over")
		return
	}
	if o.Set.SwitchLead(next) {
		o.notify(core.NotifyConnected, next, "switched lead server", nil)
	}
}

func lastError(c *core.Connection) error {
	if se := c.ServerError(); se != nil {
		return se
	}
	return nil
}

func (o *Orchestrator) anyoneAlive() bool {
	for _, c := range o.Set.List() {
		if c.Authorized() || o.HasValidSession(c) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
