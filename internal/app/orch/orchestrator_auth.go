package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/vocs/internal/app"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/domain"
	"github.com/dkeye/vocs/internal/session"
	"golang.org/x/sync/errgroup"
)

// Login authenticates the lead and, once that worked, every other member in
// the background. Failures on the others are left to disconnect handling.
func (o *Orchestrator) Login(ctx context.Context, user, password string) error {
	o.loggingOut.Store(false)
	lead := o.Set.Lead()
	o.notify(core.NotifyLoading, lead, "login", nil)
	if err := o.LoginTo(ctx, lead, user, password); err != nil {
		o.notify(core.NotifyError, lead, "login failed", err)
		return err
	}
	bg := context.WithoutCancel(ctx)
	for _, c := range o.Set.List() {
		if c != lead {
			go func(c *core.Connection) { _ = o.LoginTo(bg, c, user, password) }(c)
		}
	}
	return nil
}

// LoginTo connects c if needed, logs in unless it already is authenticated
// and fetches the user record.
func (o *Orchestrator) LoginTo(ctx context.Context, c *core.Connection, user, password string) error {
	l := o.logFor(c)
	if !o.Connect(ctx, c) && !o.awaitDial(ctx, c) {
		return fmt.Errorf("%s: %w", c.Name(), ErrConnectFailed)
	}

	var err error
	if !c.Authenticated() {
		l.Info().Msg("logging in...")
		_, err = app.Retry(ctx, o.Policy, c, "login", func(ctx context.Context) (core.Message, error) {
			return c.Login(ctx, user, password)
		})
	}
	if !c.Authenticated() {
		l.Warn().Err(err).Msg("failed to login")
		if err == nil {
			err = ErrLoginFailed
		}
		return fmt.Errorf("%s: %w", c.Name(), err)
	}
	l.Info().Str("user", user).Msg("authenticated")

	l.Info().Msg("collecting user information...")
	param := core.Message{"type": string(domain.ScopeUser), "id": user}
	if _, err := app.Send(ctx, o.Policy, c, "collect user information", core.EventGet, param); err != nil {
		return err
	}
	l.Info().Str("user", user).Msg("received user information")
	return nil
}

// Relogin logs c in again from its stored session and restores the stored
// role. A nil c means the lead.
func (o *Orchestrator) Relogin(ctx context.Context, c *core.Connection) error {
	if c == nil {
		c = o.Set.Lead()
	}
	rec, ok := o.Store.Get(c.URL())
	if !ok {
		o.logFor(c).Error().Msg("session timed out or is undefined, login again manually")
		return session.ErrNoSession
	}
	if rec.User == "" || rec.Session == "" {
		return ErrIncompleteSession
	}
	if err := o.LoginTo(ctx, c, rec.User, rec.Session); err != nil {
		return err
	}
	if rec.Role == "" {
		return nil
	}
	if u, _ := c.User(); !u.HasRoles() {
		if err := o.CollectRolesOn(ctx, c); err != nil {
			o.logFor(c).Warn().Err(err).Msg("relogin without role list")
		}
	}
	return o.AuthorizeRoleOn(ctx, c, domain.RoleID(rec.Role))
}

// CollectRoles fetches the role list on every connected, authenticated
// member and returns the lead's outcome.
func (o *Orchestrator) CollectRoles(ctx context.Context) error {
	_, err := app.Fanout(ctx, o.authenticated(), o.Set.Lead(), func(ctx context.Context, c *core.Connection) (struct{}, error) {
		return struct{}{}, o.CollectRolesOn(ctx, c)
	})
	return err
}

func (o *Orchestrator) CollectRolesOn(ctx context.Context, c *core.Connection) error {
	l := o.logFor(c)
	l.Info().Msg("collecting user roles...")
	if _, err := app.Send(ctx, o.Policy, c, "collect user roles", core.EventUserRoles, nil); err != nil {
		return err
	}
	u, _ := c.User()
	l.Info().Int("count", len(u.Roles)).Msg("received roles")
	return nil
}

// AuthorizeRole authorizes role on every connected, authenticated member and
// returns the lead's outcome.
func (o *Orchestrator) AuthorizeRole(ctx context.Context, role domain.RoleID) error {
	_, err := app.Fanout(ctx, o.authenticated(), o.Set.Lead(), func(ctx context.Context, c *core.Connection) (struct{}, error) {
		return struct{}{}, o.AuthorizeRoleOn(ctx, c, role)
	})
	return err
}

func (o *Orchestrator) AuthorizeRoleOn(ctx context.Context, c *core.Connection, role domain.RoleID) error {
	l := o.logFor(c)
	l.Info().Str("role", string(role)).Msg("authorize role...")
	if _, err := app.Send(ctx, o.Policy, c, "authorize role", core.EventAuthorize, core.Message{"role": string(role)}); err != nil {
		return err
	}
	l.Info().Str("role", string(role)).Msg("role authorized")
	return nil
}

func (o *Orchestrator) authenticated() []*core.Connection {
	return o.Set.Select(func(c *core.Connection) bool {
		return c.IsConnecting() && c.Authenticated()
	})
}

// Logout logs out of every member and always succeeds. Recovery is
// suspended until the next Login.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.loggingOut.Store(true)
	var g errgroup.Group
	for _, c := range o.Set.List() {
		g.Go(func() error {
			o.LogoutFrom(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (o *Orchestrator) LogoutFrom(ctx context.Context, c *core.Connection) {
	if err := c.Logout(ctx); err != nil && !errors.Is(err, core.ErrDisconnected) {
		o.logFor(c).Error().Err(err).Msg("logout failed")
	}
}
