// Package db builds the configuration database requests. They go to the
// prime server unless a connection is given, and a failure is only
// reported.
package db

import (
	"context"
	"fmt"

	"github.com/dkeye/vocs/internal/app"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/domain"
	"github.com/dkeye/vocs/internal/protocol"
)

const (
	EventCreate          = "create"
	EventUpdate          = "update"
	EventDelete          = "delete"
	EventCheckID         = "check_id_exists"
	EventLDAPImport      = core.EventLDAPImport
	EventUpdatePassword  = core.EventUpdatePassword
	EventSetKeysetLayout = "set_keyset_layout"
	EventPersist         = "save"
)

// ScopeAll checks an id against every scope.
const ScopeAll domain.RequestScope = "all"

type Client struct {
	m protocol.Module
}

func New(set *app.ConnectionSet, p app.Policy) *Client {
	return &Client{m: protocol.NewModule("db", set, p.WithFailure(app.ReportFailure))}
}

// Domains loads the domains the user administers into the connection's user.
func (d *Client) Domains(ctx context.Context, on *core.Connection) ([]domain.Scope, error) {
	c := d.m.PrimeOr(on)
	if _, err := d.m.Send(ctx, c, "collect domains with admin rights", core.EventAdminDomains, nil); err != nil {
		return nil, err
	}
	u, _ := c.User()
	return u.Domains, nil
}

// Projects loads the projects the user administers into the connection's
// user.
func (d *Client) Projects(ctx context.Context, on *core.Connection) ([]domain.Scope, error) {
	c := d.m.PrimeOr(on)
	if _, err := d.m.Send(ctx, c, "collect projects with admin rights", core.EventAdminProjects, nil); err != nil {
		return nil, err
	}
	u, _ := c.User()
	return u.Projects, nil
}

// GetConfig fetches one configuration object. Domain configs come back
// unwrapped.
func (d *Client) GetConfig(ctx context.Context, scope domain.RequestScope, id string, on *core.Connection) (core.Message, error) {
	res, err := d.m.Send(ctx, d.m.PrimeOr(on), fmt.Sprintf("collect %s %s config", scope, id), core.EventGet,
		core.Message{"type": string(scope), "id": id})
	if err != nil {
		return nil, err
	}
	if scope == domain.ScopeDomain {
		return res.Map("result"), nil
	}
	return res, nil
}

// CheckID reports whether id is taken within scope. An empty scope means
// ScopeAll.
func (d *Client) CheckID(ctx context.Context, id string, scope domain.RequestScope, on *core.Connection) (bool, error) {
	param := core.Message{"id": id}
	if scope != "" && scope != ScopeAll {
		param["scope"] = string(scope)
	}
	res, err := d.m.Send(ctx, d.m.PrimeOr(on), "check id", EventCheckID, param)
	if err != nil {
		return false, err
	}
	return res.Bool("result"), nil
}

// Verify submits config for validation. The server answers with the same
// event an update uses.
func (d *Client) Verify(ctx context.Context, scope domain.RequestScope, config core.Message, on *core.Connection) (core.Message, error) {
	return d.update(ctx, "verify "+string(scope)+" config", scope, config, on)
}

func (d *Client) Update(ctx context.Context, scope domain.RequestScope, config core.Message, on *core.Connection) (core.Message, error) {
	return d.update(ctx, "update "+string(scope)+" config", scope, config, on)
}

func (d *Client) update(ctx context.Context, what string, scope domain.RequestScope, config core.Message, on *core.Connection) (core.Message, error) {
	param := core.Message{"type": string(scope), "id": config["id"], "data": config}
	return d.m.Send(ctx, d.m.PrimeOr(on), what, EventUpdate, param)
}

// Create adds an object of kind scope below the parent object.
func (d *Client) Create(ctx context.Context, scope domain.RequestScope, id string, parent domain.RequestScope, parentID string, on *core.Connection) error {
	param := core.Message{
		"type":  string(scope),
		"id":    id,
		"scope": core.Message{"type": string(parent), "id": parentID},
	}
	_, err := d.m.Send(ctx, d.m.PrimeOr(on), "create "+string(scope)+" "+id, EventCreate, param)
	return err
}

func (d *Client) UpdatePassword(ctx context.Context, user, password string, on *core.Connection) (core.Message, error) {
	return d.m.Send(ctx, d.m.PrimeOr(on), "update password", EventUpdatePassword,
		core.Message{"password": password, "user": user})
}

// Delete removes a domain, project, user, role or loop.
func (d *Client) Delete(ctx context.Context, scope domain.RequestScope, id string, on *core.Connection) (core.Message, error) {
	switch scope {
	case domain.ScopeDomain, domain.ScopeProject, domain.ScopeUser, domain.ScopeRole, domain.ScopeLoop:
	default:
		return nil, fmt.Errorf("%w: delete %q", core.ErrUnsupported, scope)
	}
	return d.m.Send(ctx, d.m.PrimeOr(on), "delete "+string(scope)+" "+id, EventDelete,
		core.Message{"type": string(scope), "id": id})
}

// LDAPImport is the directory to import users from.
type LDAPImport struct {
	Host     string `json:"host"`
	Base     string `json:"base"`
	Domain   string `json:"domain"`
	User     string `json:"user"`
	Password string `json:"password"`
}

func (d *Client) LDAPImport(ctx context.Context, in LDAPImport, on *core.Connection) (core.Message, error) {
	return d.m.Send(ctx, d.m.PrimeOr(on), "import users from ldap", EventLDAPImport, in)
}

func (d *Client) SetKeysetLayout(ctx context.Context, name, domainID string, layout core.Message, on *core.Connection) (core.Message, error) {
	return d.m.Send(ctx, d.m.PrimeOr(on), "save keyset layout", EventSetKeysetLayout,
		core.Message{"name": name, "layout": layout, "domain": domainID})
}

// Persist asks the server to write its configuration to disk.
func (d *Client) Persist(ctx context.Context, on *core.Connection) (core.Message, error) {
	return d.m.Send(ctx, d.m.PrimeOr(on), "persist", EventPersist, nil)
}
