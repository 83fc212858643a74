// Package protocol holds what the request builders of the vocs, db, sip,
// recorder and monitor modules share.
package protocol

import (
	"context"
	"errors"

	"github.com/dkeye/vocs/internal/app"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/logging"
	"github.com/rs/zerolog"
)

// Module binds a request builder to the connection set and its retry policy.
type Module struct {
	Name   string
	Set    *app.ConnectionSet
	Policy app.Policy
	log    zerolog.Logger
}

func NewModule(name string, set *app.ConnectionSet, p app.Policy) Module {
	return Module{Name: name, Set: set, Policy: p, log: logging.For("protocol." + name)}
}

// Send is one retried request on c.
func (m Module) Send(ctx context.Context, c *core.Connection, what, event string, parameter any) (core.Message, error) {
	l := m.log.With().Str("server", c.Name()).Logger()
	l.Debug().Msgf("%s...", what)
	res, err := app.Send(ctx, m.Policy, c, what, event, parameter)
	if err != nil {
		return res, err
	}
	l.Debug().Msgf("%s done", what)
	return res, nil
}

// LeadOr returns c, or the lead when c is nil.
func (m Module) LeadOr(c *core.Connection) *core.Connection {
	if c != nil {
		return c
	}
	return m.Set.Lead()
}

// PrimeOr returns c, or the prime when c is nil.
func (m Module) PrimeOr(c *core.Connection) *core.Connection {
	if c != nil {
		return c
	}
	return m.Set.Prime()
}

// Each runs op on c, or on every ready member when c is nil and returns the
// outcome of primary.
func Each[T any](ctx context.Context, m Module, c, primary *core.Connection, op func(context.Context, *core.Connection) (T, error)) (T, error) {
	return app.Target(ctx, c, m.Set.Ready(), primary, op)
}

// ResponseOf is the partial response carried by a rejected request.
func ResponseOf(err error) core.Message {
	var re *core.RequestError
	if errors.As(err, &re) {
		return re.Response
	}
	return nil
}

// List flattens a payload that is either an array of objects or an object of
// objects.
func List(raw any) []core.Message {
	var out []core.Message
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, core.Message(m))
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(v) {
			m, ok := v[k].(map[string]any)
			if !ok {
				continue
			}
			msg := core.Message{"id": k}
			for key, val := range m {
				msg[key] = val
			}
			out = append(out, msg)
		}
	}
	return out
}
