package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/logging"
)

var ErrRetriesExhausted = errors.New("retries on temporary error exhausted")

// Retry runs op until it succeeds. Transient server errors are retried after
// p.Delay while conn is still connecting, at most p.Retries times; anything
// else ends the operation. On final failure p.OnFatal decides whether conn is
// closed.
func Retry[T any](ctx context.Context, p Policy, conn *core.Connection, what string, op func(context.Context) (T, error)) (T, error) {
	log := logging.For("app.retry").With().Str("server", conn.Name()).Str("op", what).Logger()

	var (
		out      T
		attempts int
	)
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(max(p.Retries, 0))),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		attempts++
		v, err := op(ctx)
		if err == nil {
			out = v
			return nil
		}
		if p.retryable(conn, err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, _ time.Duration) {
		log.Info().Err(err).Int("attempt", attempts).Msgf("temp error - try to %s again after timeout", what)
	})
	if err == nil {
		return out, nil
	}

	if core.IsTemporary(err) && attempts > p.Retries {
		err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
	}
	log.Warn().Err(err).Msgf("%s failed", what)

	if p.OnFatal == ForceDisconnect && conn.IsConnecting() {
		log.Warn().Msg("pers error, disconnect and try again")
		conn.Disconnect()
	}
	var zero T
	return zero, err
}

// Send is Retry around a single SendEvent.
func Send(ctx context.Context, p Policy, conn *core.Connection, what, event string, parameter any) (core.Message, error) {
	return Retry(ctx, p, conn, what, func(ctx context.Context) (core.Message, error) {
		return conn.SendEvent(ctx, event, parameter)
	})
}

// ErrLeadNotEligible is returned by Fanout when the preferred connection was
// not among the targets.
var ErrLeadNotEligible = errors.New("lead connection not ready or not authenticated")

// Fanout starts op on every target and waits only for the one equal to
// primary. The others keep running in the background and report through
// their own logs and disconnect handling.
func Fanout[T any](ctx context.Context, targets []*core.Connection, primary *core.Connection, op func(context.Context, *core.Connection) (T, error)) (T, error) {
	var (
		zero T
		done chan struct{}
		out  T
		err  error
	)
	bg := context.WithoutCancel(ctx)
	for _, c := range targets {
		if c == primary {
			done = make(chan struct{})
			go func(c *core.Connection) {
				defer close(done)
				out, err = op(ctx, c)
			}(c)
			continue
		}
		go func(c *core.Connection) { _, _ = op(bg, c) }(c)
	}
	if done == nil {
		return zero, ErrLeadNotEligible
	}
	<-done
	return out, err
}

// Target runs op on c when c is set. Otherwise it fans out over targets and
// returns the outcome of primary.
func Target[T any](ctx context.Context, c *core.Connection, targets []*core.Connection, primary *core.Connection, op func(context.Context, *core.Connection) (T, error)) (T, error) {
	if c != nil {
		return op(ctx, c)
	}
	return Fanout(ctx, targets, primary, op)
}
