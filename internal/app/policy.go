package app

import (
	"time"

	"github.com/dkeye/vocs/internal/core"
)

const (
	DefaultRetries        = 5
	DefaultTempErrorDelay = time.Second
)

// FailureAction is what a protocol module does with its connection once a
// request failed for good.
type FailureAction int

const (
	ReportFailure FailureAction = iota
	// ForceDisconnect closes the connection so reconnect and lead
	// failover take over.
	ForceDisconnect
)

// Policy is the retry contract shared by every request builder.
type Policy struct {
	Retries int
	Delay   time.Duration
	OnFatal FailureAction
}

func DefaultPolicy() Policy {
	return Policy{Retries: DefaultRetries, Delay: DefaultTempErrorDelay}
}

// WithFailure returns a copy of p with a different fatal action.
func (p Policy) WithFailure(a FailureAction) Policy {
	p.OnFatal = a
	return p
}

// retryable reports whether another attempt is allowed after err.
func (p Policy) retryable(conn *core.Connection, err error) bool {
	return core.IsTemporary(err) && conn.IsConnecting()
}
