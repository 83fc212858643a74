package core

// NotifyKind is what the orchestrator reports to the operator surface.
type NotifyKind string

const (
	NotifyConnecting NotifyKind = "connecting"
	NotifyConnected  NotifyKind = "connected"
	NotifyLoading    NotifyKind = "loading"
	NotifyError      NotifyKind = "error"
)

// Notification is a single status update for the operator.
type Notification struct {
	Kind    NotifyKind
	Server  string
	Message string
	Err     error
}

// Notifier is an opaque sink; it must not block.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
