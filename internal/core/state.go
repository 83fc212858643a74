package core

// State is the per-connection auth state. It only grows on success and
// drops to StateDisconnected on any close.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateAuthorized
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}
