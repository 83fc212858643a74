package core

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dkeye/vocs/internal/logging"
)

type Listener func(Event)

var nextSubscriptionID atomic.Uint64

// Subscription is the handle returned by On. It keeps the event name and the
// listener together so both can be moved to another emitter as one value.
type Subscription struct {
	id    uint64
	Event string
	fn    Listener
}

// NewSubscription creates a handle that is not attached anywhere yet.
func NewSubscription(event string, fn Listener) *Subscription {
	return &Subscription{id: nextSubscriptionID.Add(1), Event: event, fn: fn}
}

// Emitter dispatches events by name, in registration order.
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]*Subscription
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]*Subscription)}
}

func (e *Emitter) On(event string, fn Listener) *Subscription {
	sub := NewSubscription(event, fn)
	e.Attach(sub)
	return sub
}

// Attach registers an existing handle. Attaching twice is a no-op.
func (e *Emitter) Attach(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attachLocked(sub)
}

// Off removes the handle and reports whether it was attached.
func (e *Emitter) Off(sub *Subscription) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detachLocked(sub)
}

func (e *Emitter) attachLocked(sub *Subscription) {
	if e.listeners == nil {
		e.listeners = make(map[string][]*Subscription)
	}
	for _, s := range e.listeners[sub.Event] {
		if s.id == sub.id {
			return
		}
	}
	e.listeners[sub.Event] = append(e.listeners[sub.Event], sub)
}

func (e *Emitter) detachLocked(sub *Subscription) bool {
	subs := e.listeners[sub.Event]
	for i, s := range subs {
		if s.id == sub.id {
			rest := make([]*Subscription, 0, len(subs)-1)
			rest = append(rest, subs[:i]...)
			rest = append(rest, subs[i+1:]...)
			if len(rest) == 0 {
				delete(e.listeners, sub.Event)
			} else {
				e.listeners[sub.Event] = rest
			}
			return true
		}
	}
	return false
}

// ListenerCount returns how many listeners are registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// Emit calls every listener of ev.Name and returns how many were called.
// A panicking listener is logged and does not stop the others.
func (e *Emitter) Emit(ev Event) int {
	e.mu.Lock()
	subs := append([]*Subscription(nil), e.listeners[ev.Name]...)
	e.mu.Unlock()

	for _, s := range subs {
		safeCall(s, ev)
	}
	return len(subs)
}

func safeCall(s *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l := logging.For("core.emitter")
			l.Error().Err(fmt.Errorf("%v", r)).Str("event", ev.Name).Bytes("stack", debug.Stack()).Msg("listener panic")
		}
	}()
	s.fn(ev)
}

// Move detaches subs from one emitter and attaches them to another with both
// emitters locked, so an event is never delivered through both or neither.
func Move(from, to *Emitter, subs []*Subscription) {
	if from == to {
		return
	}
	from.mu.Lock()
	defer from.mu.Unlock()
	to.mu.Lock()
	defer to.mu.Unlock()

	for _, s := range subs {
		from.detachLocked(s)
		to.attachLocked(s)
	}
}
