// Package coretest provides an in-memory signaling server for tests.
package coretest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/vocs/internal/core"
)

var ErrClosed = errors.New("coretest: socket closed")

// Request is an outgoing envelope as the server sees it.
type Request struct {
	Event     string         `json:"event"`
	UUID      string         `json:"uuid"`
	Client    string         `json:"client"`
	Type      string         `json:"type"`
	Parameter map[string]any `json:"parameter"`
}

// Reply describes how the server answers one request. A zero Reply answers
// with an empty response object.
type Reply struct {
	Response any
	Error    *core.ServerError
	// Drop leaves the request unanswered.
	Drop bool
}

// Script answers requests by event name. Unknown events get an empty
// response.
type Script map[string]func(Request) Reply

func (sc Script) Handle(s *Socket, req Request) {
	r := Reply{}
	if fn, ok := sc[req.Event]; ok {
		r = fn(req)
	}
	if r.Drop {
		return
	}
	if r.Error != nil {
		s.Fail(req, r.Error.Code, r.Error.Description, r.Response)
		return
	}
	s.Reply(req, r.Response)
}

type Handler func(s *Socket, req Request)

// Transport hands out fake sockets wired to Handler.
type Transport struct {
	mu      sync.Mutex
	handler Handler
	dialErr error
	gate    chan struct{}
	sockets []*Socket
}

func New(h Handler) *Transport {
	return &Transport{handler: h}
}

func (t *Transport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// FailDials makes every later Dial return err; nil restores dialing.
func (t *Transport) FailDials(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialErr = err
}

// HoldDials makes later dials wait until release is called.
func (t *Transport) HoldDials() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.gate = gate
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (t *Transport) Dial(ctx context.Context, url string) (core.Socket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	s := &Socket{
		URL:  url,
		t:    t,
		in:   make(chan core.Frame, 256),
		done: make(chan struct{}),
	}
	t.sockets = append(t.sockets, s)
	return s, nil
}

func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sockets)
}

// Last returns the most recent socket, or nil.
func (t *Transport) Last() *Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sockets) == 0 {
		return nil
	}
	return t.sockets[len(t.sockets)-1]
}

func (t *Transport) currentHandler() Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

// Socket is the client end of a fake connection.
type Socket struct {
	URL string

	t         *Transport
	in        chan core.Frame
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent []Request
}

func (s *Socket) ReadMessage() (core.Frame, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	select {
	case f := <-s.in:
		return f, nil
	case <-s.done:
		return nil, ErrClosed
	}
}

func (s *Socket) WriteMessage(f core.Frame) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	var req Request
	if err := json.Unmarshal(f, &req); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()

	if h := s.t.currentHandler(); h != nil {
		h(s, req)
	}
	return nil
}

func (s *Socket) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Drop simulates the server going away.
func (s *Socket) Drop() { _ = s.Close() }

func (s *Socket) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Push delivers a raw frame built from v.
func (s *Socket) Push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	select {
	case s.in <- data:
	case <-s.done:
	}
}

func (s *Socket) Reply(req Request, response any) {
	if response == nil {
		response = map[string]any{}
	}
	s.Push(map[string]any{
		"event":    req.Event,
		"uuid":     req.UUID,
		"client":   req.Client,
		"type":     "unicast",
		"response": response,
	})
}

func (s *Socket) Fail(req Request, code int, description string, response any) {
	frame := map[string]any{
		"event":  req.Event,
		"uuid":   req.UUID,
		"client": req.Client,
		"type":   "unicast",
		"error":  map[string]any{"code": code, "description": description},
	}
	if response != nil {
		frame["response"] = response
	}
	s.Push(frame)
}

func (s *Socket) Sent() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.sent...)
}

// SentEvents returns the requests for one event name.
func (s *Socket) SentEvents(event string) []Request {
	var out []Request
	for _, r := range s.Sent() {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

// WaitSent blocks until at least n requests were written or timeout passes.
func (s *Socket) WaitSent(n int, timeout time.Duration) []Request {
	deadline := time.Now().Add(timeout)
	for {
		sent := s.Sent()
		if len(sent) >= n || time.Now().After(deadline) {
			return sent
		}
		time.Sleep(time.Millisecond)
	}
}
