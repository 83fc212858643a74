package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/vocs/internal/domain"
	"github.com/dkeye/vocs/internal/logging"
	"github.com/dkeye/vocs/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultExtendSessionInterval = 30 * time.Minute
	defaultPort                  = "vocs"
)

// Options configure one Connection. A zero RequestTimeout disables the
// still-waiting timer.
type Options struct {
	Name                  string
	URL                   string
	ClientID              string
	RequestTimeout        time.Duration
	ResendOnTimeout       bool
	LogIncoming           bool
	LogOutgoing           bool
	ExtendSessionInterval time.Duration
}

type reply struct {
	msg Message
	err error
}

type pendingRequest struct {
	env   *Envelope
	reply chan reply
	timer *time.Timer
}

func (p *pendingRequest) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// Connection is one signaling connection: correlated requests over a single
// socket plus the auth state of that server.
type Connection struct {
	opts      Options
	transport Transport
	store     *session.Store
	events    *Emitter
	log       zerolog.Logger

	mu         sync.Mutex
	sock       Socket
	dialing    bool
	state      State
	user       *domain.User
	lastErr    *ServerError
	pending    map[string]*pendingRequest
	stopExtend context.CancelFunc

	// gorilla allows a single concurrent writer
	wmu sync.Mutex
}

func NewConnection(opts Options, transport Transport, store *session.Store) *Connection {
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.Name == "" {
		opts.Name = opts.URL
	}
	if opts.ExtendSessionInterval == 0 {
		opts.ExtendSessionInterval = DefaultExtendSessionInterval
	}
	c := &Connection{
		opts:      opts,
		transport: transport,
		store:     store,
		events:    NewEmitter(),
		pending:   make(map[string]*pendingRequest),
	}
	server := c.opts.Name
	if port := c.Port(); port != defaultPort && port != "" {
		server += "/" + port
	}
	c.log = logging.For("core.connection").With().Str("server", server).Logger()
	return c
}

func (c *Connection) Name() string     { return c.opts.Name }
func (c *Connection) URL() string      { return c.opts.URL }
func (c *Connection) ClientID() string { return c.opts.ClientID }

// Events exposes the emitter so subscriptions can be moved between
// connections.
func (c *Connection) Events() *Emitter { return c.events }

func (c *Connection) On(event string, fn Listener) *Subscription { return c.events.On(event, fn) }

func (c *Connection) Off(sub *Subscription) bool { return c.events.Off(sub) }

// Connect opens the socket. While a socket is open or being dialed it only
// reports the current readiness.
func (c *Connection) Connect(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.sock != nil || c.dialing {
		ready := c.sock != nil
		c.mu.Unlock()
		return ready, nil
	}
	c.dialing = true
	c.mu.Unlock()

	c.log.Info().Str("client", c.opts.ClientID).Str("url", c.opts.URL).Msg("connect to websocket")
	sock, err := c.transport.Dial(ctx, c.opts.URL)

	c.mu.Lock()
	c.dialing = false
	if err != nil {
		c.state = StateDisconnected
		c.lastErr = &ServerError{Code: CodeAbnormalClose, Description: "websocket error: " + err.Error()}
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("websocket error")
		return false, fmt.Errorf("connect %s: %w", c.opts.URL, err)
	}
	c.sock = sock
	c.state = StateConnected
	c.lastErr = nil
	c.mu.Unlock()

	c.log.Info().Msg("connected")
	go c.readPump(sock)
	c.events.Emit(Event{Name: EventConnected})
	return true, nil
}

// Disconnect closes the socket and runs the close handling synchronously.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return
	}
	c.log.Info().Msg("disconnect websocket")
	c.closed(sock, nil)
}

func (c *Connection) readPump(sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			c.closed(sock, err)
			return
		}
		c.handleFrame(data)
	}
}

// closed resets the connection after sock went away. It runs once per
// socket; later calls for the same socket are ignored.
func (c *Connection) closed(sock Socket, cause error) {
	c.mu.Lock()
	if c.sock != sock {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	c.state = StateDisconnected
	if c.user != nil {
		c.user = c.user.Reset()
	}
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	for _, p := range pending {
		p.stopTimer()
	}
	c.stopExtensionLocked()
	lastErr := c.lastErr
	c.mu.Unlock()

	_ = sock.Close()
	if cause != nil {
		c.log.Warn().Err(cause).Msg("websocket closed")
	} else {
		c.log.Warn().Msg("websocket closing, triggered by client")
	}

	for _, p := range pending {
		p.reply <- reply{err: &RequestError{Event: p.env.Event, Err: ErrDisconnected}}
	}

	ev := Event{Name: EventDisconnected}
	if lastErr != nil {
		ev.Err = lastErr
	}
	c.events.Emit(ev)
}

// SendEvent sends a request and waits for the matching reply. Only a reply,
// a disconnect or ctx ends the wait; the request timeout never does.
func (c *Connection) SendEvent(ctx context.Context, event string, parameter any) (Message, error) {
	return c.request(ctx, NewEnvelope(event, c.opts.ClientID, parameter))
}

func (c *Connection) request(ctx context.Context, env *Envelope) (Message, error) {
	p := &pendingRequest{env: env, reply: make(chan reply, 1)}

	c.mu.Lock()
	if c.sock == nil {
		c.mu.Unlock()
		return nil, &RequestError{Event: env.Event, Err: ErrNotConnected}
	}
	c.pending[env.UUID] = p
	c.armTimerLocked(p)
	c.mu.Unlock()

	if err := c.send(env); err != nil {
		c.forget(env.UUID)
		return nil, &RequestError{Event: env.Event, Err: fmt.Errorf("%w: %v", ErrNotConnected, err)}
	}

	select {
	case r := <-p.reply:
		return r.msg, r.err
	case <-ctx.Done():
		c.forget(env.UUID)
		return nil, &RequestError{Event: env.Event, Err: ctx.Err()}
	}
}

func (c *Connection) armTimerLocked(p *pendingRequest) {
	if c.opts.RequestTimeout <= 0 {
		return
	}
	id := p.env.UUID
	p.timer = time.AfterFunc(c.opts.RequestTimeout, func() { c.requestTimedOut(id) })
}

func (c *Connection) requestTimedOut(id string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	if !c.opts.ResendOnTimeout {
		if p.env.Event != EventLogout {
			c.log.Warn().Str("event", p.env.Event).Str("uuid", id).Msg("still waiting for response")
		}
		return
	}

	c.log.Warn().Str("event", p.env.Event).Str("uuid", id).Msg("still waiting for response, resending event")
	if err := c.send(p.env); err != nil {
		c.log.Error().Err(err).Str("event", p.env.Event).Msg("resend failed")
	}
	c.mu.Lock()
	if _, ok := c.pending[id]; ok {
		c.armTimerLocked(p)
	}
	c.mu.Unlock()
}

func (c *Connection) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[id]; ok {
		p.stopTimer()
		delete(c.pending, id)
	}
}

func (c *Connection) send(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Event, err)
	}

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		c.log.Error().Str("event", env.Event).Msg("websocket is not open")
		return ErrNotConnected
	}

	if c.opts.LogOutgoing {
		if label, hidden := hiddenEvents[env.Event]; hidden {
			c.log.Info().Msgf("outgoing event: %s (content hidden)", label)
		} else {
			c.log.Info().RawJSON("event", data).Msg("outgoing event")
		}
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return sock.WriteMessage(Frame(data))
}

func (c *Connection) handleFrame(data Frame) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.log.Error().Err(err).Msg("unreadable incoming event")
		return
	}

	if c.opts.LogIncoming {
		if label, hidden := hiddenEvents[in.Event]; hidden {
			c.log.Info().Msgf("incoming event: %s (content hidden)", label)
		} else {
			c.log.Info().RawJSON("event", data).Msg("incoming event")
		}
	}

	if in.Event == "" {
		c.log.Error().Msg(ErrNoEvent.Error())
		return
	}

	sender := Sender{MessageID: in.UUID, Client: in.Client, Type: in.Type}
	if in.Type.Broadcast() && present(in.Parameter) {
		var p struct {
			Client string `json:"client"`
		}
		if json.Unmarshal(in.Parameter, &p) == nil {
			sender.Client = p.Client
		}
	}

	c.mu.Lock()
	c.lastErr = in.Error
	c.mu.Unlock()

	var err error
	if in.Error != nil {
		err = in.Error
		c.log.Error().Int("code", in.Error.Code).Str("description", in.Error.Description).Str("event", in.Event).Msg("server error")
		if in.Error.IsAuth() {
			c.log.Info().Str("url", c.opts.URL).Msg("clear session")
			_ = c.store.Clear(c.opts.URL)
		}
	} else if !in.hasPayload() {
		c.log.Error().Str("event", in.Event).Msg("received no response or parameter")
		if in.Client == c.opts.ClientID {
			c.dispatch(in.Event, sender, nil, ErrFormat)
		}
		return
	}

	msg, perr := in.payload()
	if perr != nil {
		c.log.Error().Err(perr).Str("event", in.Event).Msg("unreadable payload")
		if err == nil {
			err = perr
		}
	}
	if msg != nil && in.Type != LoopBroadcast {
		msg["client"] = in.Client
	}

	if in.Client == c.opts.ClientID && !in.Type.Broadcast() {
		c.apply(&in, msg, err)
	}
	c.dispatch(in.Event, sender, msg, err)
}

// dispatch settles the matching pending request, then notifies listeners.
// Listeners get their own copy of msg; the caller owns the original.
func (c *Connection) dispatch(event string, sender Sender, msg Message, err error) {
	shared := msg.Clone()
	var rerr error
	if err != nil {
		rerr = &RequestError{Event: event, Err: err, Response: msg}
	}
	c.resolve(event, sender, msg, rerr)
	c.events.Emit(Event{Name: event, Message: shared, Sender: sender, Err: err})
}

func (c *Connection) resolve(event string, sender Sender, msg Message, err error) {
	if sender.Client != c.opts.ClientID {
		return
	}
	if sender.Type != Unicast && sender.Type != "" {
		return
	}

	c.mu.Lock()
	p, ok := c.pending[sender.MessageID]
	if !ok || p.env.Event != event {
		c.mu.Unlock()
		return
	}
	delete(c.pending, sender.MessageID)
	p.stopTimer()
	c.mu.Unlock()

	p.reply <- reply{msg: msg, err: err}
}

// apply runs the state side effects of replies addressed to this client.
func (c *Connection) apply(in *inbound, msg Message, err error) {
	switch in.Event {
	case EventLogin:
		if err != nil {
			return
		}
		token := msg.Str("session")
		if token == "" {
			token = in.Session
		}
		c.mu.Lock()
		c.state = StateAuthenticated
		var userID string
		if c.user != nil {
			userID = string(c.user.ID)
		}
		c.startExtensionLocked()
		c.mu.Unlock()
		if err := c.store.Extend(c.opts.URL, c.opts.ClientID, userID, token); err != nil {
			c.log.Error().Err(err).Msg("failed to store session")
		}

	case EventAuthorize:
		if err != nil {
			return
		}
		role := msg.Str("id")
		c.mu.Lock()
		if c.state < StateAuthenticated {
			c.mu.Unlock()
			c.log.Warn().Str("role", role).Msg("authorize reply on unauthenticated connection ignored")
			return
		}
		c.state = StateAuthorized
		if c.user != nil {
			c.user.Role = domain.RoleID(role)
		}
		c.mu.Unlock()
		if err := c.store.AttachRole(c.opts.URL, role); err != nil && !errors.Is(err, session.ErrNoSession) {
			c.log.Error().Err(err).Msg("failed to store role")
		}

	case EventLogout:
		c.mu.Lock()
		c.state = StateDisconnected
		c.stopExtensionLocked()
		c.mu.Unlock()

	case EventGet:
		if err != nil || msg.Str("type") != string(domain.ScopeUser) {
			return
		}
		scope := msg.Map("domain")
		c.mu.Lock()
		if c.user != nil {
			if result, ok := msg["result"].(map[string]any); ok {
				c.user.ParseValues(result)
			}
			if scope != nil {
				c.user.Domain = scope.Str("domain")
				c.user.Project = scope.Str("project")
			}
		}
		c.mu.Unlock()
		if d := scope.Str("domain"); d != "" {
			_ = c.store.AttachAnchor(c.opts.URL, d, scope.Str("project"), "")
		}

	case EventAdminDomains:
		c.updateUser(err, func(u *domain.User) { u.Domains = domain.ParseScopes(msg["domains"]) })
	case EventAdminProjects:
		c.updateUser(err, func(u *domain.User) { u.Projects = domain.ParseScopes(msg["projects"]) })
	case EventUserRoles:
		c.updateUser(err, func(u *domain.User) { u.Roles = domain.ParseRoles(msg["roles"]) })
	}
}

func (c *Connection) updateUser(err error, fn func(*domain.User)) {
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user != nil {
		fn(c.user)
	}
}

// Login binds a fresh user to the connection and authenticates it. password
// may be a stored session token.
func (c *Connection) Login(ctx context.Context, userID, password string) (Message, error) {
	u, err := domain.NewUser(userID)
	if err != nil {
		return nil, err
	}
	u.Password = password

	c.mu.Lock()
	c.user = u
	c.mu.Unlock()

	return c.SendEvent(ctx, EventLogin, Message{"user": userID, "password": password})
}

// Logout drops the stored session and, when there is a server to tell,
// sends a logout.
func (c *Connection) Logout(ctx context.Context) error {
	_ = c.store.Clear(c.opts.URL)
	if c.IsReady() || c.Authenticated() {
		_, err := c.SendEvent(ctx, EventLogout, nil)
		return err
	}
	return nil
}

// ExtendSession trades the stored token for a fresh one.
func (c *Connection) ExtendSession(ctx context.Context) error {
	rec, ok := c.store.Get(c.opts.URL)
	if !ok {
		c.log.Warn().Msg("session not found or expired")
		return session.ErrNoSession
	}
	userID := rec.User
	c.mu.Lock()
	if c.user != nil {
		userID = string(c.user.ID)
	}
	c.mu.Unlock()

	c.log.Info().Msg("extend session...")
	res, err := c.SendEvent(ctx, EventExtendSession, Message{"session": rec.Session, "user": userID})
	if err != nil {
		c.log.Warn().Err(err).Msg("extend session failed")
		return err
	}
	if err := c.store.Extend(c.opts.URL, c.opts.ClientID, userID, res.Str("session")); err != nil {
		return err
	}
	c.log.Info().Msg("extended session")
	return nil
}

func (c *Connection) startExtensionLocked() {
	c.stopExtensionLocked()
	interval := c.opts.ExtendSessionInterval
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopExtend = cancel
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = c.ExtendSession(ctx)
			}
		}
	}()
}

func (c *Connection) stopExtensionLocked() {
	if c.stopExtend != nil {
		c.stopExtend()
		c.stopExtend = nil
	}
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnecting reports a socket that is being dialed or open.
func (c *Connection) IsConnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock != nil || c.dialing
}

// IsReady reports an open socket.
func (c *Connection) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock != nil
}

func (c *Connection) Authenticated() bool { return c.State() >= StateAuthenticated }

func (c *Connection) Authorized() bool { return c.State() == StateAuthorized }

// User returns a copy of the bound user.
func (c *Connection) User() (domain.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return domain.User{}, false
	}
	return c.user.Snapshot(), true
}

// ServerError is the error of the last received event, if it carried one.
func (c *Connection) ServerError() *ServerError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return nil
	}
	e := *c.lastErr
	return &e
}

// TasksRunning is the number of pending requests, or -1 without a socket.
func (c *Connection) TasksRunning() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil && !c.dialing {
		return -1
	}
	return len(c.pending)
}

// ServerURL is the http origin of the signaling server.
func (c *Connection) ServerURL() string {
	u, err := url.Parse(c.opts.URL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "https"
	if u.Scheme == "ws" || u.Scheme == "http" {
		scheme = "http"
	}
	return scheme + "://" + u.Host
}

// Port is the last path segment of the websocket url.
func (c *Connection) Port() string {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	return parts[len(parts)-1]
}
