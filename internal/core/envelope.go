package core

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type MessageType string

const (
	Unicast       MessageType = "unicast"
	LoopBroadcast MessageType = "loop_broadcast"
	UserBroadcast MessageType = "user_broadcast"
)

func (t MessageType) Broadcast() bool { return t == LoopBroadcast || t == UserBroadcast }

// Core event names.
const (
	EventRegister      = "register"
	EventLogin         = "login"
	EventExtendSession = "update_login"
	EventAuthorize     = "authorize"
	EventLogout        = "logout"
	EventGet           = "get"
	EventUserRoles     = "user_roles"
	EventAdminDomains  = "admin_domains"
	EventAdminProjects = "admin_projects"
	EventBroadcast     = "broadcast"

	EventLDAPImport     = "ldap_import"
	EventUpdatePassword = "update_password"
)

// Local notifications, never sent on the wire.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Events whose payload carries credentials.
var hiddenEvents = map[string]string{
	EventLogin:          "LOGIN",
	EventLDAPImport:     "LDAP IMPORT",
	EventUpdatePassword: "UPDATE PASSWORD",
}

// Envelope is the outgoing frame.
type Envelope struct {
	Event     string      `json:"event"`
	UUID      string      `json:"uuid"`
	Client    string      `json:"client"`
	Type      MessageType `json:"type"`
	Parameter any         `json:"parameter"`
}

// NewEnvelope frames a request with a fresh correlation id. A nil parameter
// is sent as an empty object.
func NewEnvelope(event, client string, parameter any) *Envelope {
	if parameter == nil {
		parameter = Message{}
	}
	return &Envelope{
		Event:     event,
		UUID:      uuid.NewString(),
		Client:    client,
		Type:      Unicast,
		Parameter: parameter,
	}
}

// inbound is the incoming frame before it is split into message and error.
type inbound struct {
	Event     string          `json:"event"`
	UUID      string          `json:"uuid"`
	Client    string          `json:"client"`
	Type      MessageType     `json:"type"`
	Session   string          `json:"session"`
	Parameter json.RawMessage `json:"parameter"`
	Response  json.RawMessage `json:"response"`
	Error     *ServerError    `json:"error"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func (in *inbound) hasPayload() bool { return present(in.Response) || present(in.Parameter) }

// payload decodes response, or parameter when there is no response.
func (in *inbound) payload() (Message, error) {
	raw := in.Response
	if !present(raw) {
		raw = in.Parameter
	}
	if !present(raw) {
		return nil, nil
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return m, nil
}

// Message is a decoded response or parameter object.
type Message map[string]any

func (m Message) Str(key string) string {
	s, _ := m[key].(string)
	return s
}

func (m Message) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

func (m Message) Int(key string) int {
	f, _ := m[key].(float64)
	return int(f)
}

func (m Message) Map(key string) Message {
	v, _ := m[key].(map[string]any)
	return Message(v)
}

// Clone returns a deep copy, so the copy can be changed without touching m.
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Message(t).Clone())
	case Message:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Decode converts the message into a typed value.
func (m Message) Decode(v any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return nil
}

// Sender identifies where an inbound event came from.
type Sender struct {
	MessageID string
	Client    string
	Type      MessageType
}

// Event is what listeners receive.
type Event struct {
	Name    string
	Message Message
	Sender  Sender
	Err     error
}
