// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"sort"
)

const MaxUserIDLen = 128

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
)

type UserID string

// AdminLevel is derived from the catalogs the server granted to the user.
type AdminLevel int

const (
	AdminNone AdminLevel = iota
	AdminProject
	AdminDomain
)

func (l AdminLevel) String() string {
	switch l {
	case AdminDomain:
		return "domain"
	case AdminProject:
		return "project"
	default:
		return "none"
	}
}

// User is the principal bound to one signaling connection.
type User struct {
	ID       UserID         `json:"id"`
	Password string         `json:"-"`
	Name     string         `json:"name,omitempty"`
	Values   map[string]any `json:"values,omitempty"`

	Roles []Role `json:"roles,omitempty"`
	Role  RoleID `json:"role,omitempty"`

	Domain  string `json:"domain,omitempty"`
	Project string `json:"project,omitempty"`

	Domains  []Scope `json:"domains,omitempty"`
	Projects []Scope `json:"projects,omitempty"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id string) (*User, error) {
	if len(id) == 0 {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	return &User{ID: UserID(id)}, nil
}

// Reset drops everything learned from the server but keeps what a silent
// re-login needs.
func (u *User) Reset() *User {
	return &User{ID: u.ID, Password: u.Password, Role: u.Role}
}

// ParseValues copies the user record returned by a "get" request.
func (u *User) ParseValues(values map[string]any) {
	if values == nil {
		return
	}
	u.Values = make(map[string]any, len(values))
	for k, v := range values {
		u.Values[k] = v
	}
	if name, ok := values["name"].(string); ok {
		u.Name = name
	}
}

func (u *User) HasRoles() bool { return len(u.Roles) > 0 }

func (u *User) AdminLevel() AdminLevel {
	switch {
	case len(u.Domains) > 0:
		return AdminDomain
	case len(u.Projects) > 0:
		return AdminProject
	default:
		return AdminNone
	}
}

func (u *User) FindRole(id RoleID) (Role, bool) {
	for _, r := range u.Roles {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// Snapshot returns a copy safe to hand out of the connection lock.
func (u *User) Snapshot() User {
	c := *u
	c.Roles = append([]Role(nil), u.Roles...)
	c.Domains = append([]Scope(nil), u.Domains...)
	c.Projects = append([]Scope(nil), u.Projects...)
	if u.Values != nil {
		c.Values = make(map[string]any, len(u.Values))
		for k, v := range u.Values {
			c.Values[k] = v
		}
	}
	return c
}

// Scope is a domain or project the user administers.
type Scope struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// ParseScopes accepts either a list of scope objects / ids or a map keyed
// by id, which is what the server sends for admin_domains and admin_projects.
func ParseScopes(raw any) []Scope {
	var out []Scope
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if s, ok := scopeFrom("", item); ok {
				out = append(out, s)
			}
		}
	case map[string]any:
		keys := sortedKeys(v)
		for _, k := range keys {
			if s, ok := scopeFrom(k, v[k]); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func scopeFrom(key string, item any) (Scope, bool) {
	switch v := item.(type) {
	case string:
		return Scope{ID: v}, v != ""
	case map[string]any:
		s := Scope{ID: key}
		if id, ok := v["id"].(string); ok && id != "" {
			s.ID = id
		}
		s.Name, _ = v["name"].(string)
		s.Domain, _ = v["domain"].(string)
		return s, s.ID != ""
	default:
		if key != "" {
			return Scope{ID: key}, true
		}
	}
	return Scope{}, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
