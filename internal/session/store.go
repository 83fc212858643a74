// Package session keeps per-server login sessions in a key-value storage with
// a sliding expiry.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/vocs/internal/logging"
	"github.com/rs/zerolog"
)

const DefaultTTL = 50 * time.Minute

var ErrNoSession = errors.New("no session stored")

// Storage is the durable key-value primitive sessions live in.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Record is one stored session. Expiration is in epoch milliseconds.
type Record struct {
	User       string `json:"user"`
	Session    string `json:"session"`
	Client     string `json:"client"`
	Expiration int64  `json:"expiration"`
	Role       string `json:"role,omitempty"`
	Domain     string `json:"domain,omitempty"`
	Project    string `json:"project,omitempty"`
	Page       string `json:"page,omitempty"`
}

// ExpiresAt converts Expiration to a time.
func (r Record) ExpiresAt() time.Time { return time.UnixMilli(r.Expiration) }

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is safe for concurrent use as long as the Storage is.
type Store struct {
	app     string
	storage Storage
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

func NewStore(app string, storage Storage, opts ...Option) *Store {
	s := &Store{
		app:     app,
		storage: storage,
		ttl:     DefaultTTL,
		now:     time.Now,
		log:     logging.For("session.store"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) key(url string) string { return s.app + "_" + url }

func (s *Store) expiration() int64 { return s.now().Add(s.ttl).UnixMilli() }

// Set overwrites the record for url and starts a fresh TTL.
func (s *Store) Set(url string, rec Record) error {
	rec.Expiration = s.expiration()
	return s.write(url, rec)
}

// Get returns the record for url. An expired record is deleted and reported
// as absent.
func (s *Store) Get(url string) (Record, bool) {
	rec, ok := s.read(url)
	if !ok {
		return Record{}, false
	}
	if s.now().UnixMilli() >= rec.Expiration {
		s.log.Info().Str("url", url).Msg("session expired")
		_ = s.Clear(url)
		return Record{}, false
	}
	return rec, true
}

// Extend replaces the token and restarts the TTL, creating the record when
// it is missing. Role and anchor fields survive.
func (s *Store) Extend(url, client, user, token string) error {
	rec, _ := s.Get(url)
	rec.Client = client
	rec.User = user
	rec.Session = token
	rec.Expiration = s.expiration()
	return s.write(url, rec)
}

// AttachRole stores the last authorized role without touching the expiry.
func (s *Store) AttachRole(url, role string) error {
	rec, ok := s.Get(url)
	if !ok {
		return ErrNoSession
	}
	rec.Role = role
	return s.write(url, rec)
}

// AttachAnchor stores domain, project and page; empty values keep what is
// already there.
func (s *Store) AttachAnchor(url, domain, project, page string) error {
	rec, ok := s.Get(url)
	if !ok {
		return ErrNoSession
	}
	if domain != "" {
		rec.Domain = domain
	}
	if project != "" {
		rec.Project = project
	}
	if page != "" {
		rec.Page = page
	}
	return s.write(url, rec)
}

func (s *Store) Clear(url string) error {
	if err := s.storage.Delete(s.key(url)); err != nil {
		s.log.Error().Err(err).Str("url", url).Msg("failed to clear session")
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *Store) read(url string) (Record, bool) {
	raw, ok, err := s.storage.Get(s.key(url))
	if err != nil {
		s.log.Error().Err(err).Str("url", url).Msg("failed to read session")
		return Record{}, false
	}
	if !ok {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.log.Warn().Err(err).Str("url", url).Msg("dropping unreadable session")
		_ = s.Clear(url)
		return Record{}, false
	}
	return rec, true
}

func (s *Store) write(url string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.storage.Set(s.key(url), raw); err != nil {
		s.log.Error().Err(err).Str("url", url).Msg("failed to store session")
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}
