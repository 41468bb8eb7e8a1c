package sessions

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultTTL is the idle lifetime of a session when none is configured.
const DefaultTTL = 2 * time.Hour

var (
	// ErrNotFound is returned when the session is unknown or has expired.
	ErrNotFound = errors.New("sessions: not found")
	// ErrInvalidID is returned for blank session identifiers.
	ErrInvalidID = errors.New("sessions: invalid id")
)

type entry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

// Store keeps values in memory with a sliding idle expiry. Reads extend the expiry.
type Store[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[T]
}

// NewStore constructs an empty store. A non-positive ttl selects DefaultTTL.
func NewStore[T any](ttl time.Duration) *Store[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store[T]{ttl: ttl, entries: make(map[string]entry[T])}
}

// NewID returns a fresh lexically sortable session identifier.
func NewID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// Put stores value under id, replacing any previous value.
func (s *Store[T]) Put(_ context.Context, id string, value T, now time.Time) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidID
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	created := now
	if existing, ok := s.entries[id]; ok && now.Before(existing.expiresAt) {
		created = existing.createdAt
	}
	s.entries[id] = entry[T]{value: value, createdAt: created, expiresAt: now.Add(s.ttl)}
	return nil
}

// Get returns the value for id and slides its expiry forward.
func (s *Store[T]) Get(_ context.Context, id string, now time.Time) (T, error) {
	var zero T
	id = strings.TrimSpace(id)
	if id == "" {
		return zero, ErrInvalidID
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return zero, ErrNotFound
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, id)
		return zero, ErrNotFound
	}
	e.expiresAt = now.Add(s.ttl)
	s.entries[id] = e
	return e.value, nil
}

// Delete removes id. Deleting an unknown id is not an error.
func (s *Store[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, strings.TrimSpace(id))
	return nil
}

// CleanupExpired removes up to limit expired entries and reports how many were removed.
// A non-positive limit removes every expired entry.
func (s *Store[T]) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	removed := 0
	for id, e := range s.entries {
		if removed >= limit {
			break
		}
		if now.Before(e.expiresAt) {
			continue
		}
		delete(s.entries, id)
		removed++
	}
	return removed, nil
}

// Len reports the number of stored entries, expired or not.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
