// Package notify buffers hardware notifications for prompt context. Payloads
// are opaque: whatever the hardware sent is kept verbatim and only
// stringified when an agent prompt includes it.
package notify

import (
	"strings"
	"sync"
	"time"

	"github.com/mentravox/mentravox/pkg/glasses"
)

const (
	// DefaultCapacity bounds the notification ring.
	DefaultCapacity = 20

	// DefaultMaxAge is how old a notification may be and still reach a
	// prompt.
	DefaultMaxAge = 5 * time.Minute
)

// Option is a functional option for [New].
type Option func(*Store)

// WithCapacity overrides [DefaultCapacity]. Values below one keep the
// default.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithMaxAge overrides [DefaultMaxAge]. Values at or below zero keep the
// default.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

type entry struct {
	notification glasses.Notification
	receivedAt   time.Time
}

// Store is a bounded ring of one user's recent notifications. Safe for
// concurrent use.
type Store struct {
	userID   string
	capacity int
	maxAge   time.Duration

	mu      sync.Mutex
	entries []entry
}

// New creates a notification store for one user.
func New(userID string, opts ...Option) *Store {
	s := &Store{
		userID:   userID,
		capacity: DefaultCapacity,
		maxAge:   DefaultMaxAge,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add appends a notification, evicting the oldest beyond capacity.
func (s *Store) Add(n glasses.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{notification: n, receivedAt: time.Now()})
	if len(s.entries) > s.capacity {
		s.entries = s.entries[len(s.entries)-s.capacity:]
	}
}

// Recent returns up to limit notifications younger than the max age,
// youngest last. A limit at or below zero returns all fresh entries.
func (s *Store) Recent(limit int) []glasses.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.maxAge)
	out := make([]glasses.Notification, 0, len(s.entries))
	for _, e := range s.entries {
		if e.receivedAt.After(cutoff) {
			out = append(out, e.notification)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// FormatForPrompt renders fresh notifications as a bullet list for the agent
// prompt. Returns "" when nothing is fresh.
func (s *Store) FormatForPrompt(limit int) string {
	ns := s.Recent(limit)
	if len(ns) == 0 {
		return ""
	}
	var b strings.Builder
	for i, n := range ns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(n.String())
	}
	return b.String()
}

// Len returns the number of buffered notifications regardless of age.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
