// Package session tracks which users currently exist in the process and
// drives their hardware lifecycle: attach on connect, a grace period on
// disconnect, and teardown when the grace period expires.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mentravox/mentravox/internal/events"
	"github.com/mentravox/mentravox/internal/user"
)

// DefaultGracePeriod is how long a disconnected user's state is retained
// before the session is considered ended.
const DefaultGracePeriod = 60 * time.Second

// UserFactory builds the User aggregate for a user id seen for the first
// time.
type UserFactory func(userID string) *user.User

// Option is a functional option for configuring a [Registry].
type Option func(*Registry)

// WithGracePeriod overrides [DefaultGracePeriod]. Values at or below zero
// keep the default.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

// entry pairs a live User with its pending-removal timer, which is nil while
// the user is not scheduled for removal.
type entry struct {
	user    *user.User
	removal *time.Timer
}

// Registry is the process-wide map of user id to User. Safe for concurrent
// use.
type Registry struct {
	factory UserFactory
	bus     *events.Bus
	grace   time.Duration

	mu    sync.Mutex
	users map[string]*entry
}

// NewRegistry creates an empty registry. bus is used to announce the end of
// a session when a grace period expires.
func NewRegistry(factory UserFactory, bus *events.Bus, opts ...Option) *Registry {
	r := &Registry{
		factory: factory,
		bus:     bus,
		grace:   DefaultGracePeriod,
		users:   make(map[string]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetOrCreate returns the User for userID, building it through the factory
// on first sight. The second return reports whether the User was created by
// this call.
func (r *Registry) GetOrCreate(userID string) (*user.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.users[userID]; ok {
		return e.user, false
	}
	u := r.factory(userID)
	r.users[userID] = &entry{user: u}
	slog.Info("session: user created", "userId", userID, "total", len(r.users))
	return u, true
}

// Get returns the User for userID when one exists.
func (r *Registry) Get(userID string) (*user.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	return e.user, true
}

// Remove tears the user down and deletes it immediately. Any pending removal
// timer is stopped first. A no-op for unknown users.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	e, ok := r.users[userID]
	if ok {
		if e.removal != nil {
			e.removal.Stop()
		}
		delete(r.users, userID)
	}
	total := len(r.users)
	r.mu.Unlock()

	if !ok {
		return
	}
	e.user.Teardown()
	slog.Info("session: user removed", "userId", userID, "total", total)
}

// SoftRemove schedules the user for removal after the grace period. Repeat
// calls coalesce: a pending timer is stopped and the grace window restarts
// from the latest call. When the timer fires the session end is announced,
// queued events are dropped, and the user is removed.
func (r *Registry) SoftRemove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		return
	}
	if e.removal != nil {
		e.removal.Stop()
	}
	e.removal = time.AfterFunc(r.grace, func() { r.expire(userID) })
	slog.Info("session: removal scheduled", "userId", userID, "grace", r.grace)
}

// CancelRemoval stops a pending removal and reports whether one was pending.
// A true return means the hardware reconnected within the grace period.
func (r *Registry) CancelRemoval(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok || e.removal == nil {
		return false
	}
	stopped := e.removal.Stop()
	e.removal = nil
	if stopped {
		slog.Info("session: removal cancelled", "userId", userID)
	}
	return stopped
}

// expire runs when a grace period ends without a reconnect.
func (r *Registry) expire(userID string) {
	r.mu.Lock()
	e, ok := r.users[userID]
	if ok {
		delete(r.users, userID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	slog.Info("session: grace period expired", "userId", userID)
	r.bus.Broadcast(userID, events.TopicChat, events.SessionEnded("grace period expired"))
	r.bus.ClearPending(userID,
		events.TopicChat, events.TopicTranscription, events.TopicPhoto)
	e.user.Teardown()
}

// Len returns the number of tracked users.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
