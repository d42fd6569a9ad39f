// Package photo bounds per-user photo retention. A short newest-first
// recents list feeds vision context to the agent, and a small LRU keyed by
// request id serves on-demand binary fetches. Only metadata travels through
// the event bus; raw bytes are fetched over HTTP when a client wants them.
package photo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mentravox/mentravox/internal/events"
	"github.com/mentravox/mentravox/internal/ident"
	"github.com/mentravox/mentravox/pkg/glasses"
)

const (
	// DefaultRecents is how many photos are kept for the agent's vision
	// context.
	DefaultRecents = 3

	// DefaultLookupCap bounds the request-id lookup map.
	DefaultLookupCap = 8

	// DefaultCaptureTimeout bounds a single hardware capture call.
	DefaultCaptureTimeout = 10 * time.Second
)

var (
	// ErrNoSession is returned when no hardware session is attached.
	ErrNoSession = errors.New("photo: no hardware session attached")

	// ErrNoCamera is returned when the attached hardware has no camera.
	ErrNoCamera = errors.New("photo: hardware has no camera")
)

// SessionFunc resolves the user's current hardware session. It returns nil
// while the user is disconnected.
type SessionFunc func() glasses.Session

// Option is a functional option for configuring a [Store].
type Option func(*Store)

// WithRecents overrides [DefaultRecents]. Values below one keep the default.
func WithRecents(k int) Option {
	return func(s *Store) {
		if k > 0 {
			s.recentsCap = k
		}
	}
}

// WithLookupCap overrides [DefaultLookupCap]. Values below one keep the
// default.
func WithLookupCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.lookupCap = n
		}
	}
}

// WithCaptureTimeout overrides [DefaultCaptureTimeout]. Values at or below
// zero keep the default.
func WithCaptureTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.captureTimeout = d
		}
	}
}

// Store holds one user's recent photos. Safe for concurrent use.
type Store struct {
	userID  string
	session SessionFunc
	bus     *events.Bus

	recentsCap     int
	lookupCap      int
	captureTimeout time.Duration

	mu      sync.Mutex
	recents []glasses.Photo
	byID    *lru.Cache[string, glasses.Photo]
}

// New creates a photo store for one user. session is consulted on every
// capture so the store follows hardware reconnects without rewiring.
func New(userID string, session SessionFunc, bus *events.Bus, opts ...Option) *Store {
	s := &Store{
		userID:         userID,
		session:        session,
		bus:            bus,
		recentsCap:     DefaultRecents,
		lookupCap:      DefaultLookupCap,
		captureTimeout: DefaultCaptureTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	cache, err := lru.New[string, glasses.Photo](s.lookupCap)
	if err != nil {
		// Unreachable: the options clamp the cap to a positive value.
		panic(err)
	}
	s.byID = cache
	return s
}

// Capture requests one photo from the hardware, stores it, and publishes its
// metadata on the photo topic. The hardware call is bounded by the capture
// timeout.
func (s *Store) Capture(ctx context.Context) (glasses.Photo, error) {
	sess := s.session()
	if sess == nil {
		return glasses.Photo{}, ErrNoSession
	}
	if !sess.Capabilities().HasCamera {
		return glasses.Photo{}, ErrNoCamera
	}

	ctx, cancel := context.WithTimeout(ctx, s.captureTimeout)
	defer cancel()

	p, err := sess.CapturePhoto(ctx)
	if err != nil {
		return glasses.Photo{}, fmt.Errorf("photo: capture: %w", err)
	}
	if p.RequestID == "" {
		p.RequestID = ident.NewPhoto()
	}
	if p.Taken.IsZero() {
		p.Taken = time.Now()
	}
	if p.Size == 0 {
		p.Size = len(p.Bytes)
	}

	s.mu.Lock()
	s.recents = append([]glasses.Photo{p}, s.recents...)
	if len(s.recents) > s.recentsCap {
		s.recents = s.recents[:s.recentsCap]
	}
	s.byID.Add(p.RequestID, p)
	s.mu.Unlock()

	delivered := s.bus.Broadcast(s.userID, events.TopicPhoto, events.PhotoEvent{
		RequestID: p.RequestID,
		Timestamp: p.Taken,
		MimeType:  p.MimeType,
		Filename:  p.Filename,
		Size:      p.Size,
		UserID:    s.userID,
	})
	slog.Debug("photo: captured",
		"userId", s.userID, "requestId", p.RequestID, "size", p.Size, "delivered", delivered)
	return p, nil
}

// Latest returns the most recently captured photo.
func (s *Store) Latest() (glasses.Photo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recents) == 0 {
		return glasses.Photo{}, false
	}
	return s.recents[0], true
}

// Lookup returns the photo for a request id while it remains in the lookup
// map.
func (s *Store) Lookup(requestID string) (glasses.Photo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID.Get(requestID)
}

// ContextBytes returns the newest photo's bytes followed by the previous
// photos' bytes in recency order, for handing to the agent as vision input.
func (s *Store) ContextBytes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, 0, len(s.recents))
	for _, p := range s.recents {
		out = append(out, p.Bytes)
	}
	return out
}

// Recents returns a copy of the recents list, newest first.
func (s *Store) Recents() []glasses.Photo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]glasses.Photo, len(s.recents))
	copy(out, s.recents)
	return out
}
