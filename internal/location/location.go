// Package location caches the wearer's last known position and resolves it
// to a place name when a query calls for one. Coordinate fixes come from two
// directions: pushed location events from the hardware and on-demand fetches
// during a query. Both land in the same TTL-bounded cache.
package location

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mentravox/mentravox/internal/geocode"
	"github.com/mentravox/mentravox/internal/wake"
	"github.com/mentravox/mentravox/pkg/glasses"
)

const (
	// DefaultTTL is how long a coordinate fix or resolved place stays fresh.
	DefaultTTL = 5 * time.Minute

	// DefaultFetchTimeout bounds an on-demand hardware location fetch.
	DefaultFetchTimeout = 5 * time.Second
)

// localTimeFormat renders timestamps the way the agent prompt expects them.
const localTimeFormat = "Monday, January 2, 2006 at 3:04 PM"

// SessionFunc resolves the user's current hardware session. It returns nil
// while the user is disconnected.
type SessionFunc func() glasses.Session

// TimezoneFunc returns the user's IANA timezone name, or "" when unknown.
type TimezoneFunc func() string

// Snapshot is the location context handed to the query pipeline.
type Snapshot struct {
	Lat     float64
	Lng     float64
	Place   string // "" when the fix was not reverse-geocoded
	FixedAt time.Time
}

// Option is a functional option for configuring a [Manager].
type Option func(*Manager)

// WithTTL overrides [DefaultTTL]. Values at or below zero keep the default.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithFetchTimeout overrides [DefaultFetchTimeout]. Values at or below zero
// keep the default.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

// Manager holds one user's location state. Safe for concurrent use.
type Manager struct {
	userID       string
	session      SessionFunc
	geocoder     geocode.Geocoder
	timezone     TimezoneFunc
	ttl          time.Duration
	fetchTimeout time.Duration

	mu        sync.Mutex
	fix       glasses.Location
	haveFix   bool
	fixedAt   time.Time
	place     geocode.Place
	havePlace bool
	placedAt  time.Time
}

// New creates a location manager for one user. geocoder may be nil, which
// disables place resolution; timezone may be nil, which pins local time to
// UTC.
func New(userID string, session SessionFunc, geocoder geocode.Geocoder, timezone TimezoneFunc, opts ...Option) *Manager {
	m := &Manager{
		userID:       userID,
		session:      session,
		geocoder:     geocoder,
		timezone:     timezone,
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Update stores a coordinate fix pushed by the hardware.
func (m *Manager) Update(loc glasses.Location) {
	if loc.FixedAt.IsZero() {
		loc.FixedAt = time.Now()
	}
	m.mu.Lock()
	m.fix = loc
	m.haveFix = true
	m.fixedAt = time.Now()
	m.havePlace = false
	m.mu.Unlock()
}

// Refresh returns location context for a query, fetching and geocoding only
// as much as the query needs. The second return is false when the query does
// not need a location or no fix could be obtained.
func (m *Manager) Refresh(ctx context.Context, query string) (Snapshot, bool) {
	if !wake.NeedsLocation(query) {
		return Snapshot{}, false
	}

	loc, ok := m.cachedFix()
	if !ok {
		loc, ok = m.fetchFix(ctx)
	}
	if !ok {
		return Snapshot{}, false
	}

	snap := Snapshot{Lat: loc.Lat, Lng: loc.Lng, FixedAt: loc.FixedAt}
	if wake.NeedsGeocoding(query) {
		if place, found := m.resolvePlace(ctx, loc); found {
			snap.Place = place.String()
		}
	}
	return snap, true
}

// Last returns the cached fix regardless of freshness.
func (m *Manager) Last() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveFix {
		return Snapshot{}, false
	}
	snap := Snapshot{Lat: m.fix.Lat, Lng: m.fix.Lng, FixedAt: m.fix.FixedAt}
	if m.havePlace {
		snap.Place = m.place.String()
	}
	return snap, true
}

// Timezone returns the user's timezone, falling back to UTC when the setting
// is absent or unparseable.
func (m *Manager) Timezone() *time.Location {
	if m.timezone == nil {
		return time.UTC
	}
	name := m.timezone()
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("location: unknown timezone, using UTC", "userId", m.userID, "timezone", name)
		return time.UTC
	}
	return loc
}

// LocalTime returns the current time rendered in the user's timezone plus
// the timezone name, for prompt context.
func (m *Manager) LocalTime() (string, string) {
	tz := m.Timezone()
	return time.Now().In(tz).Format(localTimeFormat), tz.String()
}

// cachedFix returns the stored fix while it is within the TTL.
func (m *Manager) cachedFix() (glasses.Location, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveFix || time.Since(m.fixedAt) >= m.ttl {
		return glasses.Location{}, false
	}
	return m.fix, true
}

// fetchFix asks the hardware for fresh coordinates. On any failure it falls
// back to the stale cache when one exists.
func (m *Manager) fetchFix(ctx context.Context) (glasses.Location, bool) {
	sess := m.session()
	if sess == nil {
		return m.staleFix()
	}

	ctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	loc, err := sess.LatestLocation(ctx)
	if err != nil {
		slog.Debug("location: hardware fetch failed", "userId", m.userID, "error", err)
		return m.staleFix()
	}
	if loc.FixedAt.IsZero() {
		loc.FixedAt = time.Now()
	}

	m.mu.Lock()
	m.fix = loc
	m.haveFix = true
	m.fixedAt = time.Now()
	m.havePlace = false
	m.mu.Unlock()
	return loc, true
}

func (m *Manager) staleFix() (glasses.Location, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fix, m.haveFix
}

// resolvePlace reverse-geocodes a fix, reusing the previous result while it
// is fresh. Geocoding failures only cost the place name, never the fix.
func (m *Manager) resolvePlace(ctx context.Context, loc glasses.Location) (geocode.Place, bool) {
	m.mu.Lock()
	if m.havePlace && time.Since(m.placedAt) < m.ttl {
		place := m.place
		m.mu.Unlock()
		return place, true
	}
	m.mu.Unlock()

	if m.geocoder == nil {
		return geocode.Place{}, false
	}
	place, err := m.geocoder.ReverseGeocode(ctx, loc.Lat, loc.Lng)
	if err != nil {
		slog.Debug("location: reverse geocode failed", "userId", m.userID, "error", err)
		return geocode.Place{}, false
	}

	m.mu.Lock()
	m.place = place
	m.havePlace = true
	m.placedAt = time.Now()
	m.mu.Unlock()
	return place, true
}
