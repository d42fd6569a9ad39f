// Package resilience provides the circuit breaker and provider chain that keep
// a flaky model backend from stalling every query.
//
// The central type is [Breaker], a three-state breaker (closed, open and
// half-open) that stops calls to a backend after repeated failures. [Chain]
// composes multiple instances of any provider type with per-entry breakers so
// that a failing primary is bypassed in favour of healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] when the breaker is open and
// the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state. All calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped. Calls are rejected
	// immediately with [ErrCircuitOpen] until the reset timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the reset timeout. A
	// limited number of calls are allowed through; enough successes close the
	// breaker, any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Defaults to 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before allowing probe
	// calls. Defaults to 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is the number of successful probe calls required to close
	// the breaker again. It also bounds how many probes may be in flight.
	// Defaults to 2.
	HalfOpenProbes int
}

// Breaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type Breaker struct {
	name           string
	maxFailures    int
	resetTimeout   time.Duration
	halfOpenProbes int

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probesUsed   int
	probesPassed int
}

// NewBreaker creates a [Breaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 2
	}
	return &Breaker{
		name:           cfg.Name,
		maxFailures:    cfg.MaxFailures,
		resetTimeout:   cfg.ResetTimeout,
		halfOpenProbes: cfg.HalfOpenProbes,
		state:          StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state a limited number
// of probe calls are permitted.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probesUsed = 0
		b.probesPassed = 0
		slog.Info("circuit breaker half-open", "name", b.name)

	case StateHalfOpen:
		if b.probesUsed >= b.halfOpenProbes {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	probing := b.state == StateHalfOpen
	if probing {
		b.probesUsed++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure handles failure accounting. Must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	if probing {
		// A concurrent probe may report after the breaker already re-opened;
		// re-tripping then would only refresh openedAt unnecessarily.
		if b.state == StateHalfOpen {
			b.trip("probe failed")
		}
		return
	}
	if b.state != StateClosed {
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.trip("failure threshold reached")
	}
}

// onSuccess handles success accounting. Must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		// Probe results only count while the breaker is still half-open.
		if b.state != StateHalfOpen {
			return
		}
		b.probesPassed++
		if b.probesPassed >= b.halfOpenProbes {
			b.state = StateClosed
			b.failures = 0
			slog.Info("circuit breaker closed after successful probes", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.openedAt = time.Now()
	slog.Warn("circuit breaker opened", "name", b.name, "reason", reason)
}

// State returns the current [State] of the breaker. If the breaker is open and
// the reset timeout has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [Execute] call).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Name returns the label supplied at construction.
func (b *Breaker) Name() string {
	return b.name
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probesUsed = 0
	b.probesPassed = 0
	slog.Info("circuit breaker manually reset", "name", b.name)
}
