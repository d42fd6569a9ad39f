package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every entry in a [Chain] fails or has an open
// circuit breaker.
var ErrExhausted = errors.New("every provider failed or was skipped")

// chainEntry pairs a provider value with its dedicated circuit breaker.
type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain tries a sequence of named providers in registration order, skipping
// entries whose breaker is open. It is how the agent survives a model outage:
// the primary trips, the next backend answers, and probes quietly restore the
// primary once it recovers.
//
// Chain is safe for concurrent use once assembled. Add must not be called
// concurrently with Execute.
type Chain[T any] struct {
	entries    []chainEntry[T]
	breakerCfg BreakerConfig
}

// NewChain creates an empty [Chain]. cfg seeds the per-entry breakers; the
// Name field is ignored in favour of the name given to [Chain.Add].
func NewChain[T any](cfg BreakerConfig) *Chain[T] {
	return &Chain[T]{breakerCfg: cfg}
}

// Add appends a provider to the chain. Entries are tried in the order they
// are added.
func (c *Chain[T]) Add(name string, value T) {
	cfg := c.breakerCfg
	cfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Len returns the number of registered providers.
func (c *Chain[T]) Len() int {
	return len(c.entries)
}

// States reports the breaker state of every entry, keyed by entry name.
func (c *Chain[T]) States() map[string]State {
	states := make(map[string]State, len(c.entries))
	for i := range c.entries {
		states[c.entries[i].name] = c.entries[i].breaker.State()
	}
	return states
}

// Execute tries fn against each entry in order until one succeeds.
// Entries with an open breaker are skipped. Returns [ErrExhausted] wrapped
// with the last error if every entry fails.
func (c *Chain[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]
		err := entry.breaker.Execute(func() error {
			return fn(entry.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// Run tries fn against each entry in the chain until one succeeds, returning
// the result value and the name of the entry that produced it. This is a
// package-level function because Go does not support method-level type
// parameters.
func Run[T any, R any](c *Chain[T], fn func(T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		entry := &c.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, entry.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
