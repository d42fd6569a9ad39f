// Package history keeps a bounded in-memory ring of chat turns per user and
// optionally mirrors each turn to a durable store, grouped by calendar day.
// The ring is the source of truth for replay; the durable store only ever
// receives appends. Turns carry photo references, never photo bytes.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mentravox/mentravox/internal/backoff"
)

// DefaultCapacity bounds the in-memory turn ring.
const DefaultCapacity = 30

// appendTimeout bounds one durable append including its retries.
const appendTimeout = 15 * time.Second

// Turn is one completed query/response exchange.
type Turn struct {
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
	HadPhoto  bool      `json:"hadPhoto,omitempty"`
	PhotoRef  string    `json:"photoRef,omitempty"`
}

// Store is the durable backend for chat turns. day is a UTC calendar date in
// 2006-01-02 form. Implementations must be safe for concurrent use.
type Store interface {
	AppendTurn(ctx context.Context, userID, day string, turn Turn) error
}

// EnabledFunc reports whether the user wants turns persisted. Consulted per
// append so a settings change applies immediately.
type EnabledFunc func() bool

// Option is a functional option for [New].
type Option func(*Ring)

// WithCapacity overrides [DefaultCapacity]. Values below one keep the
// default.
func WithCapacity(n int) Option {
	return func(r *Ring) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithRetry overrides the retry strategy for durable appends.
func WithRetry(s backoff.Strategy) Option {
	return func(r *Ring) {
		r.retry = s
	}
}

// WithRecall attaches a semantic recall index. New turns are indexed in the
// background and [Ring.SearchTurns] becomes available. A nil recall is
// ignored.
func WithRecall(rc *Recall) Option {
	return func(r *Ring) {
		r.recall = rc
	}
}

// Ring is one user's chat history. Safe for concurrent use.
type Ring struct {
	userID   string
	capacity int
	store    Store
	enabled  EnabledFunc
	retry    backoff.Strategy
	recall   *Recall

	mu    sync.Mutex
	turns []Turn

	appends sync.WaitGroup
}

// New creates a chat history ring. store may be nil (no persistence);
// enabled may be nil (persistence always on when a store exists).
func New(userID string, store Store, enabled EnabledFunc, opts ...Option) *Ring {
	r := &Ring{
		userID:   userID,
		capacity: DefaultCapacity,
		store:    store,
		enabled:  enabled,
		retry:    backoff.Standard,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AddTurn records a completed exchange. The ring write is synchronous; the
// durable append happens on its own goroutine so a slow store never blocks
// the query pipeline.
func (r *Ring) AddTurn(query, response string, hadPhoto bool, photoRef string) {
	turn := Turn{
		Query:     query,
		Response:  response,
		Timestamp: time.Now(),
		HadPhoto:  hadPhoto,
		PhotoRef:  photoRef,
	}

	r.mu.Lock()
	r.turns = append(r.turns, turn)
	if len(r.turns) > r.capacity {
		r.turns = r.turns[len(r.turns)-r.capacity:]
	}
	r.mu.Unlock()

	if r.enabled != nil && !r.enabled() {
		return
	}
	if r.store == nil && r.recall == nil {
		return
	}

	day := turn.Timestamp.UTC().Format("2006-01-02")
	r.appends.Add(1)
	go func() {
		defer r.appends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()

		if r.store != nil {
			err := backoff.Retry(ctx, r.retry, func(ctx context.Context, _ int) error {
				return r.store.AppendTurn(ctx, r.userID, day, turn)
			})
			if err != nil {
				slog.Warn("history: durable append failed",
					"userId", r.userID, "day", day, "error", err)
			}
		}
		if r.recall != nil {
			if err := r.recall.IndexTurn(ctx, r.userID, turn); err != nil {
				slog.Debug("history: recall index failed", "userId", r.userID, "error", err)
			}
		}
	}()
}

// SearchTurns returns past turns semantically similar to query, most similar
// first. Without a recall index it returns nil.
func (r *Ring) SearchTurns(ctx context.Context, query string, k int) ([]Turn, error) {
	if r.recall == nil {
		return nil, nil
	}
	return r.recall.SearchTurns(ctx, r.userID, query, k)
}

// RecentTurns returns up to limit turns, youngest last. maxAge at or below
// zero disables age filtering; limit at or below zero returns all matching
// turns.
func (r *Ring) RecentTurns(limit int, maxAge time.Duration) []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()

	turns := r.turns
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge)
		idx := len(turns)
		for i := len(turns) - 1; i >= 0; i-- {
			if turns[i].Timestamp.Before(cutoff) {
				break
			}
			idx = i
		}
		turns = turns[idx:]
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Len returns the number of turns in the ring.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

// Wait blocks until all queued durable appends have finished. Used by
// shutdown and tests.
func (r *Ring) Wait() {
	r.appends.Wait()
}
