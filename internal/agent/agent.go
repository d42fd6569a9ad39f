// Package agent is the only component that talks to the language-model
// service. It assembles the system prompt from a [Context] snapshot, attaches
// camera frames when the answering provider can see them, and runs the call
// through a per-provider circuit-breaker chain so one backend outage degrades
// to a fallback instead of an error.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mentravox/mentravox/internal/resilience"
	"github.com/mentravox/mentravox/pkg/provider/llm"
)

// DefaultDeadline bounds a single Generate call. Model calls are expected to
// be slow (seconds); anything past this is treated as a failure.
const DefaultDeadline = 30 * time.Second

// DefaultMaxTokens caps the response length. Glasses answers are spoken or
// shown on a small display, so long completions are wasted.
const DefaultMaxTokens = 1024

// ErrTimeout is returned by [Adapter.Generate] when the deadline elapses
// before any provider answers.
var ErrTimeout = errors.New("agent: deadline exceeded")

// Option configures an [Adapter].
type Option func(*Adapter)

// WithFallback appends a fallback provider. Fallbacks are tried in the order
// they are added, after the primary.
func WithFallback(p llm.Provider) Option {
	return func(a *Adapter) {
		a.chain.Add(p.Name(), p)
	}
}

// WithDeadline overrides the per-call deadline. Defaults to 30s.
// Values at or below zero keep the default.
func WithDeadline(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.deadline = d
		}
	}
}

// WithTemperature sets the sampling temperature. Defaults to the provider's
// own default (unset).
func WithTemperature(t float64) Option {
	return func(a *Adapter) {
		a.temperature = t
	}
}

// WithMaxTokens overrides the completion cap. Defaults to 1024.
// Values below one keep the default.
func WithMaxTokens(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// Adapter turns a query plus situation snapshot into a spoken-word answer.
// It is safe for concurrent use; concurrent calls share the breaker chain.
type Adapter struct {
	chain       *resilience.Chain[llm.Provider]
	deadline    time.Duration
	temperature float64
	maxTokens   int
}

// New creates an [Adapter] with primary as the first provider in the chain.
// breakerCfg seeds the per-provider circuit breakers; zero-value fields use
// the resilience package defaults.
func New(primary llm.Provider, breakerCfg resilience.BreakerConfig, opts ...Option) *Adapter {
	a := &Adapter{
		chain:     resilience.NewChain[llm.Provider](breakerCfg),
		deadline:  DefaultDeadline,
		maxTokens: DefaultMaxTokens,
	}
	a.chain.Add(primary.Name(), primary)
	for _, o := range opts {
		o(a)
	}
	return a
}

// Generate answers query using the situation snapshot c. photos carries
// camera frames newest first; they are attached only when the answering
// provider reports vision support.
//
// The call is bounded by the adapter deadline. On exhaustion of the provider
// chain the underlying error is returned; callers substitute their own
// user-facing apology.
func (a *Adapter) Generate(ctx context.Context, query string, photos [][]byte, c Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	systemPrompt := FormatSystemPrompt(c)
	start := time.Now()

	resp, providerName, err := resilience.Run(a.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, a.buildRequest(p, query, photos, systemPrompt))
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("agent: generate: %w", ErrTimeout)
		}
		return "", fmt.Errorf("agent: generate: %w", err)
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", fmt.Errorf("agent: generate: provider %s returned an empty response", providerName)
	}

	slog.Debug("agent response",
		"provider", providerName,
		"elapsed", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return answer, nil
}

// States reports the breaker state of every provider in the chain, keyed by
// provider name. Used by the readiness endpoint.
func (a *Adapter) States() map[string]resilience.State {
	return a.chain.States()
}

// buildRequest assembles the completion request for one provider. Photos are
// dropped for providers without vision support so a text-only fallback still
// answers the spoken part of the query.
func (a *Adapter) buildRequest(p llm.Provider, query string, photos [][]byte, systemPrompt string) llm.CompletionRequest {
	msg := llm.Message{Role: "user", Content: query}
	if len(photos) > 0 && p.Capabilities().SupportsVision {
		msg.Images = photos
	}
	return llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{msg},
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
	}
}
