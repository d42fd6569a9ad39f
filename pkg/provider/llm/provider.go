// Package llm defines the Provider interface for the language-model backends
// behind the assistant's agent adapter.
//
// A provider wraps one remote model API (OpenAI directly, or anything the
// any-llm gateway reaches) behind a single blocking completion call. The
// assistant speaks and displays each response whole, so the interface
// deliberately omits streaming.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same
// text.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages
	// and system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the model needs to produce a
// response. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests
	// the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider
	// default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Providers without a dedicated system slot prepend it
	// as a "system"-role message.
	SystemPrompt string
}

// CompletionResponse is the full, non-streamed model reply.
type CompletionResponse struct {
	// Content is the text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any language-model backend.
//
// Complete must propagate context cancellation promptly; the caller bounds
// every call with a deadline.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about this provider instance.
	// The result is constant for the provider's lifetime.
	Capabilities() Capabilities

	// Name returns a short identifier for logs and failover reporting,
	// e.g. "openai/gpt-4o-mini".
	Name() string
}
