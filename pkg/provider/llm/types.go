package llm

// Message is a single message in a model conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Images holds raw image payloads attached to a user message, newest
	// first. Providers encode them for their wire format; providers that
	// cannot transmit images drop them (check Capabilities().SupportsVision
	// before attaching).
	Images [][]byte
}

// Capabilities describes what a provider instance can deliver. The result
// reflects both the underlying model and the wrapper: a vision-capable model
// behind a text-only transport reports SupportsVision false.
type Capabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens one completion may generate.
	MaxOutputTokens int

	// SupportsVision indicates image inputs reach the model.
	SupportsVision bool
}
