// Package core defines the core interfaces and types for the LLM gateway.
package core

import "context"

// Handler is the canonical create-message capability implemented once per
// backend. Callers never branch on which backend serves them.
type Handler interface {
	// CreateMessage translates the conversation, sends it through the backend
	// transport and normalizes the reply.
	CreateMessage(ctx context.Context, systemPrompt string, messages []Message, tools []Tool) (*Response, error)

	// CreateUserReadableRequest builds the outbound shape of a single user turn
	// for display. It is never sent.
	CreateUserReadableRequest(content []ContentBlock) *DisplayEcho

	// GetModel returns the configured model id and its descriptor.
	GetModel() (string, ModelDescriptor)
}

// ProviderNamer is implemented by handlers that can report their backend name.
type ProviderNamer interface {
	ProviderName() string
}
