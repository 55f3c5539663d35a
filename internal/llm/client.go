package llm

import "context"

// Client is the interface the conversation loop depends on.
type Client interface {
	// ChatStream sends one conversation turn and streams the response.
	// If callback is non-nil it receives text deltas and tool-call
	// starts as they arrive; the returned ChatResponse carries the
	// complete text and fully-parsed tool calls.
	ChatStream(ctx context.Context, messages []Message, tools []ToolSpec, callback StreamCallback) (*ChatResponse, error)

	// Ping checks if the provider is reachable with valid credentials.
	Ping(ctx context.Context) error
}

// ToolSpec declares one tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}
