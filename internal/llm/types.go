// Package llm provides the generative-model client used by the
// conversation loop. The wire protocol is the Anthropic Messages API;
// everything above the provider boundary uses the neutral types here.
package llm

import (
	"fmt"
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a single chat message in a conversation.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool responses
	// Image carries an optional base64-encoded image payload for the
	// first user turn. MediaType is its MIME type.
	Image     string `json:"image,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// ToolCall is a tool invocation requested by the model mid-stream.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the final result of one model turn.
type ChatResponse struct {
	Model        string
	Message      Message
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// StreamEvent is a single event in a streaming response.
type StreamEvent struct {
	Kind StreamEventKind

	// Token is set for KindToken events.
	Token string

	// ToolCall is set for KindToolCallStart events (arguments are not
	// yet known; they arrive with the final response).
	ToolCall *ToolCall
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindToken is an incremental text delta from the model.
	KindToken StreamEventKind = iota

	// KindToolCallStart fires when the model opens a tool-use block.
	KindToolCallStart
)

// StreamCallback receives streaming events as they arrive.
type StreamCallback func(event StreamEvent)

// RateLimitError signals the provider rejected a request for quota
// reasons. The caller may retry after a delay.
type RateLimitError struct {
	RetryAfter time.Duration // zero when the provider gave no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return "rate limited"
}

// StreamInterruptedError distinguishes a connection dropped mid-stream
// from a clean end-of-stream. Partial content up to the drop point is
// carried so callers can report how far the turn got.
type StreamInterruptedError struct {
	Err     error
	Partial string
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream interrupted: %v", e.Err)
}

func (e *StreamInterruptedError) Unwrap() error { return e.Err }
