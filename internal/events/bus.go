// Package events provides a publish/subscribe bus for operational
// observability. Events flow from components (conversation loop, index
// refreshes, chat bridge) to subscribers. The bus is nil-safe: Publish
// on a nil *Bus is a no-op, so components need no guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the conversation loop.
	SourceAgent = "agent"
	// SourceChat identifies events from the chat bridge.
	SourceChat = "chat"
	// SourceIndex identifies events from snapshot index refreshes.
	SourceIndex = "index"
)

// Kind constants describe the type of event within a source.
const (
	// KindRunStart signals the beginning of a response run.
	// Data: run_id, conversation_id, message_id.
	KindRunStart = "run_start"
	// KindRunThrottled signals a run rejected by the per-conversation
	// throttle. Data: conversation_id.
	KindRunThrottled = "run_throttled"
	// KindModelCall signals the start of a model turn.
	// Data: run_id, turn, attempt.
	KindModelCall = "model_call"
	// KindToolCall signals the start of a tool dispatch.
	// Data: run_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool dispatch.
	// Data: run_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindRunComplete signals the end of a run.
	// Data: run_id, turns, tokens_in, tokens_out, elapsed_ms.
	KindRunComplete = "run_complete"
	// KindRunFailed signals a run ended in a fatal error.
	// Data: run_id, error.
	KindRunFailed = "run_failed"
	// KindStopReceived signals an external stop request matched a run.
	// Data: run_id, message_id.
	KindStopReceived = "stop_received"

	// KindRefreshStart signals the start of an index refresh.
	// Data: kind.
	KindRefreshStart = "refresh_start"
	// KindRefreshDone signals completion of an index refresh.
	// Data: kind, records, skipped, duration_ms.
	KindRefreshDone = "refresh_done"
)

// Event is a single operational event published by a component.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel handed to a subscriber
	// back to the send side stored in subs, so Unsubscribe can accept
	// the caller's view of the channel.
	recvToSend map[<-chan Event]chan Event
}

// New creates an event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full the event is dropped for that
// subscriber. Safe to call on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop rather than block.
		}
	}
}

// Emit is a convenience wrapper that stamps the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually Unsubscribe to avoid leaks. bufSize controls
// the channel buffer.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Calling it
// with an already-removed channel is a no-op.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
