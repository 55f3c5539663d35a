package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(4)
	defer b.Unsubscribe(ch)

	b.Emit(SourceAgent, KindRunStart, map[string]any{"run_id": "r1"})

	select {
	case e := <-ch:
		if e.Source != SourceAgent || e.Kind != KindRunStart {
			t.Errorf("unexpected event %+v", e)
		}
		if e.Timestamp.IsZero() {
			t.Error("expected Emit to stamp the time")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNilBusIsNoOp(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceAgent, Kind: KindRunComplete}) // must not panic
	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("nil bus subscriber count = %d", n)
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	// Fill the buffer, then publish again; the second event must be
	// dropped without blocking.
	b.Emit(SourceIndex, KindRefreshStart, nil)
	done := make(chan struct{})
	go func() {
		b.Emit(SourceIndex, KindRefreshDone, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	e := <-ch
	if e.Kind != KindRefreshStart {
		t.Errorf("expected first event retained, got %s", e.Kind)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)
	b.Unsubscribe(ch) // no-op, must not panic

	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
}
