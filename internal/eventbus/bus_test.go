package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: BroadcastFired, Data: map[string]any{"minute": "09:30"}})
	select {
	case e := <-ch:
		if e.Type != BroadcastFired || e.Data["minute"] != "09:30" {
			t.Errorf("event = %+v", e)
		}
		if e.Time.IsZero() {
			t.Error("time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Second publish overflows the buffer and must drop, not block.
		b.Publish(Event{Type: BroadcastQueued})
		b.Publish(Event{Type: BroadcastQueued})
		b.Publish(Event{Type: BroadcastQueued})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent
	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: BroadcastExpired})
}
