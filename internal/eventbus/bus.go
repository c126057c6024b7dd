// Package eventbus carries broadcast lifecycle signals between components
// without coupling them. Publishing never blocks; slow subscribers lose
// events rather than stalling the scheduler tick.
package eventbus

import (
	"sync"
	"time"
)

// Type names a lifecycle event.
type Type string

const (
	// BroadcastFired: a scheduled task delivered to all targets.
	BroadcastFired Type = "broadcast.fired"
	// BroadcastQueued: a failed firing entered the retry queue.
	BroadcastQueued Type = "broadcast.queued"
	// BroadcastResolved: a retry succeeded and left the queue.
	BroadcastResolved Type = "broadcast.resolved"
	// BroadcastExpired: the next scheduled occurrence superseded a retry.
	BroadcastExpired Type = "broadcast.expired"
	// BroadcastAbandoned: the retry attempt cutoff was reached.
	BroadcastAbandoned Type = "broadcast.abandoned"
)

// Event is one signal. Data holds small, loggable key/values.
type Event struct {
	Type Type
	Time time.Time
	Data map[string]any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: make(map[int]chan Event)}
}

type memBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// Publish delivers e to every subscriber that has buffer room. The read
// lock is held across the sends; unsubscribe takes the write lock, so a
// channel is never closed mid-send.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
