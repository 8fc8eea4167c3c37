// Package events provides a bounded in-memory event log with cursor-based
// reads, feeding the SSE stream.
package events

import (
	"sync"
	"time"
)

const defaultCapacity = 2000

// Event is one progress notification. IDs are strictly increasing within the
// process and never reused, so a client can resume from its last seen ID.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus holds the most recent events up to a fixed capacity. When full, the
// oldest events are evicted silently.
type Bus struct {
	mu       sync.Mutex
	events   []Event
	nextID   int64
	capacity int
}

// NewBus creates a Bus. A non-positive capacity falls back to the default.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{nextID: 1, capacity: capacity}
}

// Publish appends an event and returns its ID.
func (b *Bus) Publish(eventType, message string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev := Event{
		ID:        b.nextID,
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	b.nextID++

	b.events = append(b.events, ev)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
	return ev.ID
}

// EventsSince returns all retained events with an ID greater than lastID, in
// publish order. Events evicted before the call are gone; the caller simply
// misses them.
func (b *Bus) EventsSince(lastID int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0)
	for _, ev := range b.events {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
