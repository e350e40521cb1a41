// Package events is a small in-process pub/sub bus. Job progress and stream
// lifecycle changes are published here and relayed to websocket clients.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the server.
const (
	TypeJobProgress    = "job.progress"
	TypeJobCompleted   = "job.completed"
	TypeJobFailed      = "job.failed"
	TypeJobCancelled   = "job.cancelled"
	TypeBatchProgress  = "batch.progress"
	TypeStreamStarted  = "stream.started"
	TypeStreamStopped  = "stream.stopped"
	TypeStreamReplaced = "stream.replaced"
)

// Event is one notification.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(eventType string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Bus fans events out to subscribers. A slow subscriber drops events rather
// than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers a listener. The returned cancel function must be
// called to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop.
		}
	}
}

// SubscriberCount reports the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
