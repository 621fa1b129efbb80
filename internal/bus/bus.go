// Package bus fans broadcast events out to in-process subscribers and,
// optionally, a Redis PubSub leg for external consumers. Delivery is
// best-effort: a slow subscriber loses messages rather than stalling
// the ingestion pipeline.
package bus

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Message is one delivered broadcast: the topic plus the JSON-encoded
// event payload.
type Message struct {
	Topic string
	Data  []byte
}

// ExternalPublisher is the optional external PubSub leg.
type ExternalPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte)
}

// Bus broadcasts events to all subscribers. If a subscriber channel is
// full the message is dropped for that subscriber only.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]chan Message
	bufSize int
	closed  bool

	external ExternalPublisher

	// OnDrop is called with the subscriber id when a message is dropped.
	OnDrop func(id string)
}

// New creates a Bus with the given per-subscriber buffer size. external
// may be nil; the bus then stays in-process only.
func New(bufSize int, external ExternalPublisher) *Bus {
	if bufSize < 1 {
		bufSize = 64
	}
	return &Bus{
		subs:     make(map[string]chan Message),
		bufSize:  bufSize,
		external: external,
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
func (b *Bus) Subscribe() (string, <-chan Message) {
	id := uuid.NewString()
	ch := make(chan Message, b.bufSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids
// are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish encodes event as JSON and delivers it to every subscriber
// without blocking. Encoding failures and the external leg are logged,
// never surfaced: a broadcast problem must not take down ingestion.
func (b *Bus) Publish(topic string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[bus] marshal %s: %v", topic, err)
		return
	}

	msg := Message{Topic: topic, Data: data}

	b.mu.RLock()
	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			if b.OnDrop != nil {
				b.OnDrop(id)
			} else {
				log.Printf("[bus] subscriber %s full, dropping %s message", id, topic)
			}
		}
	}
	b.mu.RUnlock()

	if b.external != nil {
		b.external.Publish(context.Background(), "pub:"+topic, data)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
