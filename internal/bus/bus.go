// Package bus implements the process-wide publish/subscribe fabric for
// lifecycle events. Every event is delivered to the firehose topic; events
// carrying a session id are additionally delivered to that session's topic.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Firehose is the topic that receives every published event.
const Firehose = "firehose"

// DefaultBuffer is the per-subscriber queue size before the subscriber is
// considered too slow and dropped.
const DefaultBuffer = 64

// Event is a session-scoped or global lifecycle event.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SessionTopic returns the topic name for session-scoped delivery.
func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}

// Subscription is one consumer's handle on a topic. Events arrive on C in
// publication order until the subscription is closed or dropped.
type Subscription struct {
	ID    string
	Topic string
	C     <-chan Event

	ch     chan Event
	closed bool
}

// Bus fans events out to subscribers with bounded, drop-on-overflow queues.
// Publishing never blocks on a slow consumer.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // topic → id → sub
}

func New() *Bus {
	return &Bus{subs: make(map[string]map[string]*Subscription)}
}

// Subscribe registers a consumer on a topic. buffer <= 0 uses DefaultBuffer.
func (b *Bus) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{
		ID:    uuid.New().String(),
		Topic: topic,
		C:     ch,
		ch:    ch,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*Subscription)
	}
	b.subs[topic][sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

func (b *Bus) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	if m := b.subs[sub.Topic]; m != nil {
		delete(m, sub.ID)
		if len(m) == 0 {
			delete(b.subs, sub.Topic)
		}
	}
	close(sub.ch)
}

// Publish delivers the event to the firehose and, when the event has a
// session id, to that session's topic. Subscribers whose queue is full are
// dropped rather than blocking the publisher.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.deliverLocked(Firehose, ev)
	if ev.SessionID != "" {
		b.deliverLocked(SessionTopic(ev.SessionID), ev)
	}
}

func (b *Bus) deliverLocked(topic string, ev Event) {
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("bus: dropping slow subscriber", "topic", topic, "id", sub.ID)
			b.removeLocked(sub)
		}
	}
}

// SubscriberCount reports the number of live subscriptions on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
