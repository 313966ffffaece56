// Package events fans run progress out to WebSocket and Server-Sent Events
// subscribers.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Message is an encoded event ready to be written to a subscriber.
type Message struct {
	Type string
	Data []byte // JSON envelope {"type": ..., "payload": ...}
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Subscription receives published messages until it is closed.
type Subscription struct {
	C <-chan Message

	ch      chan Message
	dropped atomic.Int64
}

// Dropped returns how many messages were discarded because the
// subscriber's queue was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Broker broadcasts messages to every subscriber. Publishing never blocks:
// a subscriber that falls behind loses messages rather than stalling runs.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	log    *slog.Logger
}

// NewBroker returns a Broker with no subscribers.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		log:    logger,
	}
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe() *Subscription {
	ch := make(chan Message, b.buffer)
	s := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()

	b.log.Debug("event subscriber connected", "subscribers", n)
	return s
}

// Unsubscribe removes s and closes its channel. It is safe to call twice.
func (b *Broker) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[s]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, s)
	close(s.ch)
	n := len(b.subs)
	b.mu.Unlock()

	b.log.Debug("event subscriber disconnected", "subscribers", n, "dropped", s.dropped.Load())
}

// Subscribers returns the number of connected subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish encodes payload under typ and offers it to every subscriber.
func (b *Broker) Publish(typ string, payload any) {
	data, err := json.Marshal(envelope{Type: typ, Payload: payload})
	if err != nil {
		b.log.Error("failed to encode event", "type", typ, "err", err)
		return
	}
	msg := Message{Type: typ, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- msg:
		default:
			s.dropped.Add(1)
		}
	}
}
