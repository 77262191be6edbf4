// Package event provides the in-process publish/subscribe bus plugins use to
// announce what they observed.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a single message published on the bus.
type Event struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Handler receives published events.
type Handler func(ctx context.Context, e Event)

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	PublishAsync(ctx context.Context, e Event)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to topic subscribers and to catch-all subscribers.
// Handler panics are recovered so one bad subscriber cannot stop delivery.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	all    []subscription
	nextID uint64
	logger *zap.Logger
}

var _ Publisher = (*Bus)(nil)

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		topics: make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers handler for topic and returns an unsubscribe func.
func (b *Bus) Subscribe(topic string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = remove(b.topics[topic], id)
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
	}
}

// SubscribeAll registers handler for every topic.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

// Publish delivers e synchronously to every matching handler.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	for _, h := range b.handlers(e.Topic) {
		b.dispatch(ctx, h, e)
	}
	return nil
}

// PublishAsync delivers e to each matching handler on its own goroutine.
func (b *Bus) PublishAsync(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	for _, h := range b.handlers(e.Topic) {
		go b.dispatch(ctx, h, e)
	}
}

func (b *Bus) handlers(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Handler, 0, len(b.topics[topic])+len(b.all))
	for _, s := range b.topics[topic] {
		out = append(out, s.handler)
	}
	for _, s := range b.all {
		out = append(out, s.handler)
	}
	return out
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", e.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, e)
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
