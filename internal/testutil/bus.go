package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/reload/internal/event"
)

// Recorder subscribes to every topic on a bus and records what it sees.
type Recorder struct {
	mu     sync.Mutex
	events []event.Event
	cond   chan struct{}
}

// NewRecorder attaches a Recorder to bus for the lifetime of t.
func NewRecorder(t testing.TB, bus *event.Bus) *Recorder {
	t.Helper()
	r := &Recorder{cond: make(chan struct{}, 1)}
	unsubscribe := bus.SubscribeAll(func(_ context.Context, e event.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		select {
		case r.cond <- struct{}{}:
		default:
		}
	})
	t.Cleanup(unsubscribe)
	return r
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Topic returns the recorded events for topic.
func (r *Recorder) Topic(topic string) []event.Event {
	var out []event.Event
	for _, e := range r.Events() {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// WaitFor blocks until n events on topic were recorded or timeout elapses,
// and returns what was recorded for topic.
func (r *Recorder) WaitFor(topic string, n int, timeout time.Duration) []event.Event {
	deadline := time.After(timeout)
	for {
		if got := r.Topic(topic); len(got) >= n {
			return got
		}
		select {
		case <-r.cond:
		case <-deadline:
			return r.Topic(topic)
		}
	}
}

// Reset clears all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
