package reload

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/reload/internal/event"
	"github.com/HerbHall/reload/internal/plugin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Trigger turns change notifications into restart requests.
//
// With a zero debounce every change restarts the workers, so two files
// changed in the same interval cause two restarts. A positive debounce
// folds changes that arrive within the window into one restart.
type Trigger struct {
	host     plugin.Host
	signal   string
	debounce time.Duration
	logger   *zap.Logger
	bus      event.Publisher
	metrics  *Metrics
	now      func() time.Time

	restarts atomic.Uint64

	mu        sync.Mutex
	timer     *time.Timer
	gen       uint64
	pending   Change
	coalesced int
	stopped   bool
}

// TriggerConfig configures a Trigger. Only Host and Signal are required.
type TriggerConfig struct {
	Host     plugin.Host
	Signal   string
	Debounce time.Duration
	Logger   *zap.Logger
	Bus      event.Publisher
	Metrics  *Metrics
}

// NewTrigger creates a trigger requesting restarts from cfg.Host.
func NewTrigger(cfg TriggerConfig) *Trigger {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		host:     cfg.Host,
		signal:   cfg.Signal,
		debounce: cfg.Debounce,
		logger:   logger,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Notify handles one detected change.
func (t *Trigger) Notify(c Change) {
	if t.metrics != nil {
		t.metrics.Changes.Inc()
	}
	t.publish(TopicFileChanged, c)

	if t.debounce <= 0 {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			t.fire(c, 0)
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.pending = c
	if t.timer != nil {
		t.timer.Stop()
		t.coalesced++
		if t.metrics != nil {
			t.metrics.Coalesced.Inc()
		}
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.debounce, func() { t.flush(gen) })
}

// Restarts returns how many restarts this trigger has requested.
func (t *Trigger) Restarts() uint64 {
	return t.restarts.Load()
}

// Stop discards any pending debounced restart. Later notifications are
// ignored.
func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// flush fires the pending restart unless a newer change rescheduled it.
func (t *Trigger) flush(gen uint64) {
	t.mu.Lock()
	if t.stopped || t.timer == nil || gen != t.gen {
		t.mu.Unlock()
		return
	}
	c := t.pending
	coalesced := t.coalesced
	t.timer = nil
	t.pending = Change{}
	t.coalesced = 0
	t.mu.Unlock()

	t.fire(c, coalesced)
}

func (t *Trigger) fire(c Change, coalesced int) {
	req := RestartRequest{
		ID:          uuid.NewString(),
		Signal:      t.signal,
		Path:        c.Path,
		Coalesced:   coalesced,
		RequestedAt: t.now(),
	}

	t.logger.Info("changed",
		zap.String("path", c.Path),
		zap.String("signal", t.signal),
		zap.String("request_id", req.ID),
	)
	t.host.RestartWorkers(t.signal)
	t.restarts.Add(1)

	if t.metrics != nil {
		t.metrics.Restarts.WithLabelValues(t.signal).Inc()
	}
	t.publish(TopicRestartRequested, req)
}

// publish delivers synchronously so subscribers see a change before the
// restart it caused.
func (t *Trigger) publish(topic string, payload any) {
	if t.bus == nil {
		return
	}
	err := t.bus.Publish(context.Background(), event.Event{
		Topic:   topic,
		Source:  pluginName,
		Payload: payload,
	})
	if err != nil {
		t.logger.Debug("event publish failed", zap.String("topic", topic), zap.Error(err))
	}
}
