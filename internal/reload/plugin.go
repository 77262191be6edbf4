package reload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/reload/internal/event"
	"github.com/HerbHall/reload/internal/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const pluginName = "reload"

// Compile-time interface guard.
var _ plugin.Plugin = (*Plugin)(nil)

// Plugin restarts the supervisor's workers when watched files change.
type Plugin struct {
	logger *zap.Logger
	config *viper.Viper
	host   plugin.Host

	roots      []string
	opts       Options
	ignore     *IgnoreSet
	bus        *event.Bus
	registerer prometheus.Registerer
	metrics    *Metrics

	mu        sync.Mutex
	source    ChangeSource
	trigger   *Trigger
	resolved  []string
	started   bool
	stopped   bool
	startedAt time.Time
	done      chan struct{}
}

// Option customizes a Plugin at construction.
type Option func(*Plugin)

// WithRoots sets the roots to watch, overriding the configured roots.
func WithRoots(roots ...string) Option {
	return func(p *Plugin) { p.roots = roots }
}

// WithIgnore replaces the process-wide DefaultIgnore with set.
func WithIgnore(set *IgnoreSet) Option {
	return func(p *Plugin) { p.ignore = set }
}

// WithBus publishes change and restart events on bus.
func WithBus(bus *event.Bus) Option {
	return func(p *Plugin) { p.bus = bus }
}

// WithRegisterer registers the plugin's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Plugin) { p.registerer = reg }
}

// New creates a new reload plugin instance.
func New(opts ...Option) *Plugin {
	p := &Plugin{
		ignore: DefaultIgnore,
		opts:   DefaultOptions(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Name() string    { return pluginName }
func (p *Plugin) Version() string { return "0.1.0" }

// Init reads the watch options and attaches the plugin to host.
func (p *Plugin) Init(config *viper.Viper, logger *zap.Logger, host plugin.Host) error {
	if host == nil {
		return errors.New("reload: host is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := LoadOptions(config)
	if err != nil {
		return err
	}
	if len(p.roots) > 0 {
		opts.Roots = p.roots
	}

	p.config = config
	p.logger = logger
	p.host = host
	p.opts = opts
	if p.bus == nil {
		p.bus = event.NewBus(logger)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(p.registerer)
	}
	if len(opts.Ignore) > 0 {
		p.ignore.Add(opts.Ignore...)
	}

	p.logger.Info("reload module initialized",
		zap.Strings("roots", opts.Roots),
		zap.Duration("interval", opts.Interval),
		zap.Strings("extensions", opts.Extensions),
		zap.String("signal", opts.Signal),
		zap.String("backend", opts.Backend),
	)
	return nil
}

// Start traverses the roots and begins watching every qualifying file.
func (p *Plugin) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.host == nil {
		return errors.New("reload: Start called before Init")
	}
	if p.started {
		return ErrAlreadyStarted
	}

	source, err := NewSource(p.opts.Backend, SourceConfig{
		Interval:        p.opts.Interval,
		MaxStatFailures: p.opts.MaxStatFailures,
		Logger:          p.logger,
		Metrics:         p.metrics,
		OnRemoved:       p.targetRemoved,
	})
	if err != nil {
		return fmt.Errorf("create %s source: %w", p.opts.Backend, err)
	}

	trigger := NewTrigger(TriggerConfig{
		Host:     p.host,
		Signal:   p.opts.Signal,
		Debounce: p.opts.Debounce,
		Logger:   p.logger,
		Bus:      p.bus,
		Metrics:  p.metrics,
	})
	if err := source.Start(trigger.Notify); err != nil {
		source.Close()
		return err
	}

	p.source = source
	p.trigger = trigger
	p.resolved = p.resolveRoots()
	p.started = true
	p.startedAt = time.Now().UTC()

	added, _ := p.syncLocked()
	p.logger.Info("reload module started",
		zap.Strings("roots", p.resolved),
		zap.Int("targets", added),
	)

	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.done:
		}
	}()
	return nil
}

// Stop cancels every watch and any pending restart. Safe to call more than
// once.
func (p *Plugin) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	close(p.done)

	p.trigger.Stop()
	err := p.source.Close()
	p.logger.Info("reload module stopped", zap.Uint64("restarts", p.trigger.Restarts()))
	return err
}

// Rescan traverses the roots again, watching new files and dropping targets
// that are no longer reachable (for example under a newly ignored
// directory). It returns how many targets were added and removed.
func (p *Plugin) Rescan() (added, removed int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.stopped {
		return 0, 0, ErrNotRunning
	}
	added, removed = p.syncLocked()
	p.logger.Info("rescan complete", zap.Int("added", added), zap.Int("removed", removed))
	return added, removed, nil
}

// Ignore returns the ignore-list consulted by this plugin.
func (p *Plugin) Ignore() *IgnoreSet {
	return p.ignore
}

// Bus returns the bus change and restart events are published on.
func (p *Plugin) Bus() *event.Bus {
	return p.bus
}

// Options returns the options in effect.
func (p *Plugin) Options() Options {
	return p.opts
}

// Targets returns a snapshot of the watched files.
func (p *Plugin) Targets() []WatchTarget {
	p.mu.Lock()
	source := p.source
	p.mu.Unlock()
	if source == nil {
		return nil
	}
	return source.Targets()
}

// resolveRoots resolves configured roots through the host, defaulting to
// the host's directory.
func (p *Plugin) resolveRoots() []string {
	if len(p.opts.Roots) == 0 {
		return []string{p.host.Dir()}
	}
	out := make([]string, 0, len(p.opts.Roots))
	for _, root := range p.opts.Roots {
		out = append(out, p.host.Resolve(root))
	}
	return out
}

// syncLocked makes the source's targets match a fresh traversal.
func (p *Plugin) syncLocked() (added, removed int) {
	classifier := NewClassifier(p.ignore, p.opts.FollowSymlinks)
	traverser := NewTraverser(classifier, p.logger, p.metrics)

	want := make(map[string]bool)
	traverser.Walk(p.resolved, func(path string) {
		if !p.opts.Watches(path) {
			return
		}
		want[path] = true
	})

	have := make(map[string]bool)
	for _, t := range p.source.Targets() {
		have[t.Path] = true
	}

	for path := range want {
		if have[path] {
			continue
		}
		if err := p.source.Add(path); err != nil {
			p.logger.Warn("watch add failed", zap.String("path", path), zap.Error(err))
			continue
		}
		added++
	}
	for path := range have {
		if !want[path] && p.source.Remove(path) {
			removed++
		}
	}
	return added, removed
}

func (p *Plugin) targetRemoved(path string) {
	p.bus.PublishAsync(context.Background(), event.Event{
		Topic:   TopicTargetRemoved,
		Source:  pluginName,
		Payload: TargetRemovedEvent{Path: path},
	})
}

func (p *Plugin) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/targets", Handler: p.handleTargets},
		{Method: "GET", Path: "/status", Handler: p.handleStatus},
		{Method: "POST", Path: "/ignore", Handler: p.handleIgnore},
		{Method: "POST", Path: "/rescan", Handler: p.handleRescan},
		{Method: "GET", Path: "/events", Handler: p.handleEvents},
	}
}
