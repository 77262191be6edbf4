package reload

import (
	"context"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller samples each target's modification time on its own ticker.
type Poller struct {
	cfg  SourceConfig
	stat func(string) (fs.FileInfo, error)

	mu      sync.Mutex
	watches map[string]*pollWatch
	emit    func(Change)
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// pollWatch is the state of a single target. Only its goroutine and
// snapshot readers touch it, never another target's watch.
type pollWatch struct {
	path     string
	cancel   context.CancelFunc
	mu       sync.Mutex
	modTime  time.Time
	failures int
}

var _ ChangeSource = (*Poller)(nil)

// NewPoller creates a polling change source.
func NewPoller(cfg SourceConfig) *Poller {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		cfg:     cfg,
		stat:    os.Stat,
		watches: make(map[string]*pollWatch),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches a ticker for every target added so far; later targets get
// theirs on Add.
func (p *Poller) Start(emit func(Change)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrSourceClosed
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.emit = emit
	p.started = true
	for _, w := range p.watches {
		p.launchLocked(w)
	}
	return nil
}

// Add registers path, recording its current modification time. A path that
// cannot be stat'ed is registered with a zero time, so its later appearance
// counts as a change.
func (p *Poller) Add(path string) error {
	var modTime time.Time
	if info, err := p.stat(path); err == nil {
		modTime = info.ModTime()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrSourceClosed
	}
	if _, ok := p.watches[path]; ok {
		return nil
	}
	w := &pollWatch{path: path, modTime: modTime}
	p.watches[path] = w
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.Targets.Inc()
	}
	if p.started {
		p.launchLocked(w)
	}
	return nil
}

// Remove cancels the ticker for path.
func (p *Poller) Remove(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(path)
}

// Targets returns the registered targets sorted by path.
func (p *Poller) Targets() []WatchTarget {
	p.mu.Lock()
	watches := make([]*pollWatch, 0, len(p.watches))
	for _, w := range p.watches {
		watches = append(watches, w)
	}
	p.mu.Unlock()

	out := make([]WatchTarget, 0, len(watches))
	for _, w := range watches {
		w.mu.Lock()
		out = append(out, WatchTarget{Path: w.path, ModTime: w.modTime})
		w.mu.Unlock()
	}
	return sortTargets(out)
}

// Close cancels every ticker and waits for the goroutines to exit.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for path := range p.watches {
		p.removeLocked(path)
	}
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Poller) removeLocked(path string) bool {
	w, ok := p.watches[path]
	if !ok {
		return false
	}
	delete(p.watches, path)
	if w.cancel != nil {
		w.cancel()
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.Targets.Dec()
	}
	return true
}

func (p *Poller) launchLocked(w *pollWatch) {
	ctx, cancel := context.WithCancel(p.ctx)
	w.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx, w)
}

func (p *Poller) run(ctx context.Context, w *pollWatch) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			change, ok, keep := p.sample(w)
			if !keep {
				p.deregister(w)
				return
			}
			if ok && ctx.Err() == nil {
				p.emit(change)
			}
		}
	}
}

// sample stats w once. It returns the change to emit, whether there is one,
// and whether the watch should stay registered.
func (p *Poller) sample(w *pollWatch) (Change, bool, bool) {
	info, err := p.stat(w.path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.failures++
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.StatFailures.Inc()
		}
		p.cfg.Logger.Debug("stat failed",
			zap.String("path", w.path),
			zap.Int("failures", w.failures),
			zap.Error(err),
		)
		if p.cfg.MaxStatFailures > 0 && w.failures >= p.cfg.MaxStatFailures {
			return Change{}, false, false
		}
		return Change{}, false, true
	}

	w.failures = 0
	prev := w.modTime
	cur := info.ModTime()
	w.modTime = cur
	if cur.After(prev) {
		return Change{Path: w.path, Previous: prev, Current: cur}, true, true
	}
	return Change{}, false, true
}

func (p *Poller) deregister(w *pollWatch) {
	p.mu.Lock()
	// The path may have been removed and re-added meanwhile.
	current, ok := p.watches[w.path]
	removed := ok && current == w && p.removeLocked(w.path)
	p.mu.Unlock()

	if !removed {
		return
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.Deregistered.Inc()
	}
	p.cfg.Logger.Warn("watch target removed after repeated stat failures",
		zap.String("path", w.path),
		zap.Int("max_stat_failures", p.cfg.MaxStatFailures),
	)
	if p.cfg.OnRemoved != nil {
		p.cfg.OnRemoved(w.path)
	}
}
