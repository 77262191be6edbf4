package reload

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Notifier is a change source driven by OS filesystem events. It watches
// the parent directory of every target so atomic saves (write to a temp
// file, rename over the target) are still seen. Targets reported missing
// are re-checked every interval until they reappear or are deregistered.
type Notifier struct {
	cfg     SourceConfig
	stat    func(string) (fs.FileInfo, error)
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	targets map[string]*notifyTarget
	dirs    map[string]int
	emit    func(Change)
	started bool
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

type notifyTarget struct {
	modTime  time.Time
	failures int
}

var _ ChangeSource = (*Notifier)(nil)

// NewNotifier creates an fsnotify-backed change source.
func NewNotifier(cfg SourceConfig) (*Notifier, error) {
	cfg.defaults()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Notifier{
		cfg:     cfg,
		stat:    os.Stat,
		watcher: watcher,
		targets: make(map[string]*notifyTarget),
		dirs:    make(map[string]int),
		done:    make(chan struct{}),
	}, nil
}

// Start begins consuming filesystem events.
func (n *Notifier) Start(emit func(Change)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrSourceClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}
	n.emit = emit
	n.started = true
	n.wg.Add(1)
	go n.run()
	return nil
}

// Add registers path and watches its parent directory.
func (n *Notifier) Add(path string) error {
	path = filepath.Clean(path)
	var modTime time.Time
	if info, err := n.stat(path); err == nil {
		modTime = info.ModTime()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrSourceClosed
	}
	if _, ok := n.targets[path]; ok {
		return nil
	}

	dir := filepath.Dir(path)
	if n.dirs[dir] == 0 {
		if err := n.watcher.Add(dir); err != nil {
			return err
		}
	}
	n.dirs[dir]++
	n.targets[path] = &notifyTarget{modTime: modTime}
	if n.cfg.Metrics != nil {
		n.cfg.Metrics.Targets.Inc()
	}
	return nil
}

// Remove deregisters path, dropping the directory watch with its last target.
func (n *Notifier) Remove(path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.removeLocked(filepath.Clean(path))
}

// Targets returns the registered targets sorted by path.
func (n *Notifier) Targets() []WatchTarget {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]WatchTarget, 0, len(n.targets))
	for path, t := range n.targets {
		out = append(out, WatchTarget{Path: path, ModTime: t.modTime})
	}
	return sortTargets(out)
}

// Close stops event processing and releases the OS watches.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	for path := range n.targets {
		n.removeLocked(path)
	}
	close(n.done)
	n.mu.Unlock()

	err := n.watcher.Close()
	n.wg.Wait()
	return err
}

func (n *Notifier) removeLocked(path string) bool {
	if _, ok := n.targets[path]; !ok {
		return false
	}
	delete(n.targets, path)
	if n.cfg.Metrics != nil {
		n.cfg.Metrics.Targets.Dec()
	}

	dir := filepath.Dir(path)
	n.dirs[dir]--
	if n.dirs[dir] <= 0 {
		delete(n.dirs, dir)
		if !n.closed {
			if err := n.watcher.Remove(dir); err != nil {
				n.cfg.Logger.Debug("directory unwatch failed", zap.String("path", dir), zap.Error(err))
			}
		}
	}
	return true
}

func (n *Notifier) run() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.done:
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			n.handleEvent(event)
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.cfg.Logger.Warn("filesystem watcher error", zap.Error(err))
		case <-ticker.C:
			n.sweep()
		}
	}
}

func (n *Notifier) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	n.mu.Lock()
	_, ok := n.targets[path]
	var affected []string
	if !ok && n.dirs[path] > 0 && event.Has(fsnotify.Remove|fsnotify.Rename) {
		// A watched directory went away; its targets may not get events
		// of their own.
		for target := range n.targets {
			if filepath.Dir(target) == path {
				affected = append(affected, target)
			}
		}
	}
	n.mu.Unlock()

	if ok {
		// Every op ends in a stat: Write/Create/Chmod may move the mtime,
		// and Remove/Rename mark the target missing until a Create or the
		// sweep sees it again.
		n.check(path)
	}
	for _, target := range affected {
		n.check(target)
	}
}

// sweep re-stats targets that were missing at their last check.
func (n *Notifier) sweep() {
	n.mu.Lock()
	missing := make([]string, 0)
	for path, t := range n.targets {
		if t.failures > 0 {
			missing = append(missing, path)
		}
	}
	n.mu.Unlock()

	for _, path := range missing {
		n.check(path)
	}
}

// check stats path and emits a Change when its modification time moved
// forward since the last observation.
func (n *Notifier) check(path string) {
	info, err := n.stat(path)

	n.mu.Lock()
	t, ok := n.targets[path]
	if !ok || n.closed {
		n.mu.Unlock()
		return
	}

	if err != nil {
		t.failures++
		failures := t.failures
		drop := n.cfg.MaxStatFailures > 0 && failures >= n.cfg.MaxStatFailures
		if drop {
			n.removeLocked(path)
		}
		n.mu.Unlock()

		if n.cfg.Metrics != nil {
			n.cfg.Metrics.StatFailures.Inc()
		}
		n.cfg.Logger.Debug("stat failed", zap.String("path", path), zap.Int("failures", failures), zap.Error(err))
		if drop {
			n.dropped(path)
		}
		return
	}

	recovered := t.failures > 0
	t.failures = 0
	prev := t.modTime
	cur := info.ModTime()
	t.modTime = cur
	emit := n.emit
	if recovered {
		// The parent may have been deleted and recreated, which drops the
		// OS watch on it.
		dir := filepath.Dir(path)
		if err := n.watcher.Add(dir); err != nil {
			n.cfg.Logger.Debug("directory rewatch failed", zap.String("path", dir), zap.Error(err))
		}
	}
	n.mu.Unlock()

	if cur.After(prev) && emit != nil {
		emit(Change{Path: path, Previous: prev, Current: cur})
	}
	if recovered {
		// Catch a modification made before the watch was back in place.
		n.check(path)
	}
}

func (n *Notifier) dropped(path string) {
	if n.cfg.Metrics != nil {
		n.cfg.Metrics.Deregistered.Inc()
	}
	n.cfg.Logger.Warn("watch target removed after repeated stat failures",
		zap.String("path", path),
		zap.Int("max_stat_failures", n.cfg.MaxStatFailures),
	)
	if n.cfg.OnRemoved != nil {
		n.cfg.OnRemoved(path)
	}
}
