package reload

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ErrSourceClosed is returned when adding to a closed change source.
var ErrSourceClosed = errors.New("reload: change source closed")

// WatchTarget is a watched file and the modification time last seen for it.
type WatchTarget struct {
	Path    string    `json:"path" yaml:"path"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
}

// Change reports that a target's modification time moved forward.
type Change struct {
	Path     string    `json:"path"`
	Previous time.Time `json:"previous"`
	Current  time.Time `json:"current"`
}

// ChangeSource produces at most one Change per strictly increasing
// modification time of each registered path.
type ChangeSource interface {
	// Start begins delivering changes to emit. It does not block.
	Start(emit func(Change)) error

	// Add registers path. Adding a registered path is a no-op.
	Add(path string) error

	// Remove deregisters path and reports whether it was registered.
	Remove(path string) bool

	// Targets returns a snapshot of the registered targets.
	Targets() []WatchTarget

	// Close stops all watches. Safe to call multiple times.
	Close() error
}

// SourceConfig carries the settings shared by every change source.
type SourceConfig struct {
	Interval        time.Duration
	MaxStatFailures int
	Logger          *zap.Logger
	Metrics         *Metrics

	// OnRemoved is called after a target is dropped for repeated stat
	// failures.
	OnRemoved func(path string)
}

// NewSource returns the change source for backend.
func NewSource(backend string, cfg SourceConfig) (ChangeSource, error) {
	switch backend {
	case BackendPoll, "":
		return NewPoller(cfg), nil
	case BackendNotify:
		return NewNotifier(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func (c *SourceConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

func sortTargets(targets []WatchTarget) []WatchTarget {
	sort.Slice(targets, func(i, j int) bool { return targets[i].Path < targets[j].Path })
	return targets
}
