package testutil

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/HerbHall/reload/internal/plugin"
)

// Compile-time interface check.
var _ plugin.Host = (*Host)(nil)

// Host is a supervisor stand-in that records restart requests instead of
// signalling processes.
type Host struct {
	dir string

	mu      sync.Mutex
	signals []string
	notify  chan struct{}
}

// NewHost returns a Host rooted at dir.
func NewHost(dir string) *Host {
	return &Host{dir: dir, notify: make(chan struct{}, 1)}
}

// Dir returns the host's root directory.
func (h *Host) Dir() string { return h.dir }

// Resolve joins relative paths onto Dir.
func (h *Host) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(h.dir, path)
}

// RestartWorkers records signal.
func (h *Host) RestartWorkers(signal string) {
	h.mu.Lock()
	h.signals = append(h.signals, signal)
	h.mu.Unlock()
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Signals returns the recorded restart signals in call order.
func (h *Host) Signals() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.signals))
	copy(out, h.signals)
	return out
}

// Restarts returns how many restarts were requested.
func (h *Host) Restarts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.signals)
}

// WaitForRestarts blocks until at least n restarts were requested or
// timeout elapses, and returns the recorded signals.
func (h *Host) WaitForRestarts(n int, timeout time.Duration) []string {
	deadline := time.After(timeout)
	for {
		if got := h.Signals(); len(got) >= n {
			return got
		}
		select {
		case <-h.notify:
		case <-deadline:
			return h.Signals()
		}
	}
}
