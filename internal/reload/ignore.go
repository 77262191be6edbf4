package reload

import (
	"sort"
	"sync"
)

// DefaultIgnoreNames are the directory basenames skipped out of the box.
var DefaultIgnoreNames = []string{"node_modules", "support", "test", "bin"}

// DefaultIgnore is the process-wide ignore-list. Plugins use it unless they
// are given their own set; callers may extend it at any time.
var DefaultIgnore = NewIgnoreSet(DefaultIgnoreNames...)

// IgnoreSet is a set of directory basenames excluded from traversal.
// It only grows, so readers may see a slightly stale snapshot.
type IgnoreSet struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewIgnoreSet returns a set holding names.
func NewIgnoreSet(names ...string) *IgnoreSet {
	s := &IgnoreSet{names: make(map[string]struct{}, len(names))}
	s.Add(names...)
	return s
}

// Add inserts names. Adding a name twice has no further effect.
func (s *IgnoreSet) Add(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if name == "" {
			continue
		}
		s.names[name] = struct{}{}
	}
}

// Contains reports whether name is ignored.
func (s *IgnoreSet) Contains(name string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[name]
	return ok
}

// Names returns the ignored basenames in sorted order.
func (s *IgnoreSet) Names() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of ignored basenames.
func (s *IgnoreSet) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}

// Clone returns an independent copy of s.
func (s *IgnoreSet) Clone() *IgnoreSet {
	return NewIgnoreSet(s.Names()...)
}
