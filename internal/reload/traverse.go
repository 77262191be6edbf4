package reload

import (
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Traverser expands root paths into candidate watch targets.
type Traverser struct {
	classifier *Classifier
	logger     *zap.Logger
	metrics    *Metrics
	readDir    func(string) ([]os.DirEntry, error)
}

// NewTraverser returns a traverser using classifier. logger and metrics may
// be nil.
func NewTraverser(classifier *Classifier, logger *zap.Logger, metrics *Metrics) *Traverser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Traverser{
		classifier: classifier,
		logger:     logger,
		metrics:    metrics,
		readDir:    os.ReadDir,
	}
}

// Walk calls visit for every file reachable from roots, depth first.
// Roots must already be absolute. Unreadable paths are skipped and logged;
// Walk never fails.
func (t *Traverser) Walk(roots []string, visit func(path string)) {
	for _, root := range roots {
		t.walk(root, nil, true, visit)
	}
}

// Collect returns every file reachable from roots.
func (t *Traverser) Collect(roots []string) []string {
	var files []string
	t.Walk(roots, func(path string) {
		files = append(files, path)
	})
	return files
}

func (t *Traverser) walk(path string, ancestors []fs.FileInfo, root bool, visit func(string)) {
	kind, info := t.classifier.Classify(path)
	switch kind {
	case KindSkip:
		t.skip(skipStat)
		if root {
			t.logger.Warn("watch root unavailable", zap.String("path", path))
		} else {
			t.logger.Debug("skipping unreadable path", zap.String("path", path))
		}
	case KindIgnoreDir:
		t.skip(skipIgnored)
		t.logger.Debug("skipping ignored directory", zap.String("path", path))
	case KindFile:
		visit(path)
	case KindRecurse:
		for _, a := range ancestors {
			if os.SameFile(a, info) {
				t.skip(skipCycle)
				t.logger.Warn("skipping directory cycle", zap.String("path", path))
				return
			}
		}
		entries, err := t.readDir(path)
		if err != nil {
			t.skip(skipReadDir)
			t.logger.Warn("directory read failed", zap.String("path", path), zap.Error(err))
			return
		}
		// Copy so siblings do not share a backing array.
		next := make([]fs.FileInfo, len(ancestors), len(ancestors)+1)
		copy(next, ancestors)
		next = append(next, info)
		for _, entry := range entries {
			t.walk(filepath.Join(path, entry.Name()), next, false, visit)
		}
	}
}

func (t *Traverser) skip(reason string) {
	if t.metrics != nil {
		t.metrics.TraversalSkips.WithLabelValues(reason).Inc()
	}
}
