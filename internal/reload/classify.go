package reload

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Kind is the classification of a filesystem entry.
type Kind int

const (
	// KindSkip marks a path that could not be inspected.
	KindSkip Kind = iota
	// KindIgnoreDir marks a directory whose basename is ignored.
	KindIgnoreDir
	// KindRecurse marks a directory to descend into.
	KindRecurse
	// KindFile marks a candidate watch target.
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindIgnoreDir:
		return "ignore-directory"
	case KindRecurse:
		return "recurse"
	case KindFile:
		return "file"
	default:
		return "skip"
	}
}

// Classifier decides what to do with a path. It never returns an error: a
// path that cannot be stat'ed is KindSkip.
type Classifier struct {
	ignore         *IgnoreSet
	followSymlinks bool
	stat           func(string) (fs.FileInfo, error)
	lstat          func(string) (fs.FileInfo, error)
}

// NewClassifier returns a classifier consulting ignore. Symlinked
// directories are followed unless followSymlinks is false.
func NewClassifier(ignore *IgnoreSet, followSymlinks bool) *Classifier {
	return &Classifier{
		ignore:         ignore,
		followSymlinks: followSymlinks,
		stat:           os.Stat,
		lstat:          os.Lstat,
	}
}

// Classify returns the kind of path and, unless the kind is KindSkip, the
// FileInfo it was derived from.
func (c *Classifier) Classify(path string) (Kind, fs.FileInfo) {
	info, err := c.stat(path)
	if err != nil {
		return KindSkip, nil
	}
	if !info.IsDir() {
		return KindFile, info
	}
	if c.ignore.Contains(filepath.Base(path)) {
		return KindIgnoreDir, info
	}
	if !c.followSymlinks {
		if linfo, err := c.lstat(path); err == nil && linfo.Mode()&fs.ModeSymlink != 0 {
			return KindSkip, nil
		}
	}
	return KindRecurse, info
}
