package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Base is a fixed modification time used by file fixtures. Tests move
// mtimes explicitly so they do not depend on filesystem timestamp
// granularity.
var Base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// WriteTree creates each slash-separated relative path under root with
// placeholder content and modification time Base.
func WriteTree(t testing.TB, root string, paths ...string) {
	t.Helper()
	for _, rel := range paths {
		WriteFile(t, filepath.Join(root, filepath.FromSlash(rel)), "// "+rel+"\n")
	}
}

// WriteFile writes content to path, creating parent directories, and sets
// its modification time to Base.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	SetModTime(t, path, Base)
}

// SetModTime sets both access and modification time of path.
func SetModTime(t testing.TB, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// Touch moves the modification time of path d past its current value.
func Touch(t testing.TB, path string, d time.Duration) time.Time {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	next := info.ModTime().Add(d)
	SetModTime(t, path, next)
	return next
}
