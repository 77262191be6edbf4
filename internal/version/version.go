// Package version reports which build of reload is running. Release builds
// set the variables with -ldflags; other builds fall back to the module and
// VCS information the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var (
	resolveOnce sync.Once
	dirty       bool
)

// resolve fills unset variables from the embedded build info.
func resolve() {
	resolveOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			Version = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if GitCommit == "unknown" && len(s.Value) >= 12 {
					GitCommit = s.Value[:12]
				}
			case "vcs.time":
				if BuildDate == "unknown" {
					BuildDate = s.Value
				}
			case "vcs.modified":
				dirty = s.Value == "true"
			}
		}
	})
}

// Info returns a formatted version string suitable for --version output.
func Info() string {
	resolve()
	commit := GitCommit
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("reload %s (commit: %s, built: %s, go: %s, %s/%s)",
		Version, commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version string (e.g., "0.1.0" or "dev").
func Short() string {
	resolve()
	return Version
}

// Map returns version info as a map for JSON serialization.
func Map() map[string]string {
	resolve()
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"dirty":      fmt.Sprint(dirty),
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
