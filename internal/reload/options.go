package reload

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Change source backends.
const (
	BackendPoll   = "poll"
	BackendNotify = "notify"
)

const (
	DefaultInterval        = 100 * time.Millisecond
	DefaultSignal          = "SIGTERM"
	DefaultMaxStatFailures = 50
)

var (
	ErrInvalidInterval = errors.New("reload: interval must be positive")
	ErrNoExtensions    = errors.New("reload: at least one extension is required")
	ErrUnknownBackend  = errors.New("reload: unknown backend")
	ErrEmptySignal     = errors.New("reload: signal is required")
	ErrAlreadyStarted  = errors.New("reload: already started")
	ErrNotRunning      = errors.New("reload: not running")
)

// DefaultExtensions returns the extensions watched when none are configured.
func DefaultExtensions() []string {
	return []string{".js"}
}

// Options is the watch configuration. It is fixed once the plugin starts.
type Options struct {
	Roots           []string
	Interval        time.Duration
	Extensions      []string
	Signal          string
	Backend         string
	Debounce        time.Duration
	MaxStatFailures int
	Ignore          []string
	FollowSymlinks  bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Interval:        DefaultInterval,
		Extensions:      DefaultExtensions(),
		Signal:          DefaultSignal,
		Backend:         BackendPoll,
		MaxStatFailures: DefaultMaxStatFailures,
		FollowSymlinks:  true,
	}
}

// LoadOptions overlays the keys present in v onto DefaultOptions.
// Durations are given in milliseconds. A zero interval keeps the default.
func LoadOptions(v *viper.Viper) (Options, error) {
	opts := DefaultOptions()
	if v == nil {
		return opts, nil
	}

	if v.IsSet("roots") {
		opts.Roots = v.GetStringSlice("roots")
	}
	if v.IsSet("interval") {
		ms := v.GetInt("interval")
		if ms < 0 {
			return opts, fmt.Errorf("%w: %d", ErrInvalidInterval, ms)
		}
		if ms > 0 {
			opts.Interval = time.Duration(ms) * time.Millisecond
		}
	}
	if v.IsSet("extensions") {
		opts.Extensions = v.GetStringSlice("extensions")
	}
	if v.IsSet("signal") {
		opts.Signal = v.GetString("signal")
	}
	if v.IsSet("backend") {
		opts.Backend = v.GetString("backend")
	}
	if v.IsSet("debounce") {
		opts.Debounce = time.Duration(v.GetInt("debounce")) * time.Millisecond
	}
	if v.IsSet("max_stat_failures") {
		opts.MaxStatFailures = v.GetInt("max_stat_failures")
	}
	if v.IsSet("ignore") {
		opts.Ignore = v.GetStringSlice("ignore")
	}
	if v.IsSet("follow_symlinks") {
		opts.FollowSymlinks = v.GetBool("follow_symlinks")
	}

	opts.normalize()
	return opts, opts.Validate()
}

// Validate reports the first configuration problem found.
func (o Options) Validate() error {
	if o.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, o.Interval)
	}
	if len(o.Extensions) == 0 {
		return ErrNoExtensions
	}
	if strings.TrimSpace(o.Signal) == "" {
		return ErrEmptySignal
	}
	switch o.Backend {
	case BackendPoll, BackendNotify:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, o.Backend)
	}
	return nil
}

func (o *Options) normalize() {
	exts := make([]string, 0, len(o.Extensions))
	seen := make(map[string]bool, len(o.Extensions))
	for _, ext := range o.Extensions {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !seen[ext] {
			seen[ext] = true
			exts = append(exts, ext)
		}
	}
	o.Extensions = exts
	o.Backend = strings.ToLower(strings.TrimSpace(o.Backend))
	if o.Debounce < 0 {
		o.Debounce = 0
	}
	if o.MaxStatFailures < 0 {
		o.MaxStatFailures = 0
	}
}

// Watches reports whether path has one of the configured extensions.
func (o Options) Watches(path string) bool {
	ext := extension(path)
	if ext == "" {
		return false
	}
	for _, want := range o.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

// extension returns the suffix of the final path element starting at its
// last dot. Dotfiles without a further dot (".env") have no extension.
func extension(path string) string {
	base := filepath.Base(path)
	idx := strings.LastIndexByte(base, '.')
	if idx <= 0 {
		return ""
	}
	return base[idx:]
}
