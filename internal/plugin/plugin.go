package plugin

import (
	"context"
	"net/http"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Route represents an HTTP route exposed by a plugin.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Host is the supervisor handle a plugin is attached to. The supervisor owns
// worker processes; plugins only ask it to act.
type Host interface {
	// Dir returns the supervisor's configured root directory.
	Dir() string

	// Resolve returns path as an absolute path relative to Dir.
	Resolve(path string) string

	// RestartWorkers asks the supervisor to restart every managed worker
	// using the named signal (e.g., "SIGTERM"). Fire-and-forget.
	RestartWorkers(signal string)
}

// Plugin defines the interface that all supervisor plugins must implement.
type Plugin interface {
	// Name returns the plugin's unique identifier (e.g., "reload").
	Name() string

	// Version returns the plugin's semantic version.
	Version() string

	// Init initializes the plugin with configuration, logger, and the
	// supervisor it is attached to.
	Init(config *viper.Viper, logger *zap.Logger, host Host) error

	// Start begins the plugin's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the plugin.
	Stop() error

	// Routes returns the HTTP routes this plugin exposes.
	Routes() []Route
}
