package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/HerbHall/reload/internal/config"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Registry manages the lifecycle of all registered plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
	enabled map[string]bool
	logger  *zap.Logger
}

// NewRegistry creates a new plugin registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		plugins: make(map[string]Plugin),
		enabled: make(map[string]bool),
		logger:  logger,
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if name == "" {
		return errors.New("plugin name is required")
	}
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}

	r.plugins[name] = p
	r.order = append(r.order, name)
	r.logger.Info("plugin registered", zap.String("name", name), zap.String("version", p.Version()))
	return nil
}

// InitAll initializes all registered plugins with their configuration and
// attaches them to host. A plugin is enabled unless
// plugins.<name>.enabled is explicitly false.
func (r *Registry) InitAll(cfg *viper.Viper, host Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg == nil {
		cfg = viper.New()
	}

	for _, name := range r.order {
		p := r.plugins[name]

		key := "plugins." + name + ".enabled"
		if cfg.IsSet(key) && !cfg.GetBool(key) {
			r.logger.Info("plugin disabled, skipping", zap.String("name", name))
			continue
		}

		pluginConfig := config.Subtree(cfg, "plugins."+name)

		r.logger.Info("initializing plugin", zap.String("name", name))
		if err := p.Init(pluginConfig, r.logger.Named(name), host); err != nil {
			return fmt.Errorf("failed to initialize plugin %q: %w", name, err)
		}
		r.enabled[name] = true
	}
	return nil
}

// StartAll starts all initialized plugins. If one fails, the plugins
// already started are stopped in reverse order before the error returns.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	started := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if !r.enabled[name] {
			continue
		}
		p := r.plugins[name]
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := p.Start(ctx); err != nil {
			r.stop(started)
			return fmt.Errorf("failed to start plugin %q: %w", name, err)
		}
		started = append(started, name)
	}
	return nil
}

// StopAll stops all plugins in reverse order.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if r.enabled[name] {
			enabled = append(enabled, name)
		}
	}
	r.stop(enabled)
}

// stop stops the named plugins in reverse order. Callers hold r.mu.
func (r *Registry) stop(names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := r.plugins[name].Stop(); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns all registered plugins in registration order.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.plugins[name])
	}
	return result
}

// Enabled reports whether the named plugin was initialized by InitAll.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

// AllRoutes returns all routes from all enabled plugins.
func (r *Registry) AllRoutes() map[string][]Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]Route)
	for _, name := range r.order {
		if !r.enabled[name] {
			continue
		}
		p := r.plugins[name]
		if pr := p.Routes(); len(pr) > 0 {
			routes[name] = pr
		}
	}
	return routes
}
