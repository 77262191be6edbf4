package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/HerbHall/reload/internal/plugin"
	"github.com/HerbHall/reload/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the supervisor's plugins over HTTP.
type Server struct {
	httpServer *http.Server
	registry   *plugin.Registry
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a new Server instance. Metrics are served from gatherer; a nil
// gatherer disables /metrics.
func New(addr string, reg *plugin.Registry, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		// No WriteTimeout: plugin event streams are long-lived.
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		registry: reg,
		gatherer: gatherer,
		logger:   logger,
		mux:      mux,
	}

	s.registerCoreRoutes()
	s.mountPluginRoutes()

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.HandleFunc("GET /api/v1/plugins/{name}", s.handlePlugin)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}/.
func (s *Server) mountPluginRoutes() {
	allRoutes := s.registry.AllRoutes()
	for pluginName, routes := range allRoutes {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Serve serves HTTP requests on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type pluginResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Enabled bool   `json:"enabled"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Reload-Version", version.Short())
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "reload",
		"version": version.Map(),
	})
}

// handlePlugins returns the list of registered plugins.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	plugins := s.registry.All()
	info := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		info = append(info, s.describe(p))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Reload-Version", version.Short())
	json.NewEncoder(w).Encode(info)
}

// handlePlugin returns a single registered plugin.
func (s *Server) handlePlugin(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	p, ok := s.registry.Get(name)
	if !ok {
		NotFound(w, fmt.Sprintf("plugin %q is not registered", name), r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.describe(p))
}

func (s *Server) describe(p plugin.Plugin) pluginResponse {
	return pluginResponse{
		Name:    p.Name(),
		Version: p.Version(),
		Enabled: s.registry.Enabled(p.Name()),
	}
}
