package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/reload/internal/cluster"
	"github.com/HerbHall/reload/internal/config"
	"github.com/HerbHall/reload/internal/plugin"
	"github.com/HerbHall/reload/internal/reload"
	"github.com/HerbHall/reload/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- command args...]",
	Short: "Run workers and restart them on file changes",
	Long: `Run starts the configured number of workers and watches the roots for
changes. The worker command comes from cluster.command or from the
arguments after --, for example:

  reload run --root lib --signal SIGHUP -- node server.js`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringSlice("root", nil, "watch root, relative to the working directory (repeatable)")
	f.StringSlice("ext", nil, "file extension to watch (repeatable)")
	f.String("signal", "", "signal sent to workers on change")
	f.Int("interval", 0, "poll interval in milliseconds")
	f.String("backend", "", "change source: poll or notify")
	f.Int("debounce", 0, "coalesce changes within this many milliseconds")
	f.Int("workers", 0, "number of workers")
	f.String("dir", "", "working directory of the workers")
	f.String("addr", "", "HTTP listen address (host:port); empty keeps server.host/server.port")
	f.Bool("no-server", false, "disable the HTTP server")
}

// flagKeys maps run flags onto configuration keys.
var flagKeys = map[string]string{
	"root":     "plugins.reload.roots",
	"ext":      "plugins.reload.extensions",
	"signal":   "plugins.reload.signal",
	"interval": "plugins.reload.interval",
	"backend":  "plugins.reload.backend",
	"debounce": "plugins.reload.debounce",
	"workers":  "cluster.workers",
	"dir":      "cluster.dir",
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := loadRunConfig(cmd, args)
	if err != nil {
		return err
	}
	if file := cfg.File(); file != "" {
		logger.Info("configuration loaded", zap.String("file", file))
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cc := cfg.Cluster()
	supervisor, err := cluster.New(cluster.Config{
		Command:      cc.Command,
		Workers:      cc.Workers,
		Dir:          cc.Dir,
		Env:          cc.Env,
		RespawnDelay: cc.RespawnDelay,
		KillTimeout:  cc.KillTimeout,
		Registerer:   metrics,
	}, logger.Named("cluster"))
	if err != nil {
		return err
	}

	registry := plugin.NewRegistry(logger)
	if err := registry.Register(reload.New(reload.WithRegisterer(metrics))); err != nil {
		return err
	}
	if err := registry.InitAll(cfg.Viper(), supervisor); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := supervisor.Start(ctx); err != nil {
		return err
	}
	// StartAll stops the plugins it already started when one fails.
	if err := registry.StartAll(ctx); err != nil {
		supervisor.Stop()
		return err
	}

	var srv *server.Server
	addr := cfg.Server().Addr()
	if noServer, _ := cmd.Flags().GetBool("no-server"); noServer {
		addr = ""
	}
	if addr != "" {
		srv = server.New(addr, registry, metrics, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("server error", zap.Error(err))
				stop()
			}
		}()
	}

	logger.Info("reload ready", zap.String("dir", supervisor.Dir()), zap.String("addr", addr))
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	registry.StopAll()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	if err := supervisor.Stop(); err != nil {
		logger.Error("cluster shutdown error", zap.Error(err))
	}
	logger.Info("reload stopped")
	return nil
}

// loadRunConfig loads the config file and applies explicitly set flags and
// the worker command from args over it.
func loadRunConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	for name, key := range flagKeys {
		if !flags.Changed(name) {
			continue
		}
		switch flags.Lookup(name).Value.Type() {
		case "stringSlice":
			v, _ := flags.GetStringSlice(name)
			cfg.Set(key, v)
		case "int":
			v, _ := flags.GetInt(name)
			cfg.Set(key, v)
		default:
			v, _ := flags.GetString(name)
			cfg.Set(key, v)
		}
	}
	if flags.Changed("addr") {
		addr, _ := flags.GetString("addr")
		host, port, err := splitAddr(addr)
		if err != nil {
			return nil, err
		}
		cfg.Set("server.host", host)
		cfg.Set("server.port", port)
	}
	if len(args) > 0 {
		cfg.Set("cluster.command", args)
	}
	return cfg, nil
}

func splitAddr(addr string) (host, port string, err error) {
	if addr == "" {
		return "", "", nil
	}
	host, port, err = net.SplitHostPort(addr)
	if err != nil {
		return "", "", fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	return host, port, nil
}
