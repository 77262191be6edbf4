// Package cluster is a small worker supervisor: it keeps a fixed number of
// copies of a command running, respawns them when they exit, and signals
// them on request. It is the host the reload plugin restarts.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/reload/internal/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Defaults for Config fields left zero.
const (
	DefaultWorkers      = 1
	DefaultRespawnDelay = 250 * time.Millisecond
	DefaultKillTimeout  = 5 * time.Second
)

// WorkerIDEnv is set in every worker's environment to its 1-based slot.
const WorkerIDEnv = "RELOAD_WORKER_ID"

var (
	// ErrUnknownSignal is returned for a signal name the platform cannot
	// deliver.
	ErrUnknownSignal = errors.New("cluster: unknown signal")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("cluster: already started")
)

// Compile-time interface guard.
var _ plugin.Host = (*Supervisor)(nil)

// Config describes the workers to supervise.
type Config struct {
	// Command is the worker argv. An empty command supervises no workers;
	// restart requests are then only logged.
	Command []string
	Workers int
	// Dir is the working directory of the supervisor and its workers, and
	// the base relative watch roots are resolved against. Defaults to the
	// current directory.
	Dir          string
	Env          []string
	RespawnDelay time.Duration
	KillTimeout  time.Duration

	Stdout io.Writer
	Stderr io.Writer

	// Registerer receives the supervisor's metrics. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// WorkerInfo is a snapshot of one worker slot.
type WorkerInfo struct {
	ID        int       `json:"id"`
	PID       int       `json:"pid"`
	Spawns    int       `json:"spawns"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

type worker struct {
	id int

	mu        sync.Mutex
	pid       int
	spawns    int
	startedAt time.Time
}

func (w *worker) info() WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerInfo{ID: w.id, PID: w.pid, Spawns: w.spawns, StartedAt: w.startedAt}
}

type metrics struct {
	spawns  prometheus.Counter
	exits   prometheus.Counter
	signals *prometheus.CounterVec
}

// Supervisor runs and restarts worker processes.
type Supervisor struct {
	cfg     Config
	dir     string
	logger  *zap.Logger
	metrics metrics

	mu      sync.Mutex
	workers []*worker
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New validates cfg and returns a supervisor. Workers are not spawned until
// Start.
func New(cfg Config, logger *zap.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("cluster: invalid worker count %d", cfg.Workers)
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.RespawnDelay <= 0 {
		cfg.RespawnDelay = DefaultRespawnDelay
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	dir := cfg.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Dir, err)
	}

	f := promauto.With(cfg.Registerer)
	return &Supervisor{
		cfg:    cfg,
		dir:    dir,
		logger: logger,
		metrics: metrics{
			spawns: f.NewCounter(prometheus.CounterOpts{
				Namespace: "reload",
				Subsystem: "cluster",
				Name:      "worker_spawns_total",
				Help:      "Worker processes started, including respawns.",
			}),
			exits: f.NewCounter(prometheus.CounterOpts{
				Namespace: "reload",
				Subsystem: "cluster",
				Name:      "worker_exits_total",
				Help:      "Worker processes that exited.",
			}),
			signals: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "reload",
				Subsystem: "cluster",
				Name:      "worker_signals_total",
				Help:      "Signals delivered to worker process groups.",
			}, []string{"signal"}),
		},
	}, nil
}

// Dir returns the supervisor's absolute working directory.
func (s *Supervisor) Dir() string { return s.dir }

// Resolve returns path made absolute against Dir.
func (s *Supervisor) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.dir, path)
}

// Start spawns the workers. They are respawned whenever they exit until
// Stop is called or ctx is done.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	if len(s.cfg.Command) == 0 {
		s.logger.Info("no worker command configured; restarts will only be logged")
		return nil
	}
	if _, err := exec.LookPath(s.cfg.Command[0]); err != nil {
		return fmt.Errorf("worker command: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 1; i <= s.cfg.Workers; i++ {
		w := &worker{id: i}
		s.workers = append(s.workers, w)
		s.wg.Add(1)
		go s.supervise(ctx, w)
	}
	s.logger.Info("cluster started",
		zap.Strings("command", s.cfg.Command),
		zap.Int("workers", s.cfg.Workers),
		zap.String("dir", s.dir),
	)
	return nil
}

// RestartWorkers sends the named signal to every worker. Workers that exit
// are respawned by their supervising goroutine. Failures are logged, never
// returned, so a bad signal name cannot stop the watcher that asked.
func (s *Supervisor) RestartWorkers(signal string) {
	if err := s.Signal(signal); err != nil {
		s.logger.Error("restart failed", zap.String("signal", signal), zap.Error(err))
	}
}

// Signal sends the named signal to every running worker's process group.
func (s *Supervisor) Signal(name string) error {
	name = normalizeSignal(name)
	if err := validSignal(name); err != nil {
		return err
	}

	var errs []error
	for _, info := range s.Workers() {
		if info.PID <= 0 {
			continue
		}
		if err := signalGroup(info.PID, name); err != nil {
			errs = append(errs, fmt.Errorf("worker %d (pid %d): %w", info.ID, info.PID, err))
			continue
		}
		s.metrics.signals.WithLabelValues(name).Inc()
		s.logger.Debug("signalled worker",
			zap.Int("worker", info.ID),
			zap.Int("pid", info.PID),
			zap.String("signal", name),
		)
	}
	return errors.Join(errs...)
}

// Workers returns a snapshot of every worker slot.
func (s *Supervisor) Workers() []WorkerInfo {
	s.mu.Lock()
	workers := make([]*worker, len(s.workers))
	copy(workers, s.workers)
	s.mu.Unlock()

	out := make([]WorkerInfo, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.info())
	}
	return out
}

// Stop terminates the workers: SIGTERM first, then SIGKILL for any still
// running after the kill timeout. Safe to call more than once.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if err := s.signalRunning("SIGTERM"); err != nil {
		s.logger.Debug("terminate workers", zap.Error(err))
	}
	select {
	case <-done:
		s.logger.Info("cluster stopped")
		return nil
	case <-time.After(s.cfg.KillTimeout):
	}

	s.logger.Warn("workers did not exit; killing", zap.Duration("timeout", s.cfg.KillTimeout))
	err := s.signalRunning("SIGKILL")
	<-done
	return err
}

func (s *Supervisor) signalRunning(name string) error {
	var errs []error
	for _, info := range s.Workers() {
		if info.PID > 0 {
			if err := signalGroup(info.PID, name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// supervise keeps one worker slot filled until ctx is done.
func (s *Supervisor) supervise(ctx context.Context, w *worker) {
	defer s.wg.Done()

	for ctx.Err() == nil {
		cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
		cmd.Dir = s.dir
		cmd.Env = append(os.Environ(), s.cfg.Env...)
		cmd.Env = append(cmd.Env, WorkerIDEnv+"="+strconv.Itoa(w.id))
		cmd.Stdout = s.cfg.Stdout
		cmd.Stderr = s.cfg.Stderr
		configureCommand(cmd)

		if err := cmd.Start(); err != nil {
			s.logger.Error("worker spawn failed", zap.Int("worker", w.id), zap.Error(err))
		} else {
			pid := cmd.Process.Pid
			w.mu.Lock()
			w.pid = pid
			w.spawns++
			w.startedAt = time.Now().UTC()
			w.mu.Unlock()
			s.metrics.spawns.Inc()
			// Stop may have cancelled before it could see this pid.
			if ctx.Err() != nil {
				_ = signalGroup(pid, "SIGKILL")
			}
			s.logger.Info("worker started", zap.Int("worker", w.id), zap.Int("pid", pid))

			err := cmd.Wait()

			w.mu.Lock()
			w.pid = 0
			w.mu.Unlock()
			s.metrics.exits.Inc()
			if ctx.Err() != nil {
				return
			}
			s.logger.Info("worker exited",
				zap.Int("worker", w.id),
				zap.Int("pid", pid),
				zap.String("status", exitStatus(err)),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RespawnDelay):
		}
	}
}

func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ProcessState.String()
	}
	return err.Error()
}

// normalizeSignal upper-cases name and adds the SIG prefix if missing.
func normalizeSignal(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name != "" && !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	return name
}
