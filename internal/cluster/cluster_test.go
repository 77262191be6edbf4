package cluster

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/HerbHall/reload/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	cfg.Stdout = io.Discard
	cfg.Stderr = io.Discard
	if cfg.RespawnDelay == 0 {
		cfg.RespawnDelay = 10 * time.Millisecond
	}
	if cfg.KillTimeout == 0 {
		cfg.KillTimeout = 2 * time.Second
	}
	s, err := New(cfg, testutil.Logger(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("worker tests use /bin/sh")
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func pids(s *Supervisor) []int {
	var out []int
	for _, w := range s.Workers() {
		out = append(out, w.PID)
	}
	return out
}

func allRunning(s *Supervisor) bool {
	workers := s.Workers()
	if len(workers) == 0 {
		return false
	}
	for _, w := range workers {
		if w.PID <= 0 {
			return false
		}
	}
	return true
}

func TestNewDefaults(t *testing.T) {
	s, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.cfg.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want %d", s.cfg.Workers, DefaultWorkers)
	}
	if !filepath.IsAbs(s.Dir()) {
		t.Errorf("Dir() = %q, want absolute", s.Dir())
	}

	if _, err := New(Config{Workers: -1}, nil); err == nil {
		t.Error("New(Workers: -1) error = nil, want error")
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	s := newTestSupervisor(t, Config{Dir: dir})

	if got, want := s.Resolve("lib"), filepath.Join(dir, "lib"); got != want {
		t.Errorf("Resolve(lib) = %q, want %q", got, want)
	}
	abs := filepath.Join(dir, "other", "..", "x.js")
	if got, want := s.Resolve(abs), filepath.Join(dir, "x.js"); got != want {
		t.Errorf("Resolve(%q) = %q, want %q", abs, got, want)
	}
}

func TestSignalUnknownName(t *testing.T) {
	s := newTestSupervisor(t, Config{})
	if err := s.Signal("SIGNOPE"); !errors.Is(err, ErrUnknownSignal) {
		t.Errorf("Signal(SIGNOPE) error = %v, want %v", err, ErrUnknownSignal)
	}
	// Logged, not fatal.
	s.RestartWorkers("SIGNOPE")
}

func TestNormalizeSignal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SIGHUP", "SIGHUP"},
		{"sighup", "SIGHUP"},
		{" usr2 ", "SIGUSR2"},
		{"term", "SIGTERM"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeSignal(tt.in); got != tt.want {
			t.Errorf("normalizeSignal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNoCommandLogsOnly(t *testing.T) {
	s := newTestSupervisor(t, Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.RestartWorkers("SIGTERM")
	if n := len(s.Workers()); n != 0 {
		t.Errorf("Workers() len = %d, want 0", n)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
}

func TestStartMissingCommand(t *testing.T) {
	s := newTestSupervisor(t, Config{Command: []string{"definitely-not-a-real-binary-xyz"}})
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start() error = nil, want lookup failure")
	}
}

func TestRestartWorkersRespawns(t *testing.T) {
	requireShell(t)
	reg := prometheus.NewRegistry()
	s := newTestSupervisor(t, Config{
		Command:    []string{"sh", "-c", "sleep 30"},
		Workers:    2,
		Registerer: reg,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return allRunning(s) }) {
		t.Fatalf("workers not running: %+v", s.Workers())
	}
	before := pids(s)

	s.RestartWorkers("sigterm")

	respawned := waitFor(t, 3*time.Second, func() bool {
		if !allRunning(s) {
			return false
		}
		for i, pid := range pids(s) {
			if pid == before[i] {
				return false
			}
		}
		return true
	})
	if !respawned {
		t.Fatalf("workers not respawned: before %v, now %+v", before, s.Workers())
	}
	for _, w := range s.Workers() {
		if w.Spawns != 2 {
			t.Errorf("worker %d Spawns = %d, want 2", w.ID, w.Spawns)
		}
	}
	if v := promtest.ToFloat64(s.metrics.signals.WithLabelValues("SIGTERM")); v != 2 {
		t.Errorf("worker_signals_total{SIGTERM} = %v, want 2", v)
	}
}

func TestWorkerEnvironment(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	s := newTestSupervisor(t, Config{
		Command: []string{"sh", "-c", `echo "$` + WorkerIDEnv + ` $EXTRA" > "out-$` + WorkerIDEnv + `"; sleep 30`},
		Workers: 1,
		Dir:     dir,
		Env:     []string{"EXTRA=yes"},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	out := filepath.Join(dir, "out-1")
	var got string
	ok := waitFor(t, 2*time.Second, func() bool {
		got = readFile(out)
		return got != ""
	})
	if !ok || got != "1 yes\n" {
		t.Errorf("worker output = %q, want %q", got, "1 yes\n")
	}
}

func TestStopTerminatesWorkers(t *testing.T) {
	requireShell(t)
	s := newTestSupervisor(t, Config{
		Command: []string{"sh", "-c", "sleep 30"},
		Workers: 1,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return allRunning(s) }) {
		t.Fatal("worker not running")
	}

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop() took %v, want prompt SIGTERM exit", elapsed)
	}
	if p := pids(s); p[0] != 0 {
		t.Errorf("PID after Stop = %d, want 0", p[0])
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStopKillsStubbornWorkers(t *testing.T) {
	requireShell(t)
	s := newTestSupervisor(t, Config{
		Command:     []string{"sh", "-c", `trap "" TERM; while :; do sleep 1; done`},
		Workers:     1,
		KillTimeout: 200 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return allRunning(s) }) {
		t.Fatal("worker not running")
	}
	// Let the shell install its trap.
	time.Sleep(100 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if p := pids(s); p[0] != 0 {
		t.Errorf("PID after Stop = %d, want 0", p[0])
	}
}

func readFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}
