//go:build windows

package cluster

import (
	"fmt"
	"os"
	"os/exec"
)

// Windows cannot deliver POSIX signals; every known restart signal
// terminates the worker and the supervisor respawns it.
var knownSignals = map[string]bool{
	"SIGHUP":  true,
	"SIGINT":  true,
	"SIGQUIT": true,
	"SIGKILL": true,
	"SIGTERM": true,
	"SIGUSR1": true,
	"SIGUSR2": true,
}

func configureCommand(*exec.Cmd) {}

func validSignal(name string) error {
	if !knownSignals[normalizeSignal(name)] {
		return fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	return nil
}

func signalGroup(pid int, name string) error {
	if err := validSignal(name); err != nil {
		return err
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}
