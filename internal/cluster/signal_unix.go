//go:build !windows

package cluster

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureCommand starts the worker in its own process group so a signal
// reaches everything it spawned.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func lookupSignal(name string) (syscall.Signal, error) {
	sig := unix.SignalNum(normalizeSignal(name))
	if sig == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	return sig, nil
}

func validSignal(name string) error {
	_, err := lookupSignal(name)
	return err
}

// signalGroup sends name to the process group led by pid. A group that
// has already exited is not an error.
func signalGroup(pid int, name string) error {
	sig, err := lookupSignal(name)
	if err != nil {
		return err
	}
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
