// Package proc holds the OS process probes shared by the capture and
// indicator supervisors. A pid is the only handle one golisten invocation has
// on a process started by another, so everything here works from a bare pid.
package proc

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Alive reports whether pid names a live process. Signal 0 performs the
// existence and permission checks without delivering anything; EPERM means
// the process exists but belongs to someone else, which still counts.
// Zombies are reaped first when they are our own children.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	reap(pid)
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Interrupt sends SIGINT, the graceful stop that makes capture tools
// finalize their output container.
func Interrupt(pid int) error {
	return signal(pid, unix.SIGINT)
}

// Terminate sends SIGTERM.
func Terminate(pid int) error {
	return signal(pid, unix.SIGTERM)
}

// Kill sends SIGKILL.
func Kill(pid int) error {
	return signal(pid, unix.SIGKILL)
}

func signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	return unix.Kill(pid, sig)
}

// WaitExit polls until pid is gone or timeout elapses. Returns true if the
// process exited within the budget.
func WaitExit(pid int, timeout, interval time.Duration) bool {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		if !Alive(pid) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}

// IsGone reports whether err from a signal means the process no longer exists.
func IsGone(err error) bool {
	return errors.Is(err, unix.ESRCH)
}

// reap collects pid if it is an exited child of this process. For anything
// else wait4 fails with ECHILD and nothing happens.
func reap(pid int) {
	var ws unix.WaitStatus
	_, _ = unix.Wait4(pid, &ws, unix.WNOHANG, nil)
}
