package worker

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sevlyar/go-daemon"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
	"github.com/roelfdiedericks/golisten/internal/paths"
	"github.com/roelfdiedericks/golisten/internal/proc"
)

// ErrNotRunning is returned by StopDaemon when no worker pid is alive.
var ErrNotRunning = errors.New("transcription worker not running")

func daemonContext(cfg config.WorkerConfig) *daemon.Context {
	return &daemon.Context{
		PidFileName: cfg.PIDFile,
		PidFilePerm: 0644,
		LogFileName: cfg.LogFile,
		LogFilePerm: 0640,
		WorkDir:     "/",
		Umask:       027,
	}
}

// Detach re-executes the current command line as a background worker.
// In the parent it returns the child process and a nil release func; the
// caller should exit. In the child it returns a nil process and a release
// func to call when serving ends.
func Detach(cfg config.WorkerConfig) (*os.Process, func(), error) {
	if err := paths.EnsureParentDir(cfg.PIDFile); err != nil {
		return nil, nil, err
	}
	// The child finds the pid file already claimed by its parent.
	if !daemon.WasReborn() {
		if pid, ok := Running(cfg); ok {
			return nil, nil, fmt.Errorf("worker: %w (pid %d)", ErrAlreadyRunning, pid)
		}
	}

	dctx := daemonContext(cfg)
	child, err := dctx.Reborn()
	if err != nil {
		return nil, nil, fmt.Errorf("worker: detach: %w", err)
	}
	if child != nil {
		L_debug("worker: detached", "pid", child.Pid, "log", cfg.LogFile)
		return child, nil, nil
	}

	release := func() {
		if err := dctx.Release(); err != nil {
			L_warn("worker: releasing pid file failed", "error", err)
		}
	}
	return nil, release, nil
}

// IsDetachedChild reports whether this process is the re-executed worker.
func IsDetachedChild() bool {
	return daemon.WasReborn()
}

// Running reports the pid of a live worker recorded in the pid file.
func Running(cfg config.WorkerConfig) (int, bool) {
	p, err := daemonContext(cfg).Search()
	if err != nil || p == nil {
		return 0, false
	}
	if !proc.Alive(p.Pid) {
		return 0, false
	}
	return p.Pid, true
}

// StopDaemon terminates the worker recorded in the pid file and waits for
// it to exit, killing it after timeout.
func StopDaemon(cfg config.WorkerConfig, timeout time.Duration) error {
	pid, ok := Running(cfg)
	if !ok {
		return ErrNotRunning
	}
	if err := proc.Terminate(pid); err != nil && !proc.IsGone(err) {
		return fmt.Errorf("worker: stop %d: %w", pid, err)
	}
	if !proc.WaitExit(pid, timeout, 0) {
		L_warn("worker: did not exit, killing", "pid", pid)
		_ = proc.Kill(pid)
		proc.WaitExit(pid, time.Second, 0)
	}
	_ = os.Remove(cfg.PIDFile)
	return nil
}
