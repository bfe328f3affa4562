// Package indicator supervises the optional level-meter subprocess shown
// while recording. It is purely cosmetic: nothing here may block or fail the
// capture path, so Stop never returns an error and Start errors are meant to
// be logged and dropped by the caller.
package indicator

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
	"github.com/roelfdiedericks/golisten/internal/proc"
	"github.com/roelfdiedericks/golisten/internal/state"
)

// State is the indicator lifecycle as observed from the outside.
// Exited is inferred from liveness checks; there is no exit callback.
type State int

const (
	NotRunning State = iota
	Launching
	Running
	StopRequested
	Exited
)

func (s State) String() string {
	switch s {
	case Launching:
		return "launching"
	case Running:
		return "running"
	case StopRequested:
		return "stop-requested"
	case Exited:
		return "exited"
	default:
		return "not-running"
	}
}

const (
	// SelfBinary as the configured binary selects this executable's meter
	// subcommand.
	SelfBinary = "self"

	// MeterCommand is the subcommand name used for the built-in meter.
	MeterCommand = "meter"
)

// Supervisor launches and stops the indicator.
type Supervisor struct {
	store *state.Store
	cfg   config.IndicatorConfig

	// pid is set when this process launched the indicator. Stop usually
	// runs in a later invocation and falls back to the handle file.
	pid int

	// exe resolves the default indicator binary; replaced in tests.
	exe func() (string, error)
}

// New creates an indicator supervisor.
func New(store *state.Store, cfg config.IndicatorConfig) *Supervisor {
	if cfg.StopPolls <= 0 {
		cfg.StopPolls = 40
	}
	if cfg.StopPollGap <= 0 {
		cfg.StopPollGap = 50 * time.Millisecond
	}
	return &Supervisor{store: store, cfg: cfg, exe: os.Executable}
}

// command resolves the indicator command line. ok is false when the
// indicator should be silently skipped.
func (s *Supervisor) command() (bin string, args []string, ok bool) {
	if s.cfg.Binary == "" {
		L_trace("indicator: no binary configured")
		return "", nil, false
	}

	if s.cfg.Binary == SelfBinary {
		exe, err := s.exe()
		if err != nil {
			L_debug("indicator: cannot resolve own executable", "error", err)
			return "", nil, false
		}
		return exe, []string{MeterCommand, "--state-dir", s.store.Dir}, true
	}

	bin, err := resolveBinary(s.cfg.Binary)
	if err != nil {
		L_debug("indicator: binary not present, skipping", "binary", s.cfg.Binary, "error", err)
		return "", nil, false
	}
	return bin, s.cfg.Args, true
}

// resolveBinary accepts a path to an existing file or a name found on PATH.
func resolveBinary(bin string) (string, error) {
	if strings.ContainsRune(bin, os.PathSeparator) {
		info, err := os.Stat(bin)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", bin)
		}
		return bin, nil
	}
	return exec.LookPath(bin)
}

// Start launches the indicator detached from this process. Disabled or
// absent indicators are skipped without error.
func (s *Supervisor) Start() error {
	if s.cfg.Disabled {
		L_trace("indicator: disabled")
		return nil
	}

	bin, args, ok := s.command()
	if !ok {
		return nil
	}

	// A marker left over from a crashed session would stop the new meter at once.
	if err := os.Remove(s.store.IndicatorStopPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		L_debug("indicator: could not remove stale stop marker", "error", err)
	}

	cmd := exec.Command(bin, args...) //nolint:gosec // G204: binary comes from user config or os.Executable
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("indicator: launch %s: %w", bin, err)
	}
	pid := cmd.Process.Pid
	s.pid = pid

	if err := s.store.WriteIndicatorPID(pid); err != nil {
		// Without a handle a later invocation could never stop it.
		_ = proc.Kill(pid)
		s.pid = 0
		return fmt.Errorf("indicator: persist pid: %w", err)
	}
	_ = cmd.Process.Release()

	L_debug("indicator: started", "pid", pid, "binary", bin)
	return nil
}

// Stop asks the indicator to exit through the stop marker, waits a bounded
// time, then kills it. Handle files are removed on every path.
func (s *Supervisor) Stop() {
	defer func() {
		if r := recover(); r != nil {
			L_warn("indicator: stop panicked", "panic", r)
		}
	}()
	defer func() {
		if err := s.store.ClearIndicator(); err != nil {
			L_debug("indicator: cleanup failed", "error", err)
		}
		s.pid = 0
	}()

	pid := s.resolvePID()
	if pid == 0 {
		return
	}
	if !proc.Alive(pid) {
		L_trace("indicator: not running", "pid", pid)
		return
	}

	if err := touch(s.store.IndicatorStopPath()); err != nil {
		L_debug("indicator: cannot write stop marker, killing", "pid", pid, "error", err)
		_ = proc.Kill(pid)
		return
	}

	for i := 0; i < s.cfg.StopPolls; i++ {
		if !proc.Alive(pid) {
			L_debug("indicator: exited", "pid", pid)
			return
		}
		time.Sleep(s.cfg.StopPollGap)
	}

	L_debug("indicator: did not exit in time, killing", "pid", pid)
	if err := proc.Kill(pid); err != nil && !proc.IsGone(err) {
		L_debug("indicator: kill failed", "pid", pid, "error", err)
	}
}

// State reports the indicator state from handle files and liveness.
func (s *Supervisor) State() State {
	pid := s.resolvePID()
	if pid == 0 {
		return NotRunning
	}
	if !proc.Alive(pid) {
		return Exited
	}
	if _, err := os.Stat(s.store.IndicatorStopPath()); err == nil {
		return StopRequested
	}
	return Running
}

func (s *Supervisor) resolvePID() int {
	if s.pid > 0 {
		return s.pid
	}
	pid, ok := s.store.ReadIndicatorPID()
	if !ok {
		return 0
	}
	return pid
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	return f.Close()
}
