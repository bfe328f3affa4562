// Package capture supervises the external audio-capture process.
//
// Start and Stop run in different golisten invocations: Start launches the
// recorder, records its pid and exits, leaving the recorder running. A later
// Stop finds it again through the state store, interrupts it so it finalizes
// the audio file, and marks the session as transcribing.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
	"github.com/roelfdiedericks/golisten/internal/proc"
	"github.com/roelfdiedericks/golisten/internal/state"
)

var (
	// ErrMicUnavailable means the capture process could not be launched.
	ErrMicUnavailable = errors.New("microphone unavailable")

	// ErrBinaryNotFound means the capture program is not installed.
	ErrBinaryNotFound = errors.New("capture binary not found")

	// ErrNothingToStop means no recording is in progress.
	ErrNothingToStop = errors.New("no recording in progress")
)

const (
	killGrace = 500 * time.Millisecond // wait for SIGKILL to land
	exitPoll  = 10 * time.Millisecond
)

// Indicator is the cosmetic companion process started alongside capture.
type Indicator interface {
	Start() error
	Stop()
}

// Session describes a started recording.
type Session struct {
	PID       int
	StartedAt time.Time
	AudioPath string
}

// Result describes a stopped recording.
type Result struct {
	PID       int
	Duration  time.Duration
	AudioPath string
}

// Supervisor starts and stops the capture process.
type Supervisor struct {
	store     *state.Store
	cfg       config.CaptureConfig
	indicator Indicator

	indicatorDone chan struct{} // closed once the indicator stop started by Interrupt returns
}

// New creates a capture supervisor. indicator may be nil.
func New(store *state.Store, cfg config.CaptureConfig, indicator Indicator) *Supervisor {
	if cfg.StartPolls <= 0 {
		cfg.StartPolls = 20
	}
	if cfg.StartPollGap <= 0 {
		cfg.StartPollGap = 10 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 3 * time.Second
	}
	return &Supervisor{store: store, cfg: cfg, indicator: indicator}
}

// Start launches the capture process and persists Recording.
func (s *Supervisor) Start(ctx context.Context) (Session, error) {
	audioPath := s.store.AudioPath()

	// Every session starts from an empty artifact.
	if err := os.Remove(audioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		L_warn("capture: could not remove previous recording", "path", audioPath, "error", err)
	}

	bin, err := s.resolveBinary()
	if err != nil {
		return Session{}, err
	}

	logFile, err := os.OpenFile(s.store.CaptureLogPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		L_debug("capture: no capture log, discarding stderr", "error", err)
		logFile = nil
	}

	cmd := exec.Command(bin, s.args(audioPath)...) //nolint:gosec // G204: binary comes from user config
	cmd.Stdin = nil
	cmd.Stdout = nil
	if logFile != nil {
		cmd.Stderr = logFile
	}
	// Own process group: a terminal ^C aimed at golisten must not reach the recorder.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err = cmd.Start()
	if logFile != nil {
		logFile.Close()
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: launch %s: %w", ErrMicUnavailable, bin, err)
	}
	pid := cmd.Process.Pid
	startedAt := time.Now()
	L_debug("capture: launched", "pid", pid, "binary", bin)

	s.waitForAudio(ctx, audioPath)

	if err := s.persist(pid, startedAt); err != nil {
		// Nothing would ever stop it.
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return Session{}, err
	}

	if s.indicator != nil {
		if err := s.indicator.Start(); err != nil {
			L_debug("capture: indicator failed to start", "error", err)
		}
	}

	// The recorder outlives this invocation.
	_ = cmd.Process.Release()

	L_info("capture: recording", "pid", pid, "audio", audioPath)
	return Session{PID: pid, StartedAt: startedAt, AudioPath: audioPath}, nil
}

func (s *Supervisor) persist(pid int, startedAt time.Time) error {
	rec := state.Record{State: state.Recording, PID: pid, StartedAt: startedAt}
	if err := s.store.Write(rec); err != nil {
		return fmt.Errorf("capture: persist state: %w", err)
	}
	if err := s.store.WritePID(pid); err != nil {
		_ = s.store.Clear()
		return fmt.Errorf("capture: persist pid: %w", err)
	}
	return nil
}

// waitForAudio gives the recorder a short budget to produce its first bytes.
// Running out of budget is not an error; some devices take longer to open.
func (s *Supervisor) waitForAudio(ctx context.Context, path string) {
	for i := 0; i < s.cfg.StartPolls; i++ {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			L_trace("capture: audio appeared", "polls", i)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.StartPollGap):
		}
	}
	L_debug("capture: no audio yet, continuing", "path", path)
}

// Stop ends the recording named by the state store.
func (s *Supervisor) Stop(ctx context.Context) (Result, error) {
	return s.StopRecord(ctx, s.store.Read())
}

// StopRecord ends the recording described by rec. It is used when the caller
// has already read and interpreted the state.
func (s *Supervisor) StopRecord(ctx context.Context, rec state.Record) (Result, error) {
	res, err := s.Interrupt(rec)
	if err != nil {
		return res, err
	}
	s.Finish(ctx, res)
	return res, nil
}

// Interrupt sends SIGINT to the recorder named by rec and persists
// Transcribing without waiting for the recorder to exit. The indicator is
// stopped in the background so it cannot hold the microphone open. Finish
// must be called with the returned Result.
func (s *Supervisor) Interrupt(rec state.Record) (Result, error) {
	if !rec.HasOwner() {
		return Result{}, ErrNothingToStop
	}

	var duration time.Duration
	if !rec.StartedAt.IsZero() {
		duration = time.Since(rec.StartedAt)
	}
	res := Result{PID: rec.PID, Duration: duration, AudioPath: s.store.AudioPath()}

	if err := proc.Interrupt(rec.PID); err != nil {
		if proc.IsGone(err) {
			L_debug("capture: process already gone", "pid", rec.PID)
		} else {
			L_warn("capture: interrupt failed", "pid", rec.PID, "error", err)
		}
	}

	done := make(chan struct{})
	if s.indicator != nil {
		go func() {
			defer close(done)
			s.indicator.Stop()
		}()
	} else {
		close(done)
	}
	s.indicatorDone = done

	if err := s.store.Write(state.Record{State: state.Transcribing}); err != nil {
		s.Finish(context.Background(), res)
		return Result{}, fmt.Errorf("capture: persist state: %w", err)
	}
	if err := s.store.RemovePID(); err != nil {
		L_debug("capture: could not remove pid file", "error", err)
	}
	return res, nil
}

// Finish waits for the interrupted recorder to exit, killing it once the
// stop timeout has passed, then waits for the indicator to go away.
func (s *Supervisor) Finish(ctx context.Context, res Result) {
	s.terminate(ctx, res.PID)
	if s.indicatorDone != nil {
		<-s.indicatorDone
		s.indicatorDone = nil
	}
	L_info("capture: stopped", "pid", res.PID, "duration", res.Duration.Round(time.Millisecond))
}

// terminate waits for an interrupted pid to exit, escalating to SIGKILL
// once the stop timeout has passed. SIGINT lets the recorder finalize the
// WAV header.
func (s *Supervisor) terminate(ctx context.Context, pid int) {
	if waitExit(ctx, pid, s.cfg.StopTimeout) {
		return
	}

	L_warn("capture: process did not exit in time, killing", "pid", pid, "timeout", s.cfg.StopTimeout)
	if err := proc.Kill(pid); err != nil && !proc.IsGone(err) {
		L_error("capture: kill failed", "pid", pid, "error", err)
		return
	}
	proc.WaitExit(pid, killGrace, exitPoll)
}

// Cleanup returns the store to implicit Idle. A recording started by a
// later press while this session was transcribing is left alone.
func (s *Supervisor) Cleanup() {
	if rec, status := s.store.Load(); status == state.StatusOK && rec.State == state.Recording {
		L_debug("capture: newer session recording, skipping cleanup", "pid", rec.PID)
		return
	}
	if err := s.store.Clear(); err != nil {
		L_warn("capture: cleanup failed", "error", err)
	}
}

func (s *Supervisor) resolveBinary() (string, error) {
	bin := s.cfg.Binary
	if bin == "" {
		bin = "rec"
	}
	if strings.ContainsRune(bin, os.PathSeparator) {
		info, err := os.Stat(bin)
		if err != nil || info.IsDir() {
			return "", fmt.Errorf("%w: %w: %s", ErrMicUnavailable, ErrBinaryNotFound, bin)
		}
		return bin, nil
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %s", ErrMicUnavailable, ErrBinaryNotFound, bin)
	}
	return path, nil
}

// args expands the configured argument template.
func (s *Supervisor) args(output string) []string {
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(s.cfg.SampleRate),
		"{channels}", strconv.Itoa(s.cfg.Channels),
		"{bits}", strconv.Itoa(s.cfg.BitDepth),
		"{output}", output,
	)
	tmpl := s.cfg.Args
	if len(tmpl) == 0 {
		tmpl = config.Default().Capture.Args
	}
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		out[i] = r.Replace(a)
	}
	return out
}

func waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(exitPoll)
	defer tick.Stop()

	for {
		if !proc.Alive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return !proc.Alive(pid)
		case <-tick.C:
		}
	}
}
