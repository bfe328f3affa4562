package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/roelfdiedericks/golisten/internal/capture"
)

var (
	// ErrStaleState marks a Recording record whose owner is gone. It is
	// recovered inside DecideAndAct and never returned.
	ErrStaleState = errors.New("stale recording state")

	// ErrMicUnavailable is returned when capture cannot be launched.
	ErrMicUnavailable = capture.ErrMicUnavailable

	// ErrNothingToStop is returned when a stop finds no recording.
	ErrNothingToStop = capture.ErrNothingToStop
)

// StaleStateError describes the session that was reconciled away.
type StaleStateError struct {
	PID       int
	StartedAt time.Time
}

func (e *StaleStateError) Error() string {
	if e.PID == 0 {
		return "recording state without owner"
	}
	return fmt.Sprintf("recording owner %d is not running", e.PID)
}

func (e *StaleStateError) Unwrap() error { return ErrStaleState }

// UserMessage turns an error from DecideAndAct into the short line shown to
// the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, capture.ErrBinaryNotFound):
		return "Microphone unavailable: capture program not installed (is sox installed?)"
	case errors.Is(err, ErrMicUnavailable):
		return "Microphone unavailable"
	case errors.Is(err, ErrNothingToStop):
		return "Nothing to stop: no recording in progress"
	default:
		return err.Error()
	}
}
