// Package state persists the recording lifecycle state shared between
// golisten invocations. Each invocation is its own OS process, so the files in
// the state directory are the only memory the tool has: re-read at the top of
// every invocation, replaced whole, never patched in place.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
)

// RecordingState is the lifecycle state of the recorder.
type RecordingState int

const (
	Idle RecordingState = iota
	Recording
	Transcribing
)

var stateNames = map[RecordingState]string{
	Idle:         "idle",
	Recording:    "recording",
	Transcribing: "transcribing",
}

func (s RecordingState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RecordingState(%d)", int(s))
}

// ParseRecordingState parses the on-disk name of a state.
func ParseRecordingState(name string) (RecordingState, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return Idle, fmt.Errorf("unknown recording state %q", name)
}

func (s RecordingState) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown recording state %d", int(s))
	}
	return []byte(name), nil
}

func (s *RecordingState) UnmarshalText(b []byte) error {
	parsed, err := ParseRecordingState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Record is the persisted projection of the lifecycle state.
// PID and StartedAt are set if and only if State == Recording.
type Record struct {
	State     RecordingState
	PID       int       // 0 when absent
	StartedAt time.Time // zero when absent
}

// Normalized returns r with PID/StartedAt cleared for non-Recording states.
func (r Record) Normalized() Record {
	if r.State != Recording {
		return Record{State: r.State}
	}
	return r
}

// HasOwner reports whether the record names a capture process.
func (r Record) HasOwner() bool {
	return r.State == Recording && r.PID > 0
}

// wireRecord is the file format: {"state": "...", "pid": int|null, "start_time": float|null}
type wireRecord struct {
	State     RecordingState `json:"state"`
	PID       *int           `json:"pid"`
	StartTime *float64       `json:"start_time"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	r = r.Normalized()
	w := wireRecord{State: r.State}
	if r.PID > 0 {
		pid := r.PID
		w.PID = &pid
	}
	if !r.StartedAt.IsZero() {
		secs := float64(r.StartedAt.UnixMicro()) / 1e6
		w.StartTime = &secs
	}
	return json.Marshal(w)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	w := wireRecord{State: Idle}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Record{State: w.State}
	if w.PID != nil {
		out.PID = *w.PID
	}
	if w.StartTime != nil && !math.IsNaN(*w.StartTime) && !math.IsInf(*w.StartTime, 0) {
		out.StartedAt = time.UnixMicro(int64(math.Round(*w.StartTime * 1e6)))
	}
	*r = out.Normalized()
	return nil
}

// Status says how a Record was obtained from disk.
type Status int

const (
	StatusMissing Status = iota // no state file: implicit Idle
	StatusOK
	StatusCorrupt // unreadable or unparseable: failed open to Idle
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "missing"
	}
}

const (
	stateFile         = "state.json"
	pidFile           = "rec.pid"
	audioFile         = "recording.wav"
	lockFile          = "state.lock"
	indicatorPIDFile  = "meter.pid"
	indicatorStopFile = "meter.stop"
	captureLogFile    = "capture.log"
)

// Store reads and writes the state files under Dir.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("state: create dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) StatePath() string { return filepath.Join(s.Dir, stateFile) }
func (s *Store) PIDPath() string { return filepath.Join(s.Dir, pidFile) }
func (s *Store) AudioPath() string { return filepath.Join(s.Dir, audioFile) }
func (s *Store) LockPath() string { return filepath.Join(s.Dir, lockFile) }
func (s *Store) IndicatorPIDPath() string { return filepath.Join(s.Dir, indicatorPIDFile) }
func (s *Store) IndicatorStopPath() string { return filepath.Join(s.Dir, indicatorStopFile) }
func (s *Store) CaptureLogPath() string { return filepath.Join(s.Dir, captureLogFile) }

// Read returns the current record. It never fails: a missing, unreadable or
// corrupt state file reads as Idle.
func (s *Store) Read() Record {
	rec, _ := s.Load()
	return rec
}

// Load is Read plus the reason behind the result.
func (s *Store) Load() (Record, Status) {
	data, err := os.ReadFile(s.StatePath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			L_warn("state: unreadable state file, treating as idle", "path", s.StatePath(), "error", err)
			return Record{State: Idle}, StatusCorrupt
		}
		return Record{State: Idle}, StatusMissing
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		L_warn("state: corrupt state file, treating as idle", "path", s.StatePath(), "error", err)
		return Record{State: Idle}, StatusCorrupt
	}
	if rec.State == Recording && rec.PID == 0 {
		if pid, ok := s.ReadPID(); ok {
			rec.PID = pid
		}
	}
	return rec, StatusOK
}

// Write atomically replaces the state file with rec.
func (s *Store) Write(rec Record) error {
	data, err := json.Marshal(rec.Normalized())
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	if err := config.AtomicWrite(s.StatePath(), data, 0600); err != nil {
		return fmt.Errorf("state: write: %w", err)
	}
	L_trace("state: written", "state", rec.State, "pid", rec.PID)
	return nil
}

// WritePID writes the plain-text fallback pid file. It outlives a corrupt
// state.json so stop can still find the capture process.
func (s *Store) WritePID(pid int) error {
	return writePIDFile(s.PIDPath(), pid)
}

// ReadPID reads the plain-text fallback pid file.
func (s *Store) ReadPID() (int, bool) {
	return readPIDFile(s.PIDPath())
}

// RemovePID deletes the fallback pid file.
func (s *Store) RemovePID() error {
	return removeIfExists(s.PIDPath())
}

// Clear removes the state file and the fallback pid file, returning the
// store to implicit Idle.
func (s *Store) Clear() error {
	return errors.Join(removeIfExists(s.StatePath()), removeIfExists(s.PIDPath()))
}

// ReadIndicatorPID reads the indicator handle file.
func (s *Store) ReadIndicatorPID() (int, bool) {
	return readPIDFile(s.IndicatorPIDPath())
}

// WriteIndicatorPID writes the indicator handle file.
func (s *Store) WriteIndicatorPID(pid int) error {
	return writePIDFile(s.IndicatorPIDPath(), pid)
}

// ClearIndicator removes the indicator handle and stop marker.
func (s *Store) ClearIndicator() error {
	return errors.Join(removeIfExists(s.IndicatorPIDPath()), removeIfExists(s.IndicatorStopPath()))
}

func writePIDFile(path string, pid int) error {
	if err := config.AtomicWrite(path, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("state: write pid file: %w", err)
	}
	return nil
}

func readPIDFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		L_debug("state: ignoring malformed pid file", "path", path)
		return 0, false
	}
	return pid, true
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
