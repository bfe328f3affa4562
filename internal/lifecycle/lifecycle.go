// Package lifecycle decides, once per invocation, whether a hotkey press
// starts or stops a recording, and repairs state left behind by crashes.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/roelfdiedericks/golisten/internal/capture"
	. "github.com/roelfdiedericks/golisten/internal/logging"
	"github.com/roelfdiedericks/golisten/internal/proc"
	"github.com/roelfdiedericks/golisten/internal/state"
)

// Action is what an invocation does.
type Action int

const (
	Start Action = iota
	Stop
)

func (a Action) String() string {
	if a == Stop {
		return "stop"
	}
	return "start"
}

// Decision is the outcome of reading the state.
type Decision struct {
	Action Action
	Record state.Record
	Stale  bool // Record names an owner that is gone
}

// Outcome reports what DecideAndAct did.
type Outcome struct {
	Action         Action
	Session        capture.Session // set for Start
	Result         capture.Result  // set for Stop
	RecoveredStale bool
}

// Capture is the part of the capture supervisor the machine drives.
type Capture interface {
	Start(ctx context.Context) (capture.Session, error)
	Interrupt(rec state.Record) (capture.Result, error)
	Finish(ctx context.Context, res capture.Result)
}

// Indicator is stopped when stale state is reconciled.
type Indicator interface {
	Stop()
}

const DefaultLockTimeout = 5 * time.Second

// Machine is the toggle state machine.
type Machine struct {
	Store     *state.Store
	Capture   Capture
	Indicator Indicator // optional

	// Alive probes the owner pid; proc.Alive when nil.
	Alive func(pid int) bool

	// LockTimeout bounds how long a press waits for a concurrent one.
	LockTimeout time.Duration
}

// Decide reads the state and picks an action. It does not modify anything.
func (m *Machine) Decide() Decision {
	rec, status := m.Store.Load()

	if status == state.StatusCorrupt {
		// The plain pid file survives a mangled state.json.
		pid, ok := m.Store.ReadPID()
		if !ok {
			return Decision{Action: Start, Record: rec}
		}
		owner := state.Record{State: state.Recording, PID: pid}
		if m.alive(pid) {
			L_warn("lifecycle: state file corrupt but recorder alive, stopping it", "pid", pid)
			return Decision{Action: Stop, Record: owner}
		}
		return Decision{Action: Start, Record: owner, Stale: true}
	}

	switch rec.State {
	case state.Recording:
		if rec.PID > 0 && m.alive(rec.PID) {
			return Decision{Action: Stop, Record: rec}
		}
		return Decision{Action: Start, Record: rec, Stale: true}
	default:
		return Decision{Action: Start, Record: rec}
	}
}

func (m *Machine) alive(pid int) bool {
	if m.Alive != nil {
		return m.Alive(pid)
	}
	return proc.Alive(pid)
}

// DecideAndAct serializes against concurrent invocations, decides and runs
// the chosen action. Only capture launch failures and ErrNothingToStop are
// returned. A stop releases the lock once Transcribing is persisted and
// waits for the recorder to exit outside it.
func (m *Machine) DecideAndAct(ctx context.Context) (Outcome, error) {
	timeout := m.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	unlock, err := m.Store.Lock(ctx, timeout)
	if err != nil {
		L_warn("lifecycle: proceeding without state lock", "error", err)
	}
	var once sync.Once
	release := func() { once.Do(unlock) }
	defer release()

	d := m.Decide()
	L_debug("lifecycle: decided", "action", d.Action, "state", d.Record.State, "pid", d.Record.PID, "stale", d.Stale)

	out := Outcome{Action: d.Action}

	if d.Stale {
		m.reconcile(d.Record)
		out.RecoveredStale = true
	}

	switch d.Action {
	case Stop:
		res, err := m.Capture.Interrupt(d.Record)
		if err != nil {
			return out, err
		}
		release()
		m.Capture.Finish(ctx, res)
		out.Result = res
	default:
		if d.Record.State == state.Transcribing {
			// A previous transcription may still be running; its result
			// will land independently of this new session.
			L_warn("lifecycle: starting while previous session is still transcribing")
		}
		sess, err := m.Capture.Start(ctx)
		if err != nil {
			return out, err
		}
		out.Session = sess
	}
	return out, nil
}

// reconcile returns a stale store to Idle, leaving no pid or handle files.
func (m *Machine) reconcile(rec state.Record) {
	stale := &StaleStateError{PID: rec.PID, StartedAt: rec.StartedAt}
	L_info("lifecycle: recovered stale state", "error", stale)

	if err := m.Store.Clear(); err != nil {
		L_warn("lifecycle: clearing stale state failed", "error", err)
	}
	if m.Indicator != nil {
		m.Indicator.Stop()
	} else if err := m.Store.ClearIndicator(); err != nil {
		L_debug("lifecycle: clearing indicator handles failed", "error", err)
	}
}
