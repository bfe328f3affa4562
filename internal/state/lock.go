package state

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	. "github.com/roelfdiedericks/golisten/internal/logging"
)

const lockRetryDelay = 5 * time.Millisecond

// Lock takes the advisory exclusive lock guarding the decide-and-persist
// critical section. Two near-simultaneous hotkey presses serialize here
// instead of both reading Idle and both starting a capture.
//
// The returned unlock func is always non-nil and safe to call once. When the
// lock cannot be obtained within timeout the error is returned alongside a
// no-op unlock; callers are expected to carry on unlocked.
func (s *Store) Lock(ctx context.Context, timeout time.Duration) (func(), error) {
	fl := flock.New(s.LockPath())

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return func() {}, fmt.Errorf("state: lock %s: %w", s.LockPath(), err)
	}
	if !locked {
		return func() {}, fmt.Errorf("state: lock %s: not acquired", s.LockPath())
	}

	L_trace("state: lock acquired", "path", s.LockPath())
	return func() {
		if err := fl.Unlock(); err != nil {
			L_warn("state: unlock failed", "path", s.LockPath(), "error", err)
		}
	}, nil
}
