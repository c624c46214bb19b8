// ABOUTME: Error taxonomy and lock wait outcomes of the memory manager
// ABOUTME: Exhaustion and protocol violations are errors; waits return status

package heap

import "errors"

var (
	// ErrOutOfMemory is returned when every allocation fallback path is
	// exhausted. Callers should treat it as fatal.
	ErrOutOfMemory = errors.New("heap: all allocation spaces exhausted")

	// ErrNotOwner is returned by Unlock when the caller does not hold the
	// object's lock. This is a runtime invariant violation, not a
	// recoverable condition.
	ErrNotOwner = errors.New("heap: unlocking an object locked by another thread")

	// ErrNotLocked is returned by Unlock when the object is not locked at
	// all.
	ErrNotLocked = errors.New("heap: unlocking an object that is not locked")

	// ErrHeaderState is returned when an object's header is in a state the
	// requested operation cannot legally observe. It indicates a bug in the
	// caller's locking discipline.
	ErrHeaderState = errors.New("heap: object header in unexpected state")

	// ErrInvalidHandle is returned when an external handle does not point
	// into the valid heap. Continuing would risk corruption, so callers
	// must treat it as a fatal integrity error.
	ErrInvalidHandle = errors.New("heap: external handle does not reference a valid object")
)

// LockStatus is the outcome of a lock wait. All three outcomes are expected
// and resumable; none is an error.
type LockStatus int

const (
	// LockAcquired means the lock is now held by the caller.
	LockAcquired LockStatus = iota
	// LockTimedOut means the wait deadline passed without acquisition.
	LockTimedOut
	// LockInterrupted means an external interrupt cancelled the wait. The
	// caller does not hold the lock and the header is unchanged.
	LockInterrupted
)

// String returns a human-readable status name.
func (s LockStatus) String() string {
	switch s {
	case LockAcquired:
		return "acquired"
	case LockTimedOut:
		return "timed-out"
	case LockInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}
