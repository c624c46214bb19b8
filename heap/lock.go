// ABOUTME: Object locking over the header word: thin locks, contention, inflation
// ABOUTME: Inflation is one-way and serialized by a process-wide lock

package heap

import (
	"time"

	"github.com/Red54/rubinius/object"
	"github.com/Red54/rubinius/world"
)

// TryLock attempts a non-blocking lock of the object. Uncontended objects
// get a thin lock inline in the header; recursion past the inline counter,
// or an aux slot already carrying the object's id or handle, forces
// inflation first.
func (m *Memory) TryLock(t *world.Thread, o *object.Object) (bool, error) {
	for {
		o = object.Resolve(o)
		w := o.Header()
		switch w.Meaning() {
		case object.MeaningEmpty:
			if o.CasHeader(w, w.WithAux(object.MeaningLock, object.LockPayload(t.ID(), 1))) {
				t.AddLocked(o)
				return true, nil
			}
		case object.MeaningLock:
			if w.LockOwner() != t.ID() {
				return false, nil
			}
			if w.LockCount() == object.MaxThinLockCount {
				m.inflatePreserving(t, o)
				continue
			}
			next := w.WithAux(object.MeaningLock, object.LockPayload(t.ID(), w.LockCount()+1))
			if o.CasHeader(w, next) {
				return true, nil
			}
		case object.MeaningObjectID, object.MeaningHandle:
			m.inflatePreserving(t, o)
		case object.MeaningInflated:
			ih := m.inflated.Get(w.Payload())
			acquired, first := ih.TryLock(t)
			if acquired && first {
				t.AddLocked(o)
			}
			return acquired, nil
		default:
			return false, ErrHeaderState
		}
	}
}

// WaitForLock locks the object, blocking until it is acquired, the timeout
// passes, or the thread is interrupted. A timeout of zero waits forever.
//
// Contention on a thin lock never spins on the holder: the waiter raises the
// contended bit and parks on the process-wide contention condition; the
// holder inflates the lock on unlock and wakes everyone, and the waiters
// move to the inflated record's own condition to finish the acquire.
func (m *Memory) WaitForLock(t *world.Thread, o *object.Object, timeout time.Duration) (LockStatus, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		o = object.Resolve(o)
		w := o.Header()
		switch w.Meaning() {
		case object.MeaningEmpty:
			if o.CasHeader(w, w.WithAux(object.MeaningLock, object.LockPayload(t.ID(), 1))) {
				t.AddLocked(o)
				return LockAcquired, nil
			}
		case object.MeaningLock:
			if w.LockOwner() == t.ID() {
				if w.LockCount() == object.MaxThinLockCount {
					m.inflatePreserving(t, o)
					continue
				}
				next := w.WithAux(object.MeaningLock, object.LockPayload(t.ID(), w.LockCount()+1))
				if o.CasHeader(w, next) {
					return LockAcquired, nil
				}
				continue
			}
			status, final := m.contendForLock(t, o, deadline)
			if final {
				return status, nil
			}
		case object.MeaningObjectID, object.MeaningHandle:
			m.inflatePreserving(t, o)
		case object.MeaningInflated:
			ih := m.inflated.Get(w.Payload())
			status, first := ih.LockWait(t, deadline, true)
			switch status {
			case LockAcquired:
				if first {
					t.AddLocked(o)
				}
			case LockTimedOut:
				m.met.Lock.Timeouts.Add(1)
			case LockInterrupted:
				m.met.Lock.Interrupts.Add(1)
			}
			return status, nil
		default:
			return LockTimedOut, ErrHeaderState
		}
	}
}

// contendForLock parks the thread until the contended thin lock inflates.
// Reports final=true only for a timeout or interrupt; otherwise the caller
// re-reads the header and continues, usually finding the inflated record.
func (m *Memory) contendForLock(t *world.Thread, o *object.Object, deadline time.Time) (status LockStatus, final bool) {
	// Raise the contended bit so the holder cannot release without
	// inflating.
	for {
		w := o.Header()
		if w.Meaning() != object.MeaningLock || w.LockOwner() == t.ID() {
			return LockAcquired, false
		}
		if w.Contended() {
			break
		}
		if o.CasHeader(w, w.WithContended(true)) {
			break
		}
	}
	m.met.Lock.Contentions.Add(1)

	t.BecomeIndependent()
	defer t.BecomeDependent()

	wake := func() {
		m.contentionMu.Lock()
		m.contentionCond.Broadcast()
		m.contentionMu.Unlock()
	}
	t.SetWake(wake)
	defer t.SetWake(nil)

	var timer *time.Timer
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		timer = time.AfterFunc(d, wake)
		defer timer.Stop()
	}

	m.contentionMu.Lock()
	defer m.contentionMu.Unlock()
	for {
		w := o.Header()
		if w.Meaning() != object.MeaningLock || !w.Contended() {
			// Inflated, or released out from under us; retry outside.
			return LockAcquired, false
		}
		if t.TakeInterrupt() {
			m.met.Lock.Interrupts.Add(1)
			return LockInterrupted, true
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			m.met.Lock.Timeouts.Add(1)
			return LockTimedOut, true
		}
		m.contentionCond.Wait()
	}
}

// Unlock releases one level of the object's lock. Releasing a contended thin
// lock inflates it first so the parked waiters have a condition to acquire
// through.
func (m *Memory) Unlock(t *world.Thread, o *object.Object) error {
	for {
		o = object.Resolve(o)
		w := o.Header()
		switch w.Meaning() {
		case object.MeaningLock:
			if w.LockOwner() != t.ID() {
				return ErrNotOwner
			}
			if w.LockCount() > 1 {
				next := w.WithAux(object.MeaningLock, object.LockPayload(t.ID(), w.LockCount()-1))
				if o.CasHeader(w, next) {
					return nil
				}
				continue
			}
			if w.Contended() {
				if m.inflateForContention(t, o) {
					t.RemoveLocked(o)
					return nil
				}
				continue
			}
			if o.CasHeader(w, w.WithAux(object.MeaningEmpty, 0)) {
				t.RemoveLocked(o)
				return nil
			}
		case object.MeaningInflated:
			ih := m.inflated.Get(w.Payload())
			released, err := ih.Unlock(t)
			if err != nil {
				return err
			}
			if released {
				t.RemoveLocked(o)
			}
			return nil
		default:
			return ErrNotLocked
		}
	}
}

// LockedBy reports whether the given thread currently holds the object's
// lock, thin or inflated.
func (m *Memory) LockedBy(t *world.Thread, o *object.Object) bool {
	o = object.Resolve(o)
	w := o.Header()
	switch w.Meaning() {
	case object.MeaningLock:
		return w.LockOwner() == t.ID()
	case object.MeaningInflated:
		return m.inflated.Get(w.Payload()).LockedBy(t.ID())
	default:
		return false
	}
}

// inflatePreserving moves the aux slot's current contents (id, handle, or
// thin lock state) into a fresh inflated record and installs it. The slot
// transition is one-way; losing the installation race releases the
// speculative record and lets the caller re-read the header.
func (m *Memory) inflatePreserving(t *world.Thread, o *object.Object) {
	m.inflationMu.Lock()
	defer m.inflationMu.Unlock()

	o = object.Resolve(o)
	w := o.Header()
	if w.Meaning() == object.MeaningInflated {
		return
	}
	ih, idx := m.inflated.Allocate(o)
	switch w.Meaning() {
	case object.MeaningObjectID:
		ih.setObjectID(w.Payload())
	case object.MeaningHandle:
		ih.setHandleIndex(int32(w.Payload()))
	case object.MeaningLock:
		ih.initLock(w.LockOwner(), uint32(w.LockCount()))
	}
	next := w.WithContended(false).WithAux(object.MeaningInflated, idx)
	if !o.CasHeader(w, next) {
		m.inflated.Release(idx)
		return
	}
	m.met.Memory.Inflations.Add(1)
	if w.Contended() {
		m.wakeContenders()
	}
}

// inflateForContention is the unlocking holder's path: the fresh record is
// installed unlocked, the contended bit drops with the thin lock, and the
// parked waiters are woken to race for the record's condition.
func (m *Memory) inflateForContention(t *world.Thread, o *object.Object) bool {
	m.inflationMu.Lock()
	defer m.inflationMu.Unlock()

	o = object.Resolve(o)
	w := o.Header()
	if w.Meaning() != object.MeaningLock || w.LockOwner() != t.ID() || w.LockCount() != 1 {
		return false
	}
	_, idx := m.inflated.Allocate(o)
	next := w.WithContended(false).WithAux(object.MeaningInflated, idx)
	if !o.CasHeader(w, next) {
		m.inflated.Release(idx)
		return false
	}
	m.met.Memory.Inflations.Add(1)
	m.met.Lock.InflationsForContention.Add(1)
	m.wakeContenders()
	return true
}

func (m *Memory) wakeContenders() {
	m.contentionMu.Lock()
	m.contentionCond.Broadcast()
	m.contentionMu.Unlock()
}
