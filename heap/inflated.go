// ABOUTME: Pooled heavyweight per-object records behind inflated headers
// ABOUTME: Full mutex/condition lock semantics, identity and handle storage

package heap

import (
	"sync"
	"time"

	"github.com/Red54/rubinius/object"
	"github.com/Red54/rubinius/world"
)

// InflatedHeader is the heavyweight state an object graduates to when its
// header word can no longer hold everything inline: a real mutex and
// condition variable, the recursive lock state, the object id, and the
// external handle index. Created at most once per object and reclaimed only
// when the owning object dies in a full collection.
type InflatedHeader struct {
	mu   sync.Mutex
	cond *sync.Cond

	owner     uint16
	recursion uint32

	objectID    uint32
	handleIndex int32

	// obj is the owning object; the table uses it during sweeps and the
	// young collector updates it after a move.
	obj  *object.Object
	mark uint8

	inUse bool
}

func (ih *InflatedHeader) init(obj *object.Object) {
	ih.obj = obj
	ih.owner = 0
	ih.recursion = 0
	ih.objectID = 0
	ih.handleIndex = -1
	ih.mark = 0
	ih.inUse = true
}

func (ih *InflatedHeader) reset() {
	ih.obj = nil
	ih.owner = 0
	ih.recursion = 0
	ih.objectID = 0
	ih.handleIndex = -1
	ih.inUse = false
}

// initLock installs an initial lock state, used when inflation happens while
// the inflating thread holds the thin lock.
func (ih *InflatedHeader) initLock(owner uint16, recursion uint32) {
	ih.owner = owner
	ih.recursion = recursion
}

// ObjectID returns the stored object id, zero if unassigned.
func (ih *InflatedHeader) ObjectID() uint32 {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.objectID
}

// HandleIndex returns the stored handle index, -1 if none.
func (ih *InflatedHeader) HandleIndex() int32 {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.handleIndex
}

// TryLock attempts a non-blocking acquire. It reports whether the lock is
// held by the caller afterwards and whether this acquire was the first
// (non-recursive) one.
func (ih *InflatedHeader) TryLock(t *world.Thread) (acquired, first bool) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	switch ih.owner {
	case 0:
		ih.owner = t.ID()
		ih.recursion = 1
		return true, true
	case t.ID():
		ih.recursion++
		return true, false
	default:
		return false, false
	}
}

// LockWait blocks until the record's lock is acquired, the deadline passes,
// or the thread is interrupted. A zero deadline means wait forever. The
// caller is marked GC independent for the duration of the wait; all waiters
// are woken by a single broadcast per unlock and re-validate their own
// condition, so spurious wakeups are expected and harmless.
func (ih *InflatedHeader) LockWait(t *world.Thread, deadline time.Time, interruptible bool) (LockStatus, bool) {
	t.BecomeIndependent()
	defer t.BecomeDependent()

	wake := func() {
		ih.mu.Lock()
		ih.cond.Broadcast()
		ih.mu.Unlock()
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

	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.owner == t.ID() {
		ih.recursion++
		return LockAcquired, false
	}
	for ih.owner != 0 {
		if interruptible && t.TakeInterrupt() {
			return LockInterrupted, false
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return LockTimedOut, false
		}
		ih.cond.Wait()
	}
	ih.owner = t.ID()
	ih.recursion = 1
	return LockAcquired, true
}

// Unlock releases one level of the recursive lock, waking waiters on the
// final release. It reports whether the lock is now fully released.
func (ih *InflatedHeader) Unlock(t *world.Thread) (released bool, err error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.owner == 0 {
		return false, ErrNotLocked
	}
	if ih.owner != t.ID() {
		return false, ErrNotOwner
	}
	ih.recursion--
	if ih.recursion > 0 {
		return false, nil
	}
	ih.owner = 0
	ih.cond.Broadcast()
	return true, nil
}

// LockedBy reports whether the record's lock is held by the given thread id.
func (ih *InflatedHeader) LockedBy(id uint16) bool {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.owner == id
}

// Recursion returns the current recursive lock depth.
func (ih *InflatedHeader) Recursion() uint32 {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.recursion
}

// setObjectID stores the object id if none is set yet, returning the id now
// in effect.
func (ih *InflatedHeader) setObjectID(id uint32) uint32 {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.objectID == 0 {
		ih.objectID = id
	}
	return ih.objectID
}

// setHandleIndex stores the handle index if none is set yet, returning the
// index now in effect.
func (ih *InflatedHeader) setHandleIndex(idx int32) int32 {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.handleIndex < 0 {
		ih.handleIndex = idx
	}
	return ih.handleIndex
}

// InflatedTable pools the inflated records. Records are handed out under the
// process-wide inflation lock; dead records are reclaimed when their owning
// object is found unmarked at the end of a full collection.
type InflatedTable struct {
	mu      sync.Mutex
	entries []*InflatedHeader
	free    []uint32
}

// NewInflatedTable creates an empty table.
func NewInflatedTable() *InflatedTable {
	return &InflatedTable{}
}

// Allocate hands out a fresh record bound to obj and its table index.
func (t *InflatedTable) Allocate(obj *object.Object) (*InflatedHeader, uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var idx uint32
	var ih *InflatedHeader
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
		ih = t.entries[idx]
	} else {
		ih = &InflatedHeader{}
		ih.cond = sync.NewCond(&ih.mu)
		idx = uint32(len(t.entries))
		t.entries = append(t.entries, ih)
	}
	ih.init(obj)
	return ih, idx
}

// Release returns a record to the pool; a thread that lost an inflation race
// clears its speculative record this way.
func (t *InflatedTable) Release(idx uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[idx].reset()
	t.free = append(t.free, idx)
}

// Get returns the record at the given index.
func (t *InflatedTable) Get(idx uint32) *InflatedHeader {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[idx]
}

// UpdateMoved repoints records at the current locations of their owning
// objects after a copying phase. World stopped.
func (t *InflatedTable) UpdateMoved() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ih := range t.entries {
		if ih.inUse {
			ih.obj = object.Resolve(ih.obj)
		}
	}
}

// ReleaseDead reclaims every record whose owning object is missing the mark
// epoch, returning how many were freed. World stopped.
func (t *InflatedTable) ReleaseDead(mark uint8) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	freed := 0
	for i, ih := range t.entries {
		if !ih.inUse {
			continue
		}
		obj := object.Resolve(ih.obj)
		if obj != nil && obj.Marked(mark) {
			ih.obj = obj
			continue
		}
		ih.reset()
		t.free = append(t.free, uint32(i))
		freed++
	}
	return freed
}

// LiveCount returns the number of records currently in use.
func (t *InflatedTable) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	live := 0
	for _, ih := range t.entries {
		if ih.inUse {
			live++
		}
	}
	return live
}
