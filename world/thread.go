// ABOUTME: Mutator thread identity, registry, roots and interrupt delivery
// ABOUTME: Threads flip between GC dependent and independent run states

package world

import (
	"sync"
	"sync/atomic"

	"github.com/Red54/rubinius/object"
)

// RunState describes a thread's relationship to stop-the-world.
type RunState int32

const (
	// Dependent threads may touch managed memory and must park at
	// checkpoints before a collection proceeds.
	Dependent RunState = iota
	// Independent threads are blocked in native regions: exempt from
	// parking, forbidden from touching managed memory.
	Independent
)

// Thread is the per-mutator state the memory subsystem cares about: a small
// id for thin-lock ownership, a root set, the list of objects the thread has
// thin-locked, and an interrupt flag that can cancel lock waits.
type Thread struct {
	id    uint16
	name  string
	state *State

	runState    atomic.Int32
	interrupted atomic.Bool

	// wake is invoked on interrupt to break the thread out of whatever
	// condition wait it is parked on. Guarded by wakeMu.
	wakeMu sync.Mutex
	wake   func()

	// roots and locked are written by the owning thread and read by
	// collectors under the stopped world.
	rootMu sync.Mutex
	roots  []*object.Root
	locked []*object.Object
}

// ID returns the thread id used for thin-lock ownership.
func (t *Thread) ID() uint16 {
	return t.id
}

// Name returns the diagnostic name given at registration.
func (t *Thread) Name() string {
	return t.name
}

// AddRoot registers an object as a root of this thread (a stack slot, local,
// or fiber reference) and returns the cell the thread reads through.
func (t *Thread) AddRoot(o *object.Object) *object.Root {
	r := object.NewRoot(o)
	t.rootMu.Lock()
	t.roots = append(t.roots, r)
	t.rootMu.Unlock()
	return r
}

// RemoveRoot drops a previously added root cell.
func (t *Thread) RemoveRoot(r *object.Root) {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	for i, cur := range t.roots {
		if cur == r {
			t.roots = append(t.roots[:i], t.roots[i+1:]...)
			return
		}
	}
}

// Roots returns the thread's root cells for scanning.
func (t *Thread) Roots() []*object.Root {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	return append([]*object.Root(nil), t.roots...)
}

// AddLocked records an object this thread holds a thin lock on, so the
// collector can update the reference if the object moves and drop it when
// the object dies.
func (t *Thread) AddLocked(o *object.Object) {
	t.rootMu.Lock()
	t.locked = append(t.locked, o)
	t.rootMu.Unlock()
}

// RemoveLocked drops an object from the locked list after unlock.
func (t *Thread) RemoveLocked(o *object.Object) {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	for i, cur := range t.locked {
		if cur == o {
			t.locked = append(t.locked[:i], t.locked[i+1:]...)
			return
		}
	}
}

// LockedObjects returns the thread's locked-object list.
func (t *Thread) LockedObjects() []*object.Object {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	return append([]*object.Object(nil), t.locked...)
}

// SetLockedObjects replaces the locked-object list; collectors use this to
// install updated references and drop dead entries.
func (t *Thread) SetLockedObjects(objs []*object.Object) {
	t.rootMu.Lock()
	t.locked = objs
	t.rootMu.Unlock()
}

// RunState returns the thread's current run state.
func (t *Thread) RunState() RunState {
	return RunState(t.runState.Load())
}

// BecomeIndependent marks the thread as blocked in a native region. The
// thread must not allocate or touch managed objects until it returns via
// BecomeDependent.
func (t *Thread) BecomeIndependent() {
	if t.runState.CompareAndSwap(int32(Dependent), int32(Independent)) {
		t.state.dropDependent()
	}
}

// BecomeDependent returns the thread to managed execution, waiting out any
// collection in progress.
func (t *Thread) BecomeDependent() {
	if t.runState.CompareAndSwap(int32(Independent), int32(Dependent)) {
		t.state.addDependent()
	}
}

// Checkpoint parks the thread if a collection is pending. Reports whether it
// paused.
func (t *Thread) Checkpoint() bool {
	return t.state.Checkpoint(t)
}

// Interrupt delivers an asynchronous interrupt: the flag is raised and any
// condition wait the thread is parked on is broken so the wait can report
// LockInterrupted.
func (t *Thread) Interrupt() {
	t.interrupted.Store(true)
	t.wakeMu.Lock()
	wake := t.wake
	t.wakeMu.Unlock()
	if wake != nil {
		wake()
	}
}

// Interrupted reports the interrupt flag without clearing it.
func (t *Thread) Interrupted() bool {
	return t.interrupted.Load()
}

// TakeInterrupt consumes a pending interrupt, reporting whether one was
// pending.
func (t *Thread) TakeInterrupt() bool {
	return t.interrupted.CompareAndSwap(true, false)
}

// SetWake installs the function Interrupt uses to break the thread out of a
// condition wait. Callers install it before blocking and remove it (nil)
// after.
func (t *Thread) SetWake(wake func()) {
	t.wakeMu.Lock()
	t.wake = wake
	t.wakeMu.Unlock()
}

// Registry enumerates the live mutator threads and hands out thin-lock
// thread ids.
type Registry struct {
	state *State

	mu      sync.Mutex
	threads []*Thread
	nextID  uint32
}

// NewRegistry creates a registry bound to a coordinator.
func NewRegistry(state *State) *Registry {
	return &Registry{state: state, nextID: 1}
}

// State returns the stop-the-world coordinator threads in this registry are
// subject to.
func (r *Registry) State() *State {
	return r.state
}

// NewThread registers a mutator thread. The thread starts dependent.
func (r *Registry) NewThread(name string) *Thread {
	r.mu.Lock()
	id := uint16(r.nextID)
	r.nextID++
	t := &Thread{id: id, name: name, state: r.state}
	r.threads = append(r.threads, t)
	r.mu.Unlock()

	r.state.addDependent()
	return t
}

// Remove unregisters an exiting thread and drops it from stop-the-world
// accounting.
func (r *Registry) Remove(t *Thread) {
	r.mu.Lock()
	for i, cur := range r.threads {
		if cur == t {
			r.threads = append(r.threads[:i], r.threads[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if t.runState.Load() == int32(Dependent) {
		r.state.dropDependent()
	}
}

// Threads returns a snapshot of the registered threads.
func (r *Registry) Threads() []*Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Thread(nil), r.threads...)
}

// Reset drops every thread but the survivor; used after a process fork when
// only the forking thread remains.
func (r *Registry) Reset(survivor *Thread) {
	r.mu.Lock()
	r.threads = []*Thread{survivor}
	r.mu.Unlock()
	survivor.runState.Store(int32(Dependent))
	r.state.Reinit()
}
