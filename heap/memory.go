// ABOUTME: The memory manager tying the spaces, tables and collectors together
// ABOUTME: Allocation routing, header services, collection requests and fork reset

package heap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Red54/rubinius/config"
	"github.com/Red54/rubinius/metrics"
	"github.com/Red54/rubinius/object"
	"github.com/Red54/rubinius/world"
)

// initialMark is the mark epoch the first full collection stamps. Rotation
// alternates between 1 and 2.
const initialMark = 2

// Memory is the memory manager: it owns the three spaces, the inflated
// record, handle and finalizer tables, and the collection machinery. One
// Memory exists per managed process.
type Memory struct {
	cfg config.Config
	met *metrics.Metrics

	state   *world.State
	threads *world.Registry

	nursery *Nursery
	mature  *Mature
	large   *Large

	inflated   *InflatedTable
	handles    *HandleTable
	finalizers *FinalizerTable

	// allocMu serializes the slow allocation paths: slab refills and direct
	// mature/large placement.
	allocMu sync.Mutex

	// inflationMu serializes header inflation so the slot's one-way
	// transition is decided by a single winner at a time.
	inflationMu sync.Mutex

	// contentionMu guards the process-wide contention condition that
	// threads wait on for a contended thin lock to inflate.
	contentionMu   sync.Mutex
	contentionCond *sync.Cond

	// slabs maps thread id to that thread's allocation slab.
	slabs sync.Map

	globalMu sync.Mutex
	globals  []*object.Root

	weakMu   sync.Mutex
	weakRefs []*WeakRef

	// mark is the current mark epoch, rotated after each full collection.
	mark atomic.Uint32

	collectYoungFlag  atomic.Bool
	collectMatureFlag atomic.Bool
	finishMatureFlag  atomic.Bool
	matureInProgress  atomic.Bool

	marks *markStack

	// markedMu guards the write-barrier set of objects mutated while
	// concurrent marking runs; the finish phase re-scans them.
	markedMu  sync.Mutex
	markedSet map[*object.Object]struct{}

	lastObjectID  atomic.Uint32
	foreignBudget atomic.Int64
}

// NewMemory creates a memory manager from the given configuration.
func NewMemory(cfg config.Config) (*Memory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Memory{
		cfg:        cfg,
		met:        metrics.New(),
		state:      world.NewState(),
		inflated:   NewInflatedTable(),
		handles:    NewHandleTable(),
		finalizers: NewFinalizerTable(),
		marks:      newMarkStack(),
		markedSet:  make(map[*object.Object]struct{}),
	}
	m.threads = world.NewRegistry(m.state)
	m.contentionCond = sync.NewCond(&m.contentionMu)
	m.nursery = NewNursery(uint64(cfg.NurserySize))
	m.mature = NewMature(cfg, m.RequestFullCollection, func() {
		m.met.Memory.MatureChunks.Add(1)
	})
	m.large = NewLarge(uint64(cfg.LargeObjectThreshold), uint64(cfg.LargeTriggerBytes),
		m.RequestFullCollection)
	m.mark.Store(initialMark)
	m.foreignBudget.Store(int64(cfg.ForeignTriggerBytes))
	return m, nil
}

// Config returns the configuration the manager was built with.
func (m *Memory) Config() config.Config {
	return m.cfg
}

// Metrics returns the manager's counter set.
func (m *Memory) Metrics() *metrics.Metrics {
	return m.met
}

// Threads returns the mutator thread registry.
func (m *Memory) Threads() *world.Registry {
	return m.threads
}

// CurrentMark returns the mark epoch live objects carry after the most recent
// full collection.
func (m *Memory) CurrentMark() uint8 {
	return uint8(m.mark.Load())
}

func (m *Memory) rotateMark() {
	m.mark.Store(uint32(m.CurrentMark() ^ 3))
}

// slabFor returns the thread's allocation slab, creating an empty one on
// first use so the first allocation goes through the refill path.
func (m *Memory) slabFor(t *world.Thread) *Slab {
	if s, ok := m.slabs.Load(t.ID()); ok {
		return s.(*Slab)
	}
	s, _ := m.slabs.LoadOrStore(t.ID(), &Slab{})
	return s.(*Slab)
}

// Allocate creates an object on behalf of a mutator thread. Small objects go
// through the thread's slab; allocations above the large-object threshold go
// straight to the large object space. When the nursery cannot hold the
// object a young collection is requested and the object is placed in the
// mature space instead.
func (m *Memory) Allocate(t *world.Thread, typeTag uint32, size uint64, refs int) (*object.Object, error) {
	if size > uint64(m.cfg.LargeObjectThreshold) {
		return m.AllocateEnduring(typeTag, size, refs)
	}

	slab := m.slabFor(t)
	if o := slab.Allocate(typeTag, size, refs); o != nil {
		return o, nil
	}
	if m.RefillSlab(t) {
		if o := slab.Allocate(typeTag, size, refs); o != nil {
			return o, nil
		}
	}

	// The nursery is full. Ask for a young collection and place the object
	// directly in the mature space so the mutator keeps running.
	m.RequestYoungCollection()
	return m.AllocateMature(typeTag, size, refs)
}

// AllocateMature places an object directly in the mature space, falling back
// to the large object space when it does not fit a block.
func (m *Memory) AllocateMature(typeTag uint32, size uint64, refs int) (*object.Object, error) {
	m.allocMu.Lock()
	o := m.mature.Allocate(typeTag, size, refs)
	m.allocMu.Unlock()
	if o == nil {
		return m.AllocateEnduring(typeTag, size, refs)
	}
	// Born during marking means born marked, or the sweep would eat it.
	if m.matureInProgress.Load() {
		m.markObject(o)
	}
	m.met.Memory.MatureObjects.Add(1)
	m.met.Memory.MatureBytes.Add(size)
	return o, nil
}

// AllocateEnduring places an object in the large object space regardless of
// size; callers use it for objects known to be long-lived.
func (m *Memory) AllocateEnduring(typeTag uint32, size uint64, refs int) (*object.Object, error) {
	o := m.large.Allocate(typeTag, size, refs)
	if m.matureInProgress.Load() {
		m.markObject(o)
	}
	m.met.Memory.LargeObjects.Add(1)
	m.met.Memory.LargeBytes.Add(size)
	return o, nil
}

// RefillSlab flushes the thread's slab into the nursery and reserves a fresh
// budget for it. Returns false when the nursery has no room, in which case
// the slab is left empty and a young collection has been requested.
func (m *Memory) RefillSlab(t *world.Thread) bool {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	slab := m.slabFor(t)
	objs, allocations, bytes := slab.flush()
	m.nursery.Adopt(objs)
	m.met.Memory.YoungObjects.Add(allocations)
	m.met.Memory.YoungBytes.Add(bytes)

	if !m.nursery.ReserveSlab(uint64(m.cfg.SlabSize)) {
		slab.Refill(0)
		m.met.Memory.SlabRefillFails.Add(1)
		m.RequestYoungCollection()
		return false
	}
	slab.Refill(uint64(m.cfg.SlabSize))
	m.met.Memory.SlabRefills.Add(1)
	return true
}

// Promote moves a young object into the mature space, or into the large
// object space when it does not fit a block. While a full collection is
// marking, the copy is marked on arrival; otherwise the next full collection
// decides its fate. Collector use only, world stopped.
func (m *Memory) Promote(o *object.Object) *object.Object {
	dst := m.mature.MoveObject(o)
	if dst == nil {
		dst = m.large.MoveObject(o)
	}
	if m.matureInProgress.Load() {
		m.markObject(dst)
	} else {
		dst.ClearMark()
	}
	m.met.Memory.PromotedObjects.Add(1)
	m.met.Memory.PromotedBytes.Add(dst.Size())
	return dst
}

// RequestYoungCollection asks for a young collection at the next safepoint.
func (m *Memory) RequestYoungCollection() {
	m.collectYoungFlag.Store(true)
}

// RequestFullCollection asks for a full collection at the next safepoint.
func (m *Memory) RequestFullCollection() {
	m.collectMatureFlag.Store(true)
}

func (m *Memory) collectionRequested() bool {
	return m.collectYoungFlag.Load() ||
		m.collectMatureFlag.Load() ||
		m.finishMatureFlag.Load()
}

// CollectIfRequested is the safepoint: mutator threads call it between units
// of work. If a collection is pending the calling thread either runs it
// (after stopping the world) or parks until the winning thread is done.
func (m *Memory) CollectIfRequested(t *world.Thread) {
	for m.collectionRequested() {
		if !m.state.StopTheWorld(t) {
			t.Checkpoint()
			continue
		}
		m.runCollections(t)
		m.state.Restart(t)
	}
}

// runCollections runs whatever phases are pending, in generation order:
// young first, then the start or finish of a full collection. Caller owns
// the stopped world.
func (m *Memory) runCollections(t *world.Thread) {
	if m.collectYoungFlag.Load() {
		m.collectYoungNow()
	}
	if m.collectMatureFlag.Load() {
		m.startMatureCollection()
	}
	if m.finishMatureFlag.CompareAndSwap(true, false) {
		m.finishMatureCollection()
	}
}

// ValidObject checks that an object's header zone agrees with the space that
// actually holds it, returning a descriptive error when the heap is
// inconsistent.
func (m *Memory) ValidObject(o *object.Object) error {
	if o == nil {
		return fmt.Errorf("nil object: %w", ErrHeaderState)
	}
	o = object.Resolve(o)
	switch z := o.Zone(); z {
	case object.ZoneYoung:
		if m.nursery.Contains(o) || m.inAnySlab(o) {
			return nil
		}
		return fmt.Errorf("young object not in nursery: %w", ErrHeaderState)
	case object.ZoneMature:
		if m.mature.Contains(o) {
			return nil
		}
		return fmt.Errorf("mature object not in mature space: %w", ErrHeaderState)
	case object.ZoneLarge:
		if m.large.Contains(o) {
			return nil
		}
		return fmt.Errorf("large object not in large space: %w", ErrHeaderState)
	default:
		return fmt.Errorf("object in zone %s: %w", z, ErrHeaderState)
	}
}

// inAnySlab reports whether the object sits unflushed in some thread's slab.
func (m *Memory) inAnySlab(o *object.Object) bool {
	found := false
	m.slabs.Range(func(_, v interface{}) bool {
		if v.(*Slab).contains(o) {
			found = true
			return false
		}
		return true
	})
	return found
}

// AssignObjectID returns the object's stable identity, assigning one on
// first request. Assigning an id to an object whose aux slot already holds
// its thin lock or handle forces inflation.
func (m *Memory) AssignObjectID(t *world.Thread, o *object.Object) uint32 {
	for {
		o = object.Resolve(o)
		w := o.Header()
		switch w.Meaning() {
		case object.MeaningEmpty:
			id := m.lastObjectID.Add(1)
			if o.CasHeader(w, w.WithAux(object.MeaningObjectID, id)) {
				return id
			}
		case object.MeaningObjectID:
			return w.Payload()
		case object.MeaningLock, object.MeaningHandle:
			m.inflatePreserving(t, o)
		case object.MeaningInflated:
			ih := m.inflated.Get(w.Payload())
			if id := ih.ObjectID(); id != 0 {
				return id
			}
			return ih.setObjectID(m.lastObjectID.Add(1))
		}
	}
}

// NewHandle returns a stable external handle for the object, creating one on
// first request. Creating a handle for an object whose aux slot already
// holds its id or thin lock forces inflation.
func (m *Memory) NewHandle(t *world.Thread, o *object.Object) (*Handle, error) {
	for {
		o = object.Resolve(o)
		w := o.Header()
		switch w.Meaning() {
		case object.MeaningEmpty:
			h := m.handles.Allocate(o)
			if o.CasHeader(w, w.WithAux(object.MeaningHandle, uint32(h.Index()))) {
				m.met.Memory.Handles.Add(1)
				return h, nil
			}
			m.handles.release(h)
		case object.MeaningHandle:
			return m.handles.Get(int32(w.Payload()))
		case object.MeaningObjectID, object.MeaningLock:
			m.inflatePreserving(t, o)
		case object.MeaningInflated:
			ih := m.inflated.Get(w.Payload())
			if idx := ih.HandleIndex(); idx >= 0 {
				return m.handles.Get(idx)
			}
			h := m.handles.Allocate(o)
			if got := ih.setHandleIndex(h.Index()); got != h.Index() {
				m.handles.release(h)
				return m.handles.Get(got)
			}
			m.met.Memory.Handles.Add(1)
			return h, nil
		}
	}
}

// Handles returns the external handle table.
func (m *Memory) Handles() *HandleTable {
	return m.handles
}

// InflatedRecords returns the inflated header table.
func (m *Memory) InflatedRecords() *InflatedTable {
	return m.inflated
}

// StoreField writes a reference slot. While concurrent marking runs, mutated
// objects are recorded so the finish phase re-scans them; this is the write
// barrier that keeps the snapshot traversal sound.
func (m *Memory) StoreField(obj *object.Object, index int, val *object.Object) {
	obj = object.Resolve(obj)
	obj.Fields[index] = val
	if m.matureInProgress.Load() && val != nil {
		m.markedMu.Lock()
		m.markedSet[obj] = struct{}{}
		m.markedMu.Unlock()
	}
}

// TrackForeignBytes counts down unmanaged allocation attributed to managed
// objects and requests a full collection when the budget runs out.
func (m *Memory) TrackForeignBytes(n uint64) {
	if m.foreignBudget.Add(-int64(n)) <= 0 {
		m.foreignBudget.Store(int64(m.cfg.ForeignTriggerBytes))
		m.RequestFullCollection()
	}
}

// AddGlobalRoot registers a process-wide root cell for o.
func (m *Memory) AddGlobalRoot(o *object.Object) *object.Root {
	r := object.NewRoot(o)
	m.globalMu.Lock()
	m.globals = append(m.globals, r)
	m.globalMu.Unlock()
	return r
}

// RemoveGlobalRoot drops a previously registered global root.
func (m *Memory) RemoveGlobalRoot(r *object.Root) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	for i, cur := range m.globals {
		if cur == r {
			m.globals = append(m.globals[:i], m.globals[i+1:]...)
			return
		}
	}
}

// SetFinalizer registers fn to run after o becomes unreachable.
func (m *Memory) SetFinalizer(o *object.Object, fn FinalizerFunc) {
	m.finalizers.Record(o, fn)
}

// RunFinalizers runs pending finalizers on the calling thread, returning how
// many ran.
func (m *Memory) RunFinalizers() int {
	return m.finalizers.Drain()
}

// Finalizers returns the finalizer table, for starting the background
// worker.
func (m *Memory) Finalizers() *FinalizerTable {
	return m.finalizers
}

// NewWeakRef creates a weak reference to o.
func (m *Memory) NewWeakRef(o *object.Object) *WeakRef {
	w := &WeakRef{target: o}
	m.weakMu.Lock()
	m.weakRefs = append(m.weakRefs, w)
	m.weakMu.Unlock()
	return w
}

// AfterFork resets the manager in a forked child where only the calling
// thread survived: thread accounting restarts at one dependent thread, other
// threads' slabs are dropped, and any in-flight collection state is
// discarded. The heap contents themselves carry over.
func (m *Memory) AfterFork(t *world.Thread) {
	m.threads.Reset(t)

	m.slabs.Range(func(k, _ interface{}) bool {
		if k.(uint16) != t.ID() {
			m.slabs.Delete(k)
		}
		return true
	})

	m.collectYoungFlag.Store(false)
	m.collectMatureFlag.Store(false)
	m.finishMatureFlag.Store(false)
	m.matureInProgress.Store(false)
	m.marks.reset()
	m.markedMu.Lock()
	m.markedSet = make(map[*object.Object]struct{})
	m.markedMu.Unlock()

	m.contentionMu.Lock()
	m.contentionCond.Broadcast()
	m.contentionMu.Unlock()
}
