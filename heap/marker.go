// ABOUTME: Tri-color style marking for the full collection
// ABOUTME: Runs concurrently with mutators, finishes under the stopped world

package heap

import (
	"sync"
	"time"

	"github.com/Red54/rubinius/object"
)

// markStack is the gray set of the mark phase: objects stamped with the
// current epoch whose fields have not been scanned yet.
type markStack struct {
	mu    sync.Mutex
	items []*object.Object
}

func newMarkStack() *markStack {
	return &markStack{}
}

func (s *markStack) push(o *object.Object) {
	s.mu.Lock()
	s.items = append(s.items, o)
	s.mu.Unlock()
}

func (s *markStack) pop() *object.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	if n == 0 {
		return nil
	}
	o := s.items[n-1]
	s.items = s.items[:n-1]
	return o
}

func (s *markStack) reset() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}

// markObject stamps the object with the current epoch and queues it for
// scanning. Already-marked objects are left alone, so the traversal
// terminates on cycles.
func (m *Memory) markObject(o *object.Object) {
	o = object.Resolve(o)
	if o == nil {
		return
	}
	mark := m.CurrentMark()
	if o.Marked(mark) {
		return
	}
	o.SetMarked(mark)
	if o.Zone() == object.ZoneMature {
		m.mature.MarkLines(o)
	}
	m.marks.push(o)
}

// scanObject marks every reference the object holds. It never rewrites the
// slots; forwarding is resolved at mark time instead, since mutators may be
// running.
func (m *Memory) scanObject(o *object.Object) {
	for _, f := range o.Fields {
		if f != nil {
			m.markObject(f)
		}
	}
}

// markScan seeds the mark stack from a root snapshot: global cells, every
// thread's roots, and the strong external handles. The locked-object lists
// are deliberately not roots; holding a thin lock does not keep an otherwise
// unreachable object alive, and the finish phase prunes dead entries. World
// stopped.
func (m *Memory) markScan(snap *snapshot) {
	for _, r := range snap.globals {
		m.markObject(r.Get())
	}
	for _, t := range snap.threads {
		for _, r := range t.Roots() {
			m.markObject(r.Get())
		}
	}
	m.handles.ForEach(func(h *Handle) {
		if !h.Weak() {
			m.markObject(h.Object())
		}
	})
}

// drainMarkStack scans queued objects until the gray set is empty, returning
// how many it processed.
func (m *Memory) drainMarkStack() int {
	processed := 0
	for {
		o := m.marks.pop()
		if o == nil {
			return processed
		}
		m.scanObject(o)
		processed++
	}
}

// rescanForeign re-marks the fields of every live foreign-flagged object.
// Unmanaged code mutates these without the write barrier, so the finish
// phase repeats this until no new objects turn up.
func (m *Memory) rescanForeign() {
	mark := m.CurrentMark()
	visit := func(o *object.Object) {
		if o.Foreign() && o.Marked(mark) {
			m.scanObject(o)
		}
	}
	m.nursery.forEach(visit)
	m.mature.forEach(visit)
	m.large.forEach(visit)
}

// startMatureCollection begins a full collection: clears the line marks,
// seeds the mark stack from the roots, and either hands the traversal to the
// background marker or runs it to completion in place. Caller owns the
// stopped world.
func (m *Memory) startMatureCollection() {
	m.collectMatureFlag.Store(false)
	if !m.matureInProgress.CompareAndSwap(false, true) {
		return
	}
	m.mature.ClearLineMarks()
	m.markScan(m.takeSnapshot())
	if m.cfg.ConcurrentMarking {
		go m.runMarker()
		return
	}
	m.drainMarkStack()
	m.finishMatureCollection()
}

// runMarker drains the mark stack off the mutators' backs, then requests the
// finish phase at the next safepoint. The marker registers as a dependent
// thread and checkpoints between scan steps, so a young collection can stop
// the world and move objects without the marker reading their fields
// mid-rewrite. Registration itself waits out the stop that started the
// collection.
func (m *Memory) runMarker() {
	t := m.threads.NewThread("marker")
	defer m.threads.Remove(t)

	start := time.Now()
	for {
		o := m.marks.pop()
		if o == nil {
			break
		}
		// The entry may predate a young collection that moved the object.
		m.scanObject(object.Resolve(o))
		t.Checkpoint()
	}
	m.met.GC.ConcurrentMillis.Add(uint64(time.Since(start).Milliseconds()))
	m.finishMatureFlag.Store(true)
}

// finishMatureCollection completes a full collection under the stopped
// world: the roots are re-scanned, barrier-recorded and foreign objects are
// caught up, weak references are cleared before finalizers can resurrect
// anything, dead finalizers are queued, and the spaces are swept. The mark
// epoch rotates last.
func (m *Memory) finishMatureCollection() {
	start := time.Now()
	mark := m.CurrentMark()

	m.drainMarkStack()
	m.markScan(m.takeSnapshot())
	m.drainMarkStack()

	m.markedMu.Lock()
	mutated := m.markedSet
	m.markedSet = make(map[*object.Object]struct{})
	m.markedMu.Unlock()
	for o := range mutated {
		o = object.Resolve(o)
		if o.Marked(mark) {
			m.scanObject(o)
		}
	}
	m.drainMarkStack()

	for {
		m.rescanForeign()
		if m.drainMarkStack() == 0 {
			break
		}
	}

	m.cleanWeakRefs(mark)

	for _, o := range m.finalizers.walk(mark) {
		m.markObject(o)
	}
	m.drainMarkStack()

	for _, t := range m.threads.Threads() {
		locked := t.LockedObjects()
		kept := locked[:0]
		for _, o := range locked {
			o = object.Resolve(o)
			if o.Marked(mark) {
				kept = append(kept, o)
			}
		}
		t.SetLockedObjects(kept)
	}

	m.large.Sweep(mark)
	m.handles.Prune(mark)
	m.inflated.ReleaseDead(mark)
	stats := m.mature.Sweep(mark)
	if stats.Grew {
		m.met.GC.ChunksAdded.Add(1)
	}

	m.rotateMark()
	m.matureInProgress.Store(false)
	m.met.GC.FullCount.Add(1)
	m.met.GC.FullStopMillis.Add(uint64(time.Since(start).Milliseconds()))
}

// cleanWeakRefs nils every weak reference whose target missed the mark.
// Running before the finalizer walk means resurrection cannot revive a weak
// reference.
func (m *Memory) cleanWeakRefs(mark uint8) {
	m.weakMu.Lock()
	defer m.weakMu.Unlock()
	kept := m.weakRefs[:0]
	for _, w := range m.weakRefs {
		if w.clearIf(func(o *object.Object) bool { return !o.Marked(mark) }) {
			continue
		}
		kept = append(kept, w)
	}
	m.weakRefs = kept
}
