// ABOUTME: The young collection: copy survivors, promote the tenured, flip
// ABOUTME: Traverses the full reachable graph, no remembered set is kept

package heap

import (
	"time"

	"github.com/Red54/rubinius/object"
)

// youngScan tracks one young collection's traversal state: the copied-or-
// visited set and the worklist of objects whose fields still need updating.
type youngScan struct {
	m       *Memory
	visited map[*object.Object]struct{}
	work    []*object.Object
}

// copy returns the post-collection location of o: the survivor copy, the
// promoted copy, or o itself when it is not young. Every first visit queues
// the result so its fields get rewritten too.
func (ys *youngScan) copy(o *object.Object) *object.Object {
	o = object.Resolve(o)
	if o == nil {
		return nil
	}
	// Copies and already-scanned objects resolve to a visited entry.
	if _, ok := ys.visited[o]; ok {
		return o
	}
	if o.Zone() != object.ZoneYoung {
		ys.visited[o] = struct{}{}
		ys.work = append(ys.work, o)
		return o
	}

	var dst *object.Object
	if int(o.Age()) >= ys.m.cfg.TenureAge {
		dst = ys.m.Promote(o)
	} else {
		dst = object.Copy(o, object.ZoneYoung)
		if ys.m.nursery.copyInto(dst) {
			o.SetForward(dst)
		} else {
			// To-space is full; tenure early instead.
			dst = ys.m.Promote(o)
		}
	}
	ys.visited[dst] = struct{}{}
	ys.work = append(ys.work, dst)
	return dst
}

// drain rewrites the fields of every queued object through the copy map.
func (ys *youngScan) drain() {
	for len(ys.work) > 0 {
		o := ys.work[len(ys.work)-1]
		ys.work = ys.work[:len(ys.work)-1]
		for i, f := range o.Fields {
			if f != nil {
				o.Fields[i] = ys.copy(f)
			}
		}
	}
}

// collectYoungNow runs a young collection. Caller owns the stopped world.
//
// Survivors are copied into the inactive semispace, objects at the tenure
// age (or overflowing the to-space) are promoted, and every root, handle,
// locked-object list, finalizer entry and inflated record is rewritten to
// the new locations. Weak handles and references to dead young objects are
// cleared after the flip, and every thread slab is emptied so the next
// allocation reserves fresh nursery room.
func (m *Memory) collectYoungNow() {
	m.collectYoungFlag.Store(false)
	start := time.Now()

	m.slabs.Range(func(_, v interface{}) bool {
		s := v.(*Slab)
		objs, allocations, bytes := s.flush()
		m.nursery.Adopt(objs)
		m.met.Memory.YoungObjects.Add(allocations)
		m.met.Memory.YoungBytes.Add(bytes)
		return true
	})

	ys := &youngScan{m: m, visited: make(map[*object.Object]struct{})}
	snap := m.takeSnapshot()

	for _, r := range snap.globals {
		r.Set(ys.copy(r.Get()))
	}
	for _, t := range snap.threads {
		for _, r := range t.Roots() {
			r.Set(ys.copy(r.Get()))
		}
		locked := t.LockedObjects()
		for i, o := range locked {
			locked[i] = ys.copy(o)
		}
		t.SetLockedObjects(locked)
	}
	m.handles.ForEach(func(h *Handle) {
		if !h.Weak() {
			h.obj = ys.copy(h.obj)
		}
	})
	m.finalizers.updateRefs(ys.copy)

	ys.drain()

	m.inflated.UpdateMoved()
	m.nursery.flip()

	// After the flip, a young-zone object outside the active region is one
	// that was never copied: dead.
	deadYoung := func(o *object.Object) bool {
		return o.Zone() == object.ZoneYoung && !m.nursery.Contains(o)
	}
	m.handles.PruneYoung(deadYoung)
	m.cleanYoungWeakRefs(deadYoung)

	m.slabs.Range(func(_, v interface{}) bool {
		v.(*Slab).Refill(0)
		return true
	})

	m.met.GC.YoungCount.Add(1)
	m.met.GC.YoungMillis.Add(uint64(time.Since(start).Milliseconds()))
}

// cleanYoungWeakRefs nils weak references whose young targets did not
// survive the collection.
func (m *Memory) cleanYoungWeakRefs(dead func(*object.Object) bool) {
	m.weakMu.Lock()
	defer m.weakMu.Unlock()
	kept := m.weakRefs[:0]
	for _, w := range m.weakRefs {
		if w.clearIf(dead) {
			continue
		}
		kept = append(kept, w)
	}
	m.weakRefs = kept
}
