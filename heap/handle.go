// ABOUTME: Table of stable external handles pinned across collections
// ABOUTME: Handles survive moves by re-resolving, weak ones do not keep objects alive

package heap

import (
	"sync"

	"github.com/Red54/rubinius/object"
)

// Handle is a stable external reference to an object. The object may move
// between spaces; the table re-resolves the stored pointer after every
// copying phase, so a handle's index stays valid for the object's lifetime.
type Handle struct {
	index int32
	obj   *object.Object
	inUse bool

	// weak handles do not keep their object alive; the sweep clears them
	// when the object dies.
	weak bool
}

// Index returns the handle's table index.
func (h *Handle) Index() int32 {
	return h.index
}

// Object returns the current location of the referenced object, nil if the
// handle is weak and the object has died.
func (h *Handle) Object() *object.Object {
	return object.Resolve(h.obj)
}

// SetWeak downgrades the handle so it no longer keeps its object alive.
func (h *Handle) SetWeak() {
	h.weak = true
}

// Weak reports whether the handle is weak.
func (h *Handle) Weak() bool {
	return h.weak
}

// HandleTable owns every external handle. Allocation takes the write lock;
// collections iterate under the same lock with the world stopped.
type HandleTable struct {
	mu      sync.RWMutex
	entries []*Handle
	free    []int32
}

// NewHandleTable creates an empty table.
func NewHandleTable() *HandleTable {
	return &HandleTable{}
}

// Allocate hands out a handle bound to obj.
func (t *HandleTable) Allocate(obj *object.Object) *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	var h *Handle
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		h = t.entries[idx]
	} else {
		h = &Handle{index: int32(len(t.entries))}
		t.entries = append(t.entries, h)
	}
	h.obj = obj
	h.inUse = true
	h.weak = false
	return h
}

// release returns a speculative handle to the pool; a thread that lost the
// header race on installing it frees it this way.
func (t *HandleTable) release(h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h.obj = nil
	h.inUse = false
	t.free = append(t.free, h.index)
}

// Get returns the handle at idx, or ErrInvalidHandle if the index is out of
// range or the slot is free.
func (t *HandleTable) Get(idx int32) (*Handle, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || int(idx) >= len(t.entries) || !t.entries[idx].inUse {
		return nil, ErrInvalidHandle
	}
	return t.entries[idx], nil
}

// ForEach visits every in-use handle.
func (t *HandleTable) ForEach(fn func(*Handle)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, h := range t.entries {
		if h.inUse {
			fn(h)
		}
	}
}

// PruneYoung drops weak handles whose young objects died in a young
// collection, and re-resolves survivors. The dead predicate answers whether
// a young object survived. World stopped.
func (t *HandleTable) PruneYoung(dead func(*object.Object) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pruned := 0
	for _, h := range t.entries {
		if !h.inUse {
			continue
		}
		obj := object.Resolve(h.obj)
		if h.weak && obj != nil && dead(obj) {
			h.obj = nil
			h.inUse = false
			t.free = append(t.free, h.index)
			pruned++
			continue
		}
		h.obj = obj
	}
	return pruned
}

// Prune frees weak handles whose objects are missing the mark epoch at the
// end of a full collection, returning how many were freed. World stopped.
func (t *HandleTable) Prune(mark uint8) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pruned := 0
	for _, h := range t.entries {
		if !h.inUse {
			continue
		}
		obj := object.Resolve(h.obj)
		if h.weak && (obj == nil || !obj.Marked(mark)) {
			h.obj = nil
			h.inUse = false
			t.free = append(t.free, h.index)
			pruned++
			continue
		}
		h.obj = obj
	}
	return pruned
}

// LiveCount returns the number of in-use handles.
func (t *HandleTable) LiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	live := 0
	for _, h := range t.entries {
		if h.inUse {
			live++
		}
	}
	return live
}
