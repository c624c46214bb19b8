// ABOUTME: Copying semispace nursery for newly allocated small objects
// ABOUTME: Bump accounting with per-collection region flips

package heap

import (
	"sync"

	"github.com/Red54/rubinius/object"
)

// semispace is one of the nursery's two regions: a byte budget plus the set
// of objects living in it.
type semispace struct {
	used    uint64
	objects map[*object.Object]struct{}
}

func newSemispace() *semispace {
	return &semispace{objects: make(map[*object.Object]struct{})}
}

func (s *semispace) reset() {
	s.used = 0
	s.objects = make(map[*object.Object]struct{})
}

// Nursery is the young generation: a pair of semispaces allocated by bump
// accounting. Mutator threads allocate through slabs reserved from the
// active region under the allocation lock; the young collector copies
// survivors into the inactive region and flips.
type Nursery struct {
	mu       sync.RWMutex
	capacity uint64
	spaces   [2]*semispace
	active   int
}

// NewNursery creates a nursery with the given per-region byte capacity.
func NewNursery(capacity uint64) *Nursery {
	return &Nursery{
		capacity: capacity,
		spaces:   [2]*semispace{newSemispace(), newSemispace()},
	}
}

// ReserveSlab reserves budget bytes of the active region for a thread slab.
// Returns false when the region cannot hold the slab, signaling the caller
// to retry after a young collection. Callers hold the allocation lock.
func (n *Nursery) ReserveSlab(budget uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	a := n.spaces[n.active]
	if a.used+budget > n.capacity {
		return false
	}
	a.used += budget
	return true
}

// Adopt records flushed slab objects as members of the active region.
func (n *Nursery) Adopt(objs []*object.Object) {
	n.mu.Lock()
	defer n.mu.Unlock()
	a := n.spaces[n.active]
	for _, o := range objs {
		a.objects[o] = struct{}{}
	}
}

// Contains reports whether the object lives in the active region.
func (n *Nursery) Contains(o *object.Object) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.spaces[n.active].objects[o]
	return ok
}

// UsedBytes returns the bytes reserved in the active region.
func (n *Nursery) UsedBytes() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.spaces[n.active].used
}

// Capacity returns the per-region byte capacity.
func (n *Nursery) Capacity() uint64 {
	return n.capacity
}

// forEach visits every object in the active region.
func (n *Nursery) forEach(fn func(*object.Object)) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for o := range n.spaces[n.active].objects {
		fn(o)
	}
}

// copyInto places a survivor copy in the inactive region, or returns false
// when the region is full and the object must be promoted instead. Only the
// young collector calls this, under the stopped world.
func (n *Nursery) copyInto(o *object.Object) bool {
	to := n.spaces[1-n.active]
	if to.used+o.Size() > n.capacity {
		return false
	}
	to.used += o.Size()
	to.objects[o] = struct{}{}
	return true
}

// flip makes the inactive region active and empties the old one. Only the
// young collector calls this, under the stopped world.
func (n *Nursery) flip() {
	n.mu.Lock()
	defer n.mu.Unlock()
	old := n.spaces[n.active]
	n.active = 1 - n.active
	old.reset()
}
