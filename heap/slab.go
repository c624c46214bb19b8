// ABOUTME: Thread-local bump allocation buffers carved from the nursery
// ABOUTME: Fast-path allocation runs without the shared allocation lock

package heap

import (
	"sync"

	"github.com/Red54/rubinius/object"
)

// Slab is a thread-private allocation buffer. The owning thread allocates
// from it without taking the shared allocation lock; refills go through the
// memory manager, which holds the lock while reserving nursery room. After a
// young collection every slab is reset to zero size so no thread can keep
// allocating into reclaimed memory.
type Slab struct {
	mu sync.Mutex

	// remaining is the byte budget left in the current refill.
	remaining uint64

	// objects allocated from this slab since the last flush, pending
	// adoption by the nursery.
	objects []*object.Object

	allocations uint64
	usedBytes   uint64
}

// Allocate carves an object out of the slab, or returns nil if the slab
// cannot hold size more bytes. Only the owning thread calls this on the fast
// path; the mutex exists for validation scans from other threads.
func (s *Slab) Allocate(typeTag uint32, size uint64, refs int) *object.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size > s.remaining {
		return nil
	}
	s.remaining -= size
	o := object.New(object.ZoneYoung, typeTag, size, refs)
	s.objects = append(s.objects, o)
	s.allocations++
	s.usedBytes += size
	return o
}

// Refill resets the slab to a fresh byte budget. A budget of zero empties
// the slab, forcing the next allocation through the shared refill path.
func (s *Slab) Refill(budget uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining = budget
	s.allocations = 0
	s.usedBytes = 0
}

// Remaining returns the byte budget left.
func (s *Slab) Remaining() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// flush hands the slab's pending objects to the caller and clears the list,
// returning the retired allocation counters as well.
func (s *Slab) flush() (objs []*object.Object, allocations, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	objs = s.objects
	s.objects = nil
	allocations = s.allocations
	bytes = s.usedBytes
	s.allocations = 0
	s.usedBytes = 0
	return objs, allocations, bytes
}

// contains reports whether the object was allocated from this slab and not
// yet flushed.
func (s *Slab) contains(o *object.Object) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.objects {
		if cur == o {
			return true
		}
	}
	return false
}
