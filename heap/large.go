// ABOUTME: Mark-sweep space for objects above the large-object threshold
// ABOUTME: Individually tracked chunks swept with the full collection

package heap

import (
	"sync"

	"github.com/Red54/rubinius/object"
)

// Large is the large object space: each object is its own chunk on a free
// list, reclaimed by mark-sweep alongside the mature collection.
type Large struct {
	mu sync.RWMutex

	threshold    uint64
	triggerBytes uint64

	objects    map[*object.Object]struct{}
	totalBytes uint64

	// sinceCollect accumulates allocation since the last collection and
	// requests one when it crosses triggerBytes.
	sinceCollect   uint64
	requestCollect func()
}

// NewLarge creates an empty large object space.
func NewLarge(threshold, triggerBytes uint64, requestCollect func()) *Large {
	return &Large{
		threshold:      threshold,
		triggerBytes:   triggerBytes,
		objects:        make(map[*object.Object]struct{}),
		requestCollect: requestCollect,
	}
}

// Threshold returns the byte size above which allocations belong here.
func (l *Large) Threshold() uint64 {
	return l.threshold
}

// Allocate creates a zeroed object tracked by the space. Crossing the
// allocation trigger requests a full collection; the allocation itself
// still succeeds.
func (l *Large) Allocate(typeTag uint32, size uint64, refs int) *object.Object {
	o := object.New(object.ZoneLarge, typeTag, size, refs)
	l.adopt(o)
	return o
}

// MoveObject copies src into the space and leaves a forwarding pointer; the
// promotion path falls back to this when the mature space cannot take an
// object.
func (l *Large) MoveObject(src *object.Object) *object.Object {
	dst := object.Copy(src, object.ZoneLarge)
	l.adopt(dst)
	src.SetForward(dst)
	return dst
}

func (l *Large) adopt(o *object.Object) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.objects[o] = struct{}{}
	l.totalBytes += o.Size()
	l.sinceCollect += o.Size()
	if l.sinceCollect >= l.triggerBytes {
		l.sinceCollect = 0
		l.requestCollect()
	}
}

// Contains reports whether the object lives in the large object space.
func (l *Large) Contains(o *object.Object) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.objects[o]
	return ok
}

// forEach visits every object in the space.
func (l *Large) forEach(fn func(*object.Object)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for o := range l.objects {
		fn(o)
	}
}

// Sweep frees every object missing the given mark epoch. World stopped.
func (l *Large) Sweep(mark uint8) (freedObjects int, freedBytes uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for o := range l.objects {
		if o.Marked(mark) {
			continue
		}
		delete(l.objects, o)
		l.totalBytes -= o.Size()
		freedObjects++
		freedBytes += o.Size()
	}
	l.sinceCollect = 0
	return freedObjects, freedBytes
}

// UsedBytes returns the live byte footprint of the space.
func (l *Large) UsedBytes() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalBytes
}

// Count returns the number of tracked objects.
func (l *Large) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.objects)
}
