// ABOUTME: Finalizer registration, collection-time queueing and draining
// ABOUTME: Queued objects are kept alive until their finalizer has run

package heap

import (
	"sync"

	"github.com/Red54/rubinius/object"
)

// FinalizerFunc runs after its object has been found dead. The object is
// alive again for the duration of the call.
type FinalizerFunc func(*object.Object)

// finalizerEntry tracks one registered finalizer across collections.
type finalizerEntry struct {
	obj    *object.Object
	fn     FinalizerFunc
	queued bool
	done   bool
}

// FinalizerTable holds every registered finalizer. The collector walks it at
// the end of a full collection: entries whose objects died are queued, and
// every entry's object is marked so nothing is reclaimed before its
// finalizer has run. Callbacks never run on collector threads; Drain runs
// them on the calling thread, or a dedicated worker runs them if started.
type FinalizerTable struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries []*finalizerEntry
	queue   []*finalizerEntry

	running bool
	stop    bool
	done    chan struct{}
}

// NewFinalizerTable creates an empty table.
func NewFinalizerTable() *FinalizerTable {
	t := &FinalizerTable{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Record registers fn to run when obj becomes unreachable. Registering a
// second finalizer for the same object replaces the first.
func (t *FinalizerTable) Record(obj *object.Object, fn FinalizerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if object.Resolve(e.obj) == obj && !e.done {
			e.fn = fn
			return
		}
	}
	t.entries = append(t.entries, &finalizerEntry{obj: obj, fn: fn})
}

// walk queues entries whose objects are missing the mark epoch and reports
// the objects the collector must keep alive this cycle. World stopped.
func (t *FinalizerTable) walk(mark uint8) (keep []*object.Object) {
	t.mu.Lock()
	defer t.mu.Unlock()
	live := t.entries[:0]
	for _, e := range t.entries {
		e.obj = object.Resolve(e.obj)
		if e.done {
			continue
		}
		if !e.obj.Marked(mark) && !e.queued {
			e.queued = true
			t.queue = append(t.queue, e)
		}
		keep = append(keep, e.obj)
		live = append(live, e)
	}
	t.entries = live
	if len(t.queue) > 0 {
		t.cond.Broadcast()
	}
	return keep
}

// updateRefs rewrites every entry's object reference through fn; the young
// collector uses it to copy finalizable objects forward. World stopped.
func (t *FinalizerTable) updateRefs(fn func(*object.Object) *object.Object) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		e.obj = fn(e.obj)
	}
}

// Drain runs every queued finalizer on the calling thread and returns how
// many ran.
func (t *FinalizerTable) Drain() int {
	ran := 0
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()
			return ran
		}
		e := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		e.fn(e.obj)
		t.mu.Lock()
		e.done = true
		t.mu.Unlock()
		ran++
	}
}

// Pending returns how many finalizers are queued but not yet run.
func (t *FinalizerTable) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Start launches a background worker that drains the queue as collections
// fill it. Safe to call once; pair with Stop.
func (t *FinalizerTable) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stop = false
	t.done = make(chan struct{})
	t.mu.Unlock()

	go func() {
		defer close(t.done)
		for {
			t.mu.Lock()
			for len(t.queue) == 0 && !t.stop {
				t.cond.Wait()
			}
			if t.stop && len(t.queue) == 0 {
				t.mu.Unlock()
				return
			}
			e := t.queue[0]
			t.queue = t.queue[1:]
			t.mu.Unlock()

			e.fn(e.obj)
			t.mu.Lock()
			e.done = true
			t.mu.Unlock()
		}
	}()
}

// Stop drains the remaining queue and shuts the worker down.
func (t *FinalizerTable) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.stop = true
	t.running = false
	t.cond.Broadcast()
	done := t.done
	t.mu.Unlock()
	<-done
}
