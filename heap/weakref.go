// ABOUTME: Weak references cleared when their target dies
// ABOUTME: Cleared before finalizers run, so resurrection never revives them

package heap

import (
	"sync"

	"github.com/Red54/rubinius/object"
)

// WeakRef observes an object without keeping it alive. Once the target dies
// the reference reads nil forever, even if a finalizer later resurrects the
// object.
type WeakRef struct {
	mu     sync.Mutex
	target *object.Object
}

// Get returns the target's current location, or nil once it has died.
func (w *WeakRef) Get() *object.Object {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.target = object.Resolve(w.target)
	return w.target
}

// clearIf nils the target when cond holds for it.
func (w *WeakRef) clearIf(cond func(*object.Object) bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.target = object.Resolve(w.target)
	if w.target != nil && cond(w.target) {
		w.target = nil
		return true
	}
	return false
}
