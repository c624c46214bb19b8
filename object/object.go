// ABOUTME: The heap object representation shared by all spaces
// ABOUTME: Provides atomic header access, forwarding, and field storage

package object

import "sync/atomic"

// Object is a single heap object. The spaces own the objects they allocate;
// mutator code holds *Object references and reaches relocated objects through
// the forwarding indirection (see Resolve).
//
// Fields holds the managed reference slots the collectors trace. Data holds
// the opaque non-reference payload. Neither may be touched while the owning
// thread is GC independent.
type Object struct {
	header atomic.Uint64

	// TypeTag is the language-level type tag. The memory subsystem only
	// stores it; it is preserved bit-for-bit across copies and promotion.
	TypeTag uint32

	// Fields are the traced reference slots.
	Fields []*Object

	// Data is the untraced payload, sized by the allocation request.
	Data []byte

	// age counts young collections survived, for tenuring decisions.
	// Only the young collector touches it, under the stopped world.
	age uint8

	// forward is valid only while the forwarded header bit is set.
	forward *Object

	// size is the allocation request in bytes, used for space accounting.
	size uint64
}

// New creates an object in the given zone with a zeroed payload of the given
// size and the given number of reference slots. Spaces call this; mutators
// allocate through the memory manager.
func New(zone Zone, typeTag uint32, size uint64, refs int) *Object {
	o := &Object{
		TypeTag: typeTag,
		Fields:  make([]*Object, refs),
		Data:    make([]byte, size),
		size:    size,
	}
	o.header.Store(uint64(Word(0).WithZone(zone)))
	return o
}

// Header returns the current header word.
func (o *Object) Header() Word {
	return Word(o.header.Load())
}

// CasHeader attempts to replace the header word, returning false if another
// thread changed it first. All header state transitions go through here.
func (o *Object) CasHeader(old, new Word) bool {
	return o.header.CompareAndSwap(uint64(old), uint64(new))
}

// Size returns the allocation size in bytes.
func (o *Object) Size() uint64 {
	return o.size
}

// Zone returns the zone recorded in the header.
func (o *Object) Zone() Zone {
	return o.Header().Zone()
}

// Age returns the number of young collections this object has survived.
func (o *Object) Age() uint8 {
	return o.age
}

// Marked reports whether the object carries the given mark epoch.
func (o *Object) Marked(mark uint8) bool {
	return o.Header().Mark() == mark
}

// SetMarked stamps the object with the given mark epoch.
func (o *Object) SetMarked(mark uint8) {
	for {
		w := o.Header()
		if w.Mark() == mark {
			return
		}
		if o.CasHeader(w, w.WithMark(mark)) {
			return
		}
	}
}

// ClearMark removes any mark epoch from the object.
func (o *Object) ClearMark() {
	o.SetMarked(0)
}

// Forwarded reports whether the object has been copied and the forward
// pointer is valid.
func (o *Object) Forwarded() bool {
	return o.Header().Forwarded()
}

// SetForward records that the object has been copied to dst. Only a
// collector running under the stopped world does this.
func (o *Object) SetForward(dst *Object) {
	o.forward = dst
	for {
		w := o.Header()
		if o.CasHeader(w, w.WithForwarded(true)) {
			return
		}
	}
}

// Forward returns the copy this object was moved to, or nil if it has not
// been moved.
func (o *Object) Forward() *Object {
	if !o.Forwarded() {
		return nil
	}
	return o.forward
}

// Resolve follows the forwarding chain and returns the current location of
// the object. Accessors use this instead of bare dereference during and
// after a copying phase. Resolve(nil) is nil.
func Resolve(o *Object) *Object {
	for o != nil && o.Forwarded() {
		o = o.forward
	}
	return o
}

// Foreign reports whether the object is flagged as holding unmanaged-visible
// mutable state.
func (o *Object) Foreign() bool {
	return o.Header().Foreign()
}

// SetForeign flags the object for finish-phase rescanning.
func (o *Object) SetForeign() {
	for {
		w := o.Header()
		if w.Foreign() {
			return
		}
		if o.CasHeader(w, w.WithForeign()) {
			return
		}
	}
}

// Copy allocates a fresh object in the given zone carrying src's type tag,
// reference slots, payload and aux header state bit-for-bit, with the
// survival age bumped. The copy's mark and forwarding are reset; everything
// an object's identity depends on (object id, lock, handle, inflation,
// foreign flag) moves with it. Collectors pair this with SetForward on src.
func Copy(src *Object, zone Zone) *Object {
	dst := New(zone, src.TypeTag, src.size, len(src.Fields))
	copy(dst.Fields, src.Fields)
	copy(dst.Data, src.Data)
	dst.age = src.age + 1
	w := Word(src.header.Load()).
		WithZone(zone).
		WithMark(0).
		WithForwarded(false)
	dst.header.Store(uint64(w))
	return dst
}
