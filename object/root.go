// ABOUTME: Root cells that let collectors update references in place
// ABOUTME: Mutators hold a Root and read through it across collections

package object

// Root is a cell holding a reference the collector treats as a root. The
// mutator that registered the root reads through the cell; the collector
// rewrites the cell when the referent moves. This is the in-place update
// point for relocation, so a Root must never be copied by value.
type Root struct {
	obj *Object
}

// NewRoot creates an unregistered root cell. Registration happens at the
// thread registry or the memory manager's global root set.
func NewRoot(o *Object) *Root {
	return &Root{obj: o}
}

// Get returns the current referent, following any forwarding left by an
// in-progress copy phase.
func (r *Root) Get() *Object {
	r.obj = Resolve(r.obj)
	return r.obj
}

// Set replaces the referent.
func (r *Root) Set(o *Object) {
	r.obj = o
}
