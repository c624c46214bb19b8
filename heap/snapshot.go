// ABOUTME: Root snapshot taken at the start of each collection
// ABOUTME: Gathers globals, per-thread roots and locked-object lists

package heap

import (
	"github.com/Red54/rubinius/object"
	"github.com/Red54/rubinius/world"
)

// snapshot is the root set a collection traverses: global root cells, the
// registered threads with their roots and locked objects, and the handle
// table. Built fresh for every collection and for the finish phase's
// re-scan, so late root mutations are never missed.
type snapshot struct {
	globals []*object.Root
	threads []*world.Thread
}

func (m *Memory) takeSnapshot() *snapshot {
	m.globalMu.Lock()
	globals := make([]*object.Root, len(m.globals))
	copy(globals, m.globals)
	m.globalMu.Unlock()
	return &snapshot{
		globals: globals,
		threads: m.threads.Threads(),
	}
}
