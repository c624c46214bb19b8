// ABOUTME: Block-and-line mark-region space for long-lived objects
// ABOUTME: Hole-finding bump allocation, line marking, sweep and chunk growth

package heap

import (
	"sync"

	"github.com/Red54/rubinius/config"
	"github.com/Red54/rubinius/object"
)

// chunksBeforeCollection is how many chunk additions may pass before the
// space asks for a full collection.
const chunksBeforeCollection = 10

// span records where in a block an object's bytes live.
type span struct {
	block     *matureBlock
	firstLine int
	lineCount int
}

// matureBlock is one fixed-size block subdivided into lines. lineUsed is the
// allocation map; lineMarked is rebuilt by each collection's marking.
type matureBlock struct {
	lineUsed   []bool
	lineMarked []bool
	objects    map[*object.Object]span
	usedBytes  uint64
}

func newMatureBlock(lines int) *matureBlock {
	return &matureBlock{
		lineUsed:   make([]bool, lines),
		lineMarked: make([]bool, lines),
		objects:    make(map[*object.Object]span),
	}
}

// findHole returns the first run of want contiguous free lines, or -1.
func (b *matureBlock) findHole(want int) int {
	run := 0
	for i, used := range b.lineUsed {
		if used {
			run = 0
			continue
		}
		run++
		if run == want {
			return i - want + 1
		}
	}
	return -1
}

// Mature is the mark-region space: a growing set of blocks allocated into
// hole by hole. Allocation requires the shared allocation lock or the
// stopped world; marking and sweeping run under their own discipline.
type Mature struct {
	mu sync.RWMutex

	blockSize      uint64
	lineSize       uint64
	linesPerBlock  int
	blocksPerChunk int
	highWater      float64

	blocks []*matureBlock
	index  map[*object.Object]*matureBlock

	chunksLeft int

	// requestCollect flips the full-collection flag when the space is
	// getting low.
	requestCollect func()
	// chunkAdded feeds the chunk counter metric.
	chunkAdded func()
}

// NewMature creates an empty mature space. The first chunk is added on first
// use.
func NewMature(cfg config.Config, requestCollect, chunkAdded func()) *Mature {
	return &Mature{
		blockSize:      uint64(cfg.BlockSize),
		lineSize:       uint64(cfg.LineSize),
		linesPerBlock:  int(uint64(cfg.BlockSize) / uint64(cfg.LineSize)),
		blocksPerChunk: cfg.BlocksPerChunk,
		highWater:      cfg.HighWaterRatio,
		index:          make(map[*object.Object]*matureBlock),
		chunksLeft:     chunksBeforeCollection,
		requestCollect: requestCollect,
		chunkAdded:     chunkAdded,
	}
}

// addChunk grows the space by one chunk of blocks. Every
// chunksBeforeCollection additions the space asks for a collection instead
// of growing unchecked.
func (m *Mature) addChunk() {
	for i := 0; i < m.blocksPerChunk; i++ {
		m.blocks = append(m.blocks, newMatureBlock(m.linesPerBlock))
	}
	m.chunkAdded()
	m.chunksLeft--
	if m.chunksLeft <= 0 {
		m.chunksLeft = chunksBeforeCollection
		m.requestCollect()
	}
}

// linesFor returns how many lines an allocation of size bytes occupies.
func (m *Mature) linesFor(size uint64) int {
	lines := int((size + m.lineSize - 1) / m.lineSize)
	if lines == 0 {
		lines = 1
	}
	return lines
}

// MaxObjectSize is the largest allocation the space accepts; bigger requests
// belong to the large object space.
func (m *Mature) MaxObjectSize() uint64 {
	return m.blockSize
}

// place finds a hole and records the object in it, growing by a chunk when
// no block has room.
func (m *Mature) place(o *object.Object, size uint64) {
	want := m.linesFor(size)
	for {
		for _, b := range m.blocks {
			first := b.findHole(want)
			if first < 0 {
				continue
			}
			for i := first; i < first+want; i++ {
				b.lineUsed[i] = true
			}
			b.objects[o] = span{block: b, firstLine: first, lineCount: want}
			b.usedBytes += size
			m.index[o] = b
			return
		}
		m.addChunk()
	}
}

// Allocate creates a zeroed object in the mature space, or returns nil when
// the request exceeds the block size.
func (m *Mature) Allocate(typeTag uint32, size uint64, refs int) *object.Object {
	if size > m.blockSize {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o := object.New(object.ZoneMature, typeTag, size, refs)
	m.place(o, size)
	return o
}

// MoveObject copies src into the mature space and leaves a forwarding
// pointer behind; the collectors use it for promotion and evacuation.
// Returns nil when src exceeds the block size.
func (m *Mature) MoveObject(src *object.Object) *object.Object {
	if src.Size() > m.blockSize {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dst := object.Copy(src, object.ZoneMature)
	m.place(dst, dst.Size())
	src.SetForward(dst)
	return dst
}

// Contains reports whether the object lives in the mature space.
func (m *Mature) Contains(o *object.Object) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.index[o]
	return ok
}

// forEach visits every object in the space.
func (m *Mature) forEach(fn func(*object.Object)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for o := range m.index {
		fn(o)
	}
}

// ClearLineMarks erases the previous collection's line marks. Called at the
// start of a full collection, world stopped.
func (m *Mature) ClearLineMarks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		for i := range b.lineMarked {
			b.lineMarked[i] = false
		}
	}
}

// MarkLines records the lines occupied by a marked object.
func (m *Mature) MarkLines(o *object.Object) {
	m.mu.RLock()
	b, ok := m.index[o]
	m.mu.RUnlock()
	if !ok {
		return
	}
	s := b.objects[o]
	for i := s.firstLine; i < s.firstLine+s.lineCount; i++ {
		b.lineMarked[i] = true
	}
}

// SweepStats summarizes a sweep.
type SweepStats struct {
	LiveObjects int
	LiveBytes   uint64
	TotalBytes  uint64
	Occupancy   float64
	Grew        bool
}

// Sweep reclaims every object missing the given mark epoch, rebuilds line
// occupancy from the survivors, and grows the space by one chunk when
// occupancy is at or above the high-water ratio. World stopped.
func (m *Mature) Sweep(mark uint8) SweepStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats SweepStats
	for _, b := range m.blocks {
		for i := range b.lineUsed {
			b.lineUsed[i] = false
		}
		b.usedBytes = 0
		for o, s := range b.objects {
			if !o.Marked(mark) {
				delete(b.objects, o)
				delete(m.index, o)
				continue
			}
			for i := s.firstLine; i < s.firstLine+s.lineCount; i++ {
				b.lineUsed[i] = true
			}
			b.usedBytes += o.Size()
			stats.LiveObjects++
			stats.LiveBytes += o.Size()
		}
	}

	stats.TotalBytes = uint64(len(m.blocks)) * m.blockSize
	if stats.TotalBytes > 0 {
		stats.Occupancy = float64(stats.LiveBytes) / float64(stats.TotalBytes)
	}
	if len(m.blocks) > 0 && stats.Occupancy >= m.highWater {
		m.addChunk()
		stats.Grew = true
	}
	return stats
}

// UsedBytes returns the live byte footprint of the space.
func (m *Mature) UsedBytes() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total uint64
	for _, b := range m.blocks {
		total += b.usedBytes
	}
	return total
}

// BlockCount returns how many blocks the space currently holds.
func (m *Mature) BlockCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}
