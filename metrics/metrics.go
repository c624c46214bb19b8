// ABOUTME: Process-wide counters for allocation, collection and locking
// ABOUTME: Counters are atomic and exported through pluggable emitters

package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/inhies/go-bytesize"
)

// MemoryCounters track allocation activity per zone and header inflation.
type MemoryCounters struct {
	YoungObjects    atomic.Uint64
	YoungBytes      atomic.Uint64
	MatureObjects   atomic.Uint64
	MatureBytes     atomic.Uint64
	MatureChunks    atomic.Uint64
	LargeObjects    atomic.Uint64
	LargeBytes      atomic.Uint64
	PromotedObjects atomic.Uint64
	PromotedBytes   atomic.Uint64
	SlabRefills     atomic.Uint64
	SlabRefillFails atomic.Uint64
	Inflations      atomic.Uint64
	Handles         atomic.Uint64
}

// GCCounters track collection counts and durations.
type GCCounters struct {
	YoungCount       atomic.Uint64
	YoungMillis      atomic.Uint64
	FullCount        atomic.Uint64
	FullStopMillis   atomic.Uint64
	ConcurrentMillis atomic.Uint64
	ChunksAdded      atomic.Uint64
}

// LockCounters track contention on the header locking protocol.
type LockCounters struct {
	Contentions             atomic.Uint64
	Timeouts                atomic.Uint64
	Interrupts              atomic.Uint64
	InflationsForContention atomic.Uint64
}

// Metrics is the full counter set. It is safe for concurrent use; updates
// are required by diagnostics but are not part of the correctness contract.
type Metrics struct {
	Memory MemoryCounters
	GC     GCCounters
	Lock   LockCounters
}

// New returns a zeroed counter set.
func New() *Metrics {
	return &Metrics{}
}

// sample is one named counter reading.
type sample struct {
	name  string
	value uint64
}

// samples returns every counter in a stable order.
func (m *Metrics) samples() []sample {
	return []sample{
		{"memory.young.objects", m.Memory.YoungObjects.Load()},
		{"memory.young.bytes", m.Memory.YoungBytes.Load()},
		{"memory.mature.objects", m.Memory.MatureObjects.Load()},
		{"memory.mature.bytes", m.Memory.MatureBytes.Load()},
		{"memory.mature.chunks", m.Memory.MatureChunks.Load()},
		{"memory.large.objects", m.Memory.LargeObjects.Load()},
		{"memory.large.bytes", m.Memory.LargeBytes.Load()},
		{"memory.promoted.objects", m.Memory.PromotedObjects.Load()},
		{"memory.promoted.bytes", m.Memory.PromotedBytes.Load()},
		{"memory.slab.refills", m.Memory.SlabRefills.Load()},
		{"memory.slab.refills.fails", m.Memory.SlabRefillFails.Load()},
		{"memory.inflations", m.Memory.Inflations.Load()},
		{"memory.handles", m.Memory.Handles.Load()},
		{"gc.young.count", m.GC.YoungCount.Load()},
		{"gc.young.ms", m.GC.YoungMillis.Load()},
		{"gc.full.count", m.GC.FullCount.Load()},
		{"gc.full.stop.ms", m.GC.FullStopMillis.Load()},
		{"gc.full.concurrent.ms", m.GC.ConcurrentMillis.Load()},
		{"gc.full.chunks.added", m.GC.ChunksAdded.Load()},
		{"lock.contentions", m.Lock.Contentions.Load()},
		{"lock.timeouts", m.Lock.Timeouts.Load()},
		{"lock.interrupts", m.Lock.Interrupts.Load()},
		{"lock.inflations.contention", m.Lock.InflationsForContention.Load()},
	}
}

// Names returns the counter names in emission order.
func (m *Metrics) Names() []string {
	ss := m.samples()
	names := make([]string, len(ss))
	for i, s := range ss {
		names[i] = s.name
	}
	return names
}

// Values returns the counter values in emission order.
func (m *Metrics) Values() []uint64 {
	ss := m.samples()
	vals := make([]uint64, len(ss))
	for i, s := range ss {
		vals[i] = s.value
	}
	return vals
}

// HeapBytes returns the total live-ish byte footprint across zones in
// human-readable form, for diagnostics output.
func (m *Metrics) HeapBytes() string {
	total := m.Memory.YoungBytes.Load() +
		m.Memory.MatureBytes.Load() +
		m.Memory.LargeBytes.Load()
	return bytesize.New(float64(total)).String()
}

// String summarizes the counter set on one line.
func (m *Metrics) String() string {
	return fmt.Sprintf("heap=%s young=%d full=%d contentions=%d",
		m.HeapBytes(),
		m.GC.YoungCount.Load(),
		m.GC.FullCount.Load(),
		m.Lock.Contentions.Load())
}
