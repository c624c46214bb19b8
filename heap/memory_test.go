// ABOUTME: Tests for the memory manager's allocation and header services
// ABOUTME: Routing by size, slab refills, validation, ids, handles, fork reset

package heap

import (
	"errors"
	"testing"

	"github.com/Red54/rubinius/config"
	"github.com/Red54/rubinius/object"
)

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.NurserySize = 256
	cfg.SlabSize = 128
	cfg.BlockSize = 1024
	cfg.LineSize = 128
	cfg.BlocksPerChunk = 2
	cfg.LargeObjectThreshold = 512
	cfg.ConcurrentMarking = false
	return cfg
}

func TestAllocateRoutesBySize(t *testing.T) {
	m := newTestMemory(t)
	th := m.Threads().NewThread("main")

	small, err := m.Allocate(th, 1, 16, 0)
	if err != nil {
		t.Fatalf("Small allocation failed: %v", err)
	}
	if small.Zone() != object.ZoneYoung {
		t.Errorf("Expected young zone for small object, got %s", small.Zone())
	}

	threshold := uint64(m.Config().LargeObjectThreshold)
	big, err := m.Allocate(th, 1, threshold+1, 0)
	if err != nil {
		t.Fatalf("Large allocation failed: %v", err)
	}
	if big.Zone() != object.ZoneLarge {
		t.Errorf("Expected large zone above threshold, got %s", big.Zone())
	}

	mature, err := m.AllocateMature(1, 64, 0)
	if err != nil {
		t.Fatalf("Mature allocation failed: %v", err)
	}
	if mature.Zone() != object.ZoneMature {
		t.Errorf("Expected mature zone, got %s", mature.Zone())
	}
}

func TestAllocateMatureOversizeFallsToLarge(t *testing.T) {
	m := newTestMemory(t)
	size := uint64(m.Config().BlockSize) + 1

	o, err := m.AllocateMature(1, size, 0)
	if err != nil {
		t.Fatalf("Allocation failed: %v", err)
	}
	if o.Zone() != object.ZoneLarge {
		t.Errorf("Expected oversize mature request in large space, got %s", o.Zone())
	}
}

func TestRefillSlabExhaustsNursery(t *testing.T) {
	cfg := smallConfig()
	m, err := NewMemory(cfg)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	th := m.Threads().NewThread("main")

	if !m.RefillSlab(th) || !m.RefillSlab(th) {
		t.Fatal("Expected two slab refills to fit the nursery")
	}
	if m.RefillSlab(th) {
		t.Fatal("Expected third refill to fail")
	}
	if !m.collectYoungFlag.Load() {
		t.Error("Expected a failed refill to request a young collection")
	}
	if m.Metrics().Memory.SlabRefillFails.Load() != 1 {
		t.Error("Expected the failed refill to be counted")
	}
}

func TestAllocateFallsBackWhenNurseryFull(t *testing.T) {
	cfg := smallConfig()
	m, _ := NewMemory(cfg)
	th := m.Threads().NewThread("main")

	// Two slabs exhaust the nursery; keep allocating until the fallback
	// places objects in the mature space.
	sawMature := false
	for i := 0; i < 32; i++ {
		o, err := m.Allocate(th, 1, 16, 0)
		if err != nil {
			t.Fatalf("Allocation %d failed: %v", i, err)
		}
		if o.Zone() == object.ZoneMature {
			sawMature = true
			break
		}
	}
	if !sawMature {
		t.Fatal("Expected exhausted nursery to fall back to the mature space")
	}
	if !m.collectYoungFlag.Load() {
		t.Error("Expected fallback to request a young collection")
	}
}

func TestValidObject(t *testing.T) {
	m := newTestMemory(t)
	th := m.Threads().NewThread("main")

	young, _ := m.Allocate(th, 1, 16, 0)
	if err := m.ValidObject(young); err != nil {
		t.Errorf("Expected slab object to validate: %v", err)
	}
	mature, _ := m.AllocateMature(1, 64, 0)
	if err := m.ValidObject(mature); err != nil {
		t.Errorf("Expected mature object to validate: %v", err)
	}
	big, _ := m.AllocateEnduring(1, 4096, 0)
	if err := m.ValidObject(big); err != nil {
		t.Errorf("Expected large object to validate: %v", err)
	}

	// An object claiming a zone no space backs must fail.
	stray := object.New(object.ZoneMature, 1, 16, 0)
	if err := m.ValidObject(stray); !errors.Is(err, ErrHeaderState) {
		t.Errorf("Expected ErrHeaderState for stray object, got %v", err)
	}
	if err := m.ValidObject(nil); !errors.Is(err, ErrHeaderState) {
		t.Errorf("Expected ErrHeaderState for nil, got %v", err)
	}
}

func TestAssignObjectID(t *testing.T) {
	m := newTestMemory(t)
	th := m.Threads().NewThread("main")
	a, _ := m.Allocate(th, 1, 16, 0)
	b, _ := m.Allocate(th, 1, 16, 0)

	idA := m.AssignObjectID(th, a)
	idB := m.AssignObjectID(th, b)
	if idA == 0 || idB == 0 {
		t.Fatal("Expected nonzero ids")
	}
	if idA == idB {
		t.Error("Expected distinct objects to get distinct ids")
	}
	if got := m.AssignObjectID(th, a); got != idA {
		t.Errorf("Expected stable id %d, got %d", idA, got)
	}
	if a.Header().Meaning() != object.MeaningObjectID {
		t.Errorf("Expected id in the aux slot, got %s", a.Header().Meaning())
	}
}

func TestNewHandleStable(t *testing.T) {
	m := newTestMemory(t)
	th := m.Threads().NewThread("main")
	o, _ := m.Allocate(th, 1, 16, 0)

	h1, err := m.NewHandle(th, o)
	if err != nil {
		t.Fatalf("NewHandle failed: %v", err)
	}
	h2, err := m.NewHandle(th, o)
	if err != nil {
		t.Fatalf("Second NewHandle failed: %v", err)
	}
	if h1 != h2 {
		t.Error("Expected repeated NewHandle to return the same handle")
	}
	if h1.Object() != o {
		t.Error("Expected handle to reference the object")
	}
	if m.Metrics().Memory.Handles.Load() != 1 {
		t.Error("Expected one handle to be counted")
	}
}

func TestHandleThenObjectIDInflates(t *testing.T) {
	m := newTestMemory(t)
	th := m.Threads().NewThread("main")
	o, _ := m.Allocate(th, 1, 16, 0)

	h, _ := m.NewHandle(th, o)
	id := m.AssignObjectID(th, o)
	if o.Header().Meaning() != object.MeaningInflated {
		t.Fatalf("Expected inflation, got %s", o.Header().Meaning())
	}
	got, err := m.NewHandle(th, o)
	if err != nil || got != h {
		t.Error("Expected the handle to survive inflation")
	}
	if m.AssignObjectID(th, o) != id {
		t.Error("Expected the id to stay stable after inflation")
	}
}

func TestTrackForeignBytesTriggersCollection(t *testing.T) {
	cfg := smallConfig()
	cfg.ForeignTriggerBytes = 1000
	m, _ := NewMemory(cfg)
	th := m.Threads().NewThread("main")

	m.TrackForeignBytes(400)
	if m.collectMatureFlag.Load() {
		t.Fatal("Expected no request below the budget")
	}
	m.TrackForeignBytes(700)
	if !m.collectMatureFlag.Load() {
		t.Fatal("Expected exhausted budget to request a full collection")
	}

	m.CollectIfRequested(th)
	if m.Metrics().GC.FullCount.Load() != 1 {
		t.Errorf("Expected one full collection, got %d", m.Metrics().GC.FullCount.Load())
	}
}

func TestStoreFieldBarrierDuringMarking(t *testing.T) {
	m := newTestMemory(t)
	th := m.Threads().NewThread("main")
	container, _ := m.AllocateMature(1, 64, 2)
	val, _ := m.Allocate(th, 1, 16, 0)

	m.StoreField(container, 0, val)
	if len(m.markedSet) != 0 {
		t.Fatal("Expected no barrier record outside a collection")
	}

	m.matureInProgress.Store(true)
	m.StoreField(container, 1, val)
	m.matureInProgress.Store(false)
	if _, ok := m.markedSet[container]; !ok {
		t.Error("Expected mutation during marking to be recorded")
	}
	if container.Fields[1] != val {
		t.Error("Expected the store itself to land")
	}
}

func TestAfterForkResets(t *testing.T) {
	m := newTestMemory(t)
	main := m.Threads().NewThread("main")
	m.Threads().NewThread("worker")
	o, _ := m.Allocate(main, 1, 16, 0)

	m.RequestYoungCollection()
	m.AfterFork(main)

	if n := len(m.Threads().Threads()); n != 1 {
		t.Errorf("Expected 1 surviving thread, got %d", n)
	}
	if m.collectYoungFlag.Load() {
		t.Error("Expected pending collection state to be discarded")
	}
	// The heap itself carries over and the survivor keeps allocating.
	if err := m.ValidObject(o); err != nil {
		t.Errorf("Expected pre-fork object to remain valid: %v", err)
	}
	if _, err := m.Allocate(main, 1, 16, 0); err != nil {
		t.Errorf("Expected post-fork allocation to work: %v", err)
	}
}
