// ABOUTME: Tests for the large object space
// ABOUTME: Validates tracking, sweep reclamation and collection triggers

package heap

import (
	"testing"

	"github.com/Red54/rubinius/object"
)

func TestLargeAllocateTracks(t *testing.T) {
	l := NewLarge(2700, 1<<20, func() {})

	o := l.Allocate(5, 4096, 2)
	if o.Zone() != object.ZoneLarge {
		t.Errorf("Expected large zone, got %s", o.Zone())
	}
	if !l.Contains(o) {
		t.Error("Expected space to contain allocated object")
	}
	if l.UsedBytes() != 4096 {
		t.Errorf("Expected 4096 bytes used, got %d", l.UsedBytes())
	}
}

func TestLargeSweep(t *testing.T) {
	l := NewLarge(2700, 1<<20, func() {})
	live := l.Allocate(1, 3000, 0)
	l.Allocate(1, 5000, 0)
	live.SetMarked(2)

	freed, bytes := l.Sweep(2)
	if freed != 1 {
		t.Errorf("Expected 1 freed object, got %d", freed)
	}
	if bytes != 5000 {
		t.Errorf("Expected 5000 freed bytes, got %d", bytes)
	}
	if !l.Contains(live) {
		t.Error("Expected marked object to survive")
	}
	if l.UsedBytes() != 3000 {
		t.Errorf("Expected 3000 bytes used after sweep, got %d", l.UsedBytes())
	}
}

func TestLargeAllocationTrigger(t *testing.T) {
	requested := 0
	l := NewLarge(2700, 10000, func() { requested++ })

	l.Allocate(1, 6000, 0)
	if requested != 0 {
		t.Fatal("Expected no request below the trigger")
	}
	l.Allocate(1, 6000, 0)
	if requested != 1 {
		t.Errorf("Expected crossing the trigger to request a collection, got %d", requested)
	}
}
