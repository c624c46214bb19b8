// ABOUTME: Tests for the semispace nursery
// ABOUTME: Validates slab reservation, membership and region flips

package heap

import (
	"testing"

	"github.com/Red54/rubinius/object"
)

func TestNurseryReserveSlab(t *testing.T) {
	n := NewNursery(100)

	if !n.ReserveSlab(60) {
		t.Fatal("Expected first reservation to succeed")
	}
	if n.ReserveSlab(60) {
		t.Error("Expected reservation past capacity to fail")
	}
	if !n.ReserveSlab(40) {
		t.Error("Expected reservation up to capacity to succeed")
	}
	if n.UsedBytes() != 100 {
		t.Errorf("Expected 100 bytes used, got %d", n.UsedBytes())
	}
}

func TestNurseryAdoptAndContains(t *testing.T) {
	n := NewNursery(1024)
	o := object.New(object.ZoneYoung, 1, 16, 0)

	if n.Contains(o) {
		t.Error("Expected fresh nursery not to contain the object")
	}
	n.Adopt([]*object.Object{o})
	if !n.Contains(o) {
		t.Error("Expected nursery to contain adopted object")
	}
}

func TestNurseryFlipEmptiesOldRegion(t *testing.T) {
	n := NewNursery(1024)
	old := object.New(object.ZoneYoung, 1, 16, 0)
	n.ReserveSlab(16)
	n.Adopt([]*object.Object{old})

	survivor := object.New(object.ZoneYoung, 1, 32, 0)
	if !n.copyInto(survivor) {
		t.Fatal("Expected survivor copy to fit the inactive region")
	}
	n.flip()

	if n.Contains(old) {
		t.Error("Expected flipped-away object to leave the active region")
	}
	if !n.Contains(survivor) {
		t.Error("Expected survivor to be in the new active region")
	}
	if n.UsedBytes() != 32 {
		t.Errorf("Expected 32 bytes used after flip, got %d", n.UsedBytes())
	}
}

func TestNurseryCopyIntoFullRegion(t *testing.T) {
	n := NewNursery(16)
	a := object.New(object.ZoneYoung, 1, 16, 0)
	b := object.New(object.ZoneYoung, 1, 16, 0)

	if !n.copyInto(a) {
		t.Fatal("Expected first copy to fit")
	}
	if n.copyInto(b) {
		t.Error("Expected copy into a full region to fail")
	}
}
