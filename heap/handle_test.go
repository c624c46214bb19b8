// ABOUTME: Tests for the external handle table
// ABOUTME: Validates indices, validation errors and weak pruning

package heap

import (
	"errors"
	"testing"

	"github.com/Red54/rubinius/object"
)

func TestHandleAllocateAndGet(t *testing.T) {
	tbl := NewHandleTable()
	o := object.New(object.ZoneMature, 1, 16, 0)
	h := tbl.Allocate(o)

	got, err := tbl.Get(h.Index())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != h || got.Object() != o {
		t.Error("Expected handle lookup to return the allocated handle")
	}
}

func TestHandleGetInvalid(t *testing.T) {
	tbl := NewHandleTable()
	if _, err := tbl.Get(0); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Expected ErrInvalidHandle for empty table, got %v", err)
	}
	if _, err := tbl.Get(-1); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Expected ErrInvalidHandle for negative index, got %v", err)
	}

	h := tbl.Allocate(object.New(object.ZoneMature, 1, 16, 0))
	tbl.release(h)
	if _, err := tbl.Get(h.Index()); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Expected ErrInvalidHandle for released slot, got %v", err)
	}
}

func TestHandleFollowsMove(t *testing.T) {
	tbl := NewHandleTable()
	src := object.New(object.ZoneYoung, 1, 16, 0)
	h := tbl.Allocate(src)

	dst := object.Copy(src, object.ZoneMature)
	src.SetForward(dst)
	if h.Object() != dst {
		t.Error("Expected handle to resolve through the forwarding pointer")
	}
}

func TestHandlePruneWeak(t *testing.T) {
	tbl := NewHandleTable()
	live := object.New(object.ZoneMature, 1, 16, 0)
	dead := object.New(object.ZoneMature, 1, 16, 0)
	hLive := tbl.Allocate(live)
	hLive.SetWeak()
	hDead := tbl.Allocate(dead)
	hDead.SetWeak()
	strong := tbl.Allocate(dead)

	live.SetMarked(2)
	if pruned := tbl.Prune(2); pruned != 1 {
		t.Errorf("Expected 1 pruned handle, got %d", pruned)
	}
	if _, err := tbl.Get(hDead.Index()); !errors.Is(err, ErrInvalidHandle) {
		t.Error("Expected dead weak handle to be invalid")
	}
	if _, err := tbl.Get(hLive.Index()); err != nil {
		t.Errorf("Expected live weak handle to survive: %v", err)
	}
	if _, err := tbl.Get(strong.Index()); err != nil {
		t.Errorf("Expected strong handle to survive regardless of mark: %v", err)
	}
}
