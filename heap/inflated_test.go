// ABOUTME: Tests for inflated header records and their table
// ABOUTME: Validates recursive locking, waits, pooling and dead reclamation

package heap

import (
	"testing"
	"time"

	"github.com/Red54/rubinius/object"
	"github.com/Red54/rubinius/world"
)

func TestInflatedTryLockRecursive(t *testing.T) {
	reg := world.NewRegistry(world.NewState())
	th := reg.NewThread("locker")
	tbl := NewInflatedTable()
	ih, _ := tbl.Allocate(object.New(object.ZoneMature, 1, 16, 0))

	acquired, first := ih.TryLock(th)
	if !acquired || !first {
		t.Fatal("Expected first TryLock to acquire")
	}
	acquired, first = ih.TryLock(th)
	if !acquired || first {
		t.Fatal("Expected recursive TryLock to acquire non-first")
	}
	if ih.Recursion() != 2 {
		t.Errorf("Expected recursion 2, got %d", ih.Recursion())
	}

	if released, err := ih.Unlock(th); err != nil || released {
		t.Errorf("Expected inner unlock to keep the lock, got released=%v err=%v", released, err)
	}
	if released, err := ih.Unlock(th); err != nil || !released {
		t.Errorf("Expected final unlock to release, got released=%v err=%v", released, err)
	}
	if _, err := ih.Unlock(th); err != ErrNotLocked {
		t.Errorf("Expected ErrNotLocked, got %v", err)
	}
}

func TestInflatedUnlockWrongOwner(t *testing.T) {
	reg := world.NewRegistry(world.NewState())
	a := reg.NewThread("a")
	b := reg.NewThread("b")
	tbl := NewInflatedTable()
	ih, _ := tbl.Allocate(object.New(object.ZoneMature, 1, 16, 0))

	ih.TryLock(a)
	if _, err := ih.Unlock(b); err != ErrNotOwner {
		t.Errorf("Expected ErrNotOwner, got %v", err)
	}
}

func TestInflatedLockWaitTimesOut(t *testing.T) {
	reg := world.NewRegistry(world.NewState())
	a := reg.NewThread("holder")
	b := reg.NewThread("waiter")
	tbl := NewInflatedTable()
	ih, _ := tbl.Allocate(object.New(object.ZoneMature, 1, 16, 0))

	ih.TryLock(a)
	start := time.Now()
	status, _ := ih.LockWait(b, time.Now().Add(50*time.Millisecond), true)
	if status != LockTimedOut {
		t.Fatalf("Expected timeout, got %s", status)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Timed out after only %v", elapsed)
	}
}

func TestInflatedLockWaitHandoff(t *testing.T) {
	reg := world.NewRegistry(world.NewState())
	a := reg.NewThread("holder")
	b := reg.NewThread("waiter")
	tbl := NewInflatedTable()
	ih, _ := tbl.Allocate(object.New(object.ZoneMature, 1, 16, 0))

	ih.TryLock(a)
	got := make(chan LockStatus, 1)
	go func() {
		status, _ := ih.LockWait(b, time.Time{}, true)
		got <- status
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := ih.Unlock(a); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	select {
	case status := <-got:
		if status != LockAcquired {
			t.Errorf("Expected acquisition, got %s", status)
		}
	case <-time.After(time.Second):
		t.Fatal("Waiter never woke up")
	}
	if !ih.LockedBy(b.ID()) {
		t.Error("Expected waiter to own the lock")
	}
}

func TestInflatedLockWaitInterrupted(t *testing.T) {
	reg := world.NewRegistry(world.NewState())
	a := reg.NewThread("holder")
	b := reg.NewThread("waiter")
	tbl := NewInflatedTable()
	ih, _ := tbl.Allocate(object.New(object.ZoneMature, 1, 16, 0))

	ih.TryLock(a)
	got := make(chan LockStatus, 1)
	go func() {
		status, _ := ih.LockWait(b, time.Time{}, true)
		got <- status
	}()

	time.Sleep(20 * time.Millisecond)
	b.Interrupt()
	select {
	case status := <-got:
		if status != LockInterrupted {
			t.Errorf("Expected interruption, got %s", status)
		}
	case <-time.After(time.Second):
		t.Fatal("Waiter never woke up")
	}
}

func TestInflatedTableReusesReleased(t *testing.T) {
	tbl := NewInflatedTable()
	o := object.New(object.ZoneMature, 1, 16, 0)
	_, idx := tbl.Allocate(o)
	tbl.Release(idx)

	_, idx2 := tbl.Allocate(o)
	if idx2 != idx {
		t.Errorf("Expected released slot %d to be reused, got %d", idx, idx2)
	}
}

func TestInflatedReleaseDead(t *testing.T) {
	tbl := NewInflatedTable()
	live := object.New(object.ZoneMature, 1, 16, 0)
	dead := object.New(object.ZoneMature, 1, 16, 0)
	tbl.Allocate(live)
	tbl.Allocate(dead)
	live.SetMarked(2)

	if freed := tbl.ReleaseDead(2); freed != 1 {
		t.Errorf("Expected 1 freed record, got %d", freed)
	}
	if tbl.LiveCount() != 1 {
		t.Errorf("Expected 1 live record, got %d", tbl.LiveCount())
	}
}
