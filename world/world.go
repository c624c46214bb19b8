// ABOUTME: Cooperative stop-the-world coordination between mutator threads
// ABOUTME: Tracks dependent threads and parks them at checkpoints

package world

import "sync"

// State is the process-wide stop-the-world coordinator. Threads that may
// touch managed memory are "dependent" and must park at a checkpoint before
// a collection can run. Threads blocked in native regions are "independent":
// exempt from parking, forbidden from touching managed memory.
//
// The protocol guarantees at most one active collection: a requester that
// loses the race to stop the world parks like everyone else and retries.
type State struct {
	mu   sync.Mutex
	cond *sync.Cond

	// dependents counts threads currently subject to stop-the-world.
	dependents int
	// paused counts dependent threads parked at a checkpoint.
	paused int
	// stopping is set while a collection request is draining the world.
	stopping bool
}

// NewState creates a coordinator with no registered threads.
func NewState() *State {
	s := &State{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Reinit resets the coordinator after a process fork: the child starts with
// only the forking thread, running and dependent.
func (s *State) Reinit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependents = 1
	s.paused = 0
	s.stopping = false
	s.cond.Broadcast()
}

// addDependent admits a new dependent thread, waiting out any collection in
// progress first.
func (s *State) addDependent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.stopping {
		s.cond.Wait()
	}
	s.dependents++
}

// dropDependent removes a thread from stop-the-world accounting, either
// because it became independent or because it exited.
func (s *State) dropDependent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependents--
	s.cond.Broadcast()
}

// StopTheWorld attempts to halt every other dependent thread. It returns
// false immediately if another thread is already stopping the world; the
// caller should checkpoint and retry. On true, the caller owns the stopped
// world until it calls Restart.
func (s *State) StopTheWorld(t *Thread) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.stopping = true
	// Wait until every dependent thread but us is parked.
	for s.paused < s.dependents-1 {
		s.cond.Wait()
	}
	return true
}

// Restart resumes the world stopped by a successful StopTheWorld.
func (s *State) Restart(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = false
	s.cond.Broadcast()
}

// Checkpoint parks the calling thread if a stop is pending and returns once
// the world restarts. It reports whether the thread actually paused. Every
// potentially long-running mutator operation threads a checkpoint call.
//
// A thread that stays parked across a restart and an immediate new stop
// simply remains parked; its pause counts toward the new stop.
func (s *State) Checkpoint(t *Thread) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopping {
		return false
	}
	s.paused++
	s.cond.Broadcast()
	for s.stopping {
		s.cond.Wait()
	}
	s.paused--
	s.cond.Broadcast()
	return true
}

// Stopping reports whether a stop request is pending. Mutators can poll this
// cheaply before paying for a checkpoint.
func (s *State) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}
