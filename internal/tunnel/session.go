package tunnel

import (
	"sync"
	"time"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateInactive State = iota
	StateActive
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// Session is one activated tunnel. It only ever moves
// Inactive -> Active -> TornDown.
type Session struct {
	ID          string
	ConfigPath  string
	Interface   string
	ActivatedAt time.Time

	mu      sync.Mutex
	state   State
	total   int
	elapsed int
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Track records the lease length the session is held for.
func (s *Session) Track(totalSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = totalSeconds
}

// TotalSeconds is the tracked lease length.
func (s *Session) TotalSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ElapsedSeconds is the last recorded elapsed lease time.
func (s *Session) ElapsedSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Advance records elapsed lease time. Values lower than the current one are
// ignored and the counter is frozen once the session is torn down.
func (s *Session) Advance(elapsed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || elapsed < s.elapsed {
		return
	}
	s.elapsed = elapsed
}
