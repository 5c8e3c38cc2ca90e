package session

import (
	"sync"

	"github.com/debocaemboca/wabot/internal/domain"
)

// State is the lifecycle state of the single messaging session.
// All access goes through the mutex; the in-flight flag makes at most one
// initialization or reconnection run at a time.
type State struct {
	mu          sync.Mutex
	phase       domain.Phase
	retryCount  int
	lastPairing string
	inFlight    bool
}

// Snapshot is a consistent copy of State for reporting.
type Snapshot struct {
	Phase       domain.Phase
	RetryCount  int
	LastPairing string
	InFlight    bool
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Phase:       s.phase,
		RetryCount:  s.retryCount,
		LastPairing: s.lastPairing,
		InFlight:    s.inFlight,
	}
}

func (s *State) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *State) IsReady() bool {
	return s.Phase() == domain.PhaseReady
}

func (s *State) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

func (s *State) LastPairing() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPairing
}

func (s *State) setPhase(p domain.Phase) domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.phase
	s.phase = p
	return prev
}

func (s *State) setPairing(code string) {
	s.mu.Lock()
	s.lastPairing = code
	s.phase = domain.PhaseAwaitingPairing
	s.mu.Unlock()
}

func (s *State) markReady() {
	s.mu.Lock()
	s.phase = domain.PhaseReady
	s.retryCount = 0
	s.mu.Unlock()
}

func (s *State) incrementRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCount++
	return s.retryCount
}

func (s *State) resetRetry() {
	s.mu.Lock()
	s.retryCount = 0
	s.mu.Unlock()
}

// tryBegin claims the in-flight flag. It reports false when another
// initialization already holds it.
func (s *State) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

func (s *State) end() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}
