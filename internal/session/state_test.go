package session

import (
	"testing"

	"github.com/debocaemboca/wabot/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestState_InFlightIsExclusive(t *testing.T) {
	var s State
	assert.True(t, s.tryBegin())
	assert.False(t, s.tryBegin())
	s.end()
	assert.True(t, s.tryBegin())
}

func TestState_Transitions(t *testing.T) {
	var s State
	assert.Equal(t, domain.PhaseUninitialized, s.Phase())

	s.incrementRetry()
	s.incrementRetry()
	s.setPairing("2@abc")
	assert.Equal(t, domain.PhaseAwaitingPairing, s.Phase())
	assert.Equal(t, 2, s.RetryCount())

	s.markReady()
	assert.True(t, s.IsReady())
	assert.Equal(t, 0, s.RetryCount())
	assert.Equal(t, "2@abc", s.LastPairing())

	prev := s.setPhase(domain.PhaseDisconnected)
	assert.Equal(t, domain.PhaseReady, prev)
	assert.Equal(t, "disconnected", s.Phase().String())
}
