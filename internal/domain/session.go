package domain

// Phase is the connection lifecycle phase of the messaging session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseAwaitingPairing
	PhaseReady
	PhaseDisconnected
	PhaseAuthFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseAwaitingPairing:
		return "awaiting_pairing"
	case PhaseReady:
		return "ready"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}
