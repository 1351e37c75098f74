package session

import "sync"

// TurnState is the explicit per-conversation send state held by the caller.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnPending
)

// Turns tracks which sessions have a turn in flight. One pending turn per
// session: Begin on a pending session fails and the caller rejects the send.
type Turns struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func NewTurns() *Turns {
	return &Turns{pending: make(map[string]struct{})}
}

// Begin marks a turn as in flight for the session. It reports false when the
// session already has one pending.
func (t *Turns) Begin(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[sessionID]; exists {
		return false
	}
	t.pending[sessionID] = struct{}{}
	return true
}

// End marks the session's turn as finished.
func (t *Turns) End(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, sessionID)
}

// State returns the session's current turn state.
func (t *Turns) State(sessionID string) TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[sessionID]; exists {
		return TurnPending
	}
	return TurnIdle
}
