package domain

import "context"

// HistoryStore persists per-session conversation history.
// Implementations live in internal/history (memory, sqlite, redis).
type HistoryStore interface {
	// Append adds one message to a session's history.
	Append(ctx context.Context, sessionID string, msg ChatMessage) error
	// Messages returns up to limit most recent messages, oldest first.
	Messages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error)
	// Clear removes all history for a session.
	Clear(ctx context.Context, sessionID string) error
	Close() error
}
