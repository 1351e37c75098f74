package history

import (
	"context"
	"sync"

	"chatrelay/internal/domain"
)

// MemoryStore keeps history in process memory. Used when persistence is
// disabled and in tests; everything is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string][]domain.ChatMessage
	maxMessages int
}

func NewMemoryStore(maxMessages int) *MemoryStore {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &MemoryStore{
		sessions:    make(map[string][]domain.ChatMessage),
		maxMessages: maxMessages,
	}
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.sessions[sessionID], msg)
	if len(msgs) > s.maxMessages {
		msgs = msgs[len(msgs)-s.maxMessages:]
	}
	s.sessions[sessionID] = msgs
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
