package history

import (
	"context"
	"testing"

	"chatrelay/internal/domain"
)

func TestMemoryStore_AppendAndMessages(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	msgs := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hi", Timestamp: 1},
		{Role: domain.RoleBot, Content: "hello", Timestamp: 2},
	}
	for _, m := range msgs {
		if err := s.Append(ctx, "s1", m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Messages(ctx, "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Content != "hi" || got[1].Content != "hello" {
		t.Errorf("messages out of order: %v", got)
	}
}

func TestMemoryStore_TrimsToMaxMessages(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Append(ctx, "s1", domain.ChatMessage{Role: domain.RoleUser, Content: string(rune('a' + i)), Timestamp: int64(i)})
	}

	got, _ := s.Messages(ctx, "s1", 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 messages after trim, got %d", len(got))
	}
	if got[0].Content != "c" || got[2].Content != "e" {
		t.Errorf("expected last 3 messages, got %v", got)
	}
}

func TestMemoryStore_SessionsIsolated(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	s.Append(ctx, "s1", domain.ChatMessage{Role: domain.RoleUser, Content: "one"})
	s.Append(ctx, "s2", domain.ChatMessage{Role: domain.RoleUser, Content: "two"})

	got, _ := s.Messages(ctx, "s1", 0)
	if len(got) != 1 || got[0].Content != "one" {
		t.Errorf("s1 history polluted: %v", got)
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	s.Append(ctx, "s1", domain.ChatMessage{Role: domain.RoleUser, Content: "hi"})
	if err := s.Clear(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Messages(ctx, "s1", 0)
	if len(got) != 0 {
		t.Errorf("expected empty history after clear, got %v", got)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "cassandra"})
	if err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestOpen_DefaultBackendIsMemory(t *testing.T) {
	s, err := Open(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}
}
