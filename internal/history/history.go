// Package history persists per-session conversation history behind
// domain.HistoryStore. Three backends: in-process memory, SQLite, Redis.
package history

import (
	"fmt"
	"log/slog"

	"chatrelay/internal/domain"
)

const (
	defaultMaxMessages = 100
	defaultLimit       = 100
)

// Options selects and configures a backend.
type Options struct {
	Backend       string // "memory" | "sqlite" | "redis"
	DBPath        string // sqlite
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxMessages   int // per-session cap; oldest messages are trimmed
	RetentionDays int // sqlite sweep / redis TTL; 0 keeps forever
	Logger        *slog.Logger
}

// Open creates the store for the configured backend.
func Open(opts Options) (domain.HistoryStore, error) {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = defaultMaxMessages
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(opts.MaxMessages), nil
	case "sqlite":
		return NewSQLiteStore(opts)
	case "redis":
		return NewRedisStore(opts)
	default:
		return nil, fmt.Errorf("unknown history backend: %s", opts.Backend)
	}
}
