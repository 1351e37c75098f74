package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatrelay/internal/domain"

	"github.com/redis/go-redis/v9"
)

const historyKeyPrefix = "chatrelay:history:"

// RedisStore keeps each session's history as one JSON blob under a keyed
// TTL. Suited to multi-instance deployments where SQLite's single file
// does not work.
type RedisStore struct {
	rdb         *redis.Client
	maxMessages int
	ttl         time.Duration
}

func NewRedisStore(opts Options) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis not reachable at %s: %w", opts.RedisAddr, err)
	}

	var ttl time.Duration
	if opts.RetentionDays > 0 {
		ttl = time.Duration(opts.RetentionDays) * 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, maxMessages: opts.MaxMessages, ttl: ttl}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return historyKeyPrefix + sessionID
}

func (s *RedisStore) load(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	data, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	var msgs []domain.ChatMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return msgs, nil
}

func (s *RedisStore) save(ctx context.Context, sessionID string, msgs []domain.ChatMessage) error {
	if len(msgs) > s.maxMessages {
		msgs = msgs[len(msgs)-s.maxMessages:]
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	msgs, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.save(ctx, sessionID, append(msgs, msg))
}

func (s *RedisStore) Messages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	msgs, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, s.key(sessionID)).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
