package redisstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const titlesKey = "chat:titles"

// Store caches chat session titles so the session list does not hit the
// database on every render. A nil *Store is a valid no-op cache, used when
// REDIS_ADDR is not configured.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	if addr == "" {
		return nil
	}
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) SetTitle(ctx context.Context, chatID, title string) {
	if s == nil || s.rdb == nil {
		return
	}
	_ = s.rdb.HSet(ctx, titlesKey, chatID, title).Err()
}

func (s *Store) DeleteTitle(ctx context.Context, chatID string) {
	if s == nil || s.rdb == nil {
		return
	}
	_ = s.rdb.HDel(ctx, titlesKey, chatID).Err()
}

// Titles returns the cached chatID->title map; empty when the cache is cold
// or unavailable.
func (s *Store) Titles(ctx context.Context) map[string]string {
	if s == nil || s.rdb == nil {
		return nil
	}
	m, err := s.rdb.HGetAll(ctx, titlesKey).Result()
	if err != nil {
		return nil
	}
	return m
}
