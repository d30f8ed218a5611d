package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entries outlive every consumer TTL by a wide margin; readers judge
// staleness themselves, redis expiry only bounds memory.
const redisRetention = 48 * time.Hour

// RedisStore keeps freshness-cache entries in redis so multiple instances
// can share merged snapshots.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		// Corrupt entry, treat as a miss and let the writer overwrite it
		slog.Warn("Discarding corrupt cache entry", "key", key, "error", err)
		return nil, nil
	}

	return &entry, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, data []byte) error {
	entry := Entry{Data: data, Timestamp: time.Now()}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry for key %s: %w", key, err)
	}

	if err := s.client.Set(ctx, key, payload, redisRetention).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// FeedKey generates a consistent cache key for a feed URL.
func FeedKey(feedURL string) string {
	hash := sha256.Sum256([]byte(feedURL))
	return fmt.Sprintf("feed:%x", hash[:8])
}

// ArticleKey generates a cache key for extracted article content.
func ArticleKey(articleURL string) string {
	hash := sha256.Sum256([]byte(articleURL))
	return fmt.Sprintf("article:%x", hash[:8])
}
