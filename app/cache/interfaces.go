package cache

import (
	"context"
	"time"
)

// TTLs are consumer-defined per call site, not a property of the store.
const (
	FeedTTL    = 5 * time.Minute
	MergedTTL  = 2 * time.Minute
	ArticleTTL = 24 * time.Hour
)

// Entry is a cached payload plus the time it was written. Staleness is
// always judged by the reader against its own TTL.
type Entry struct {
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the freshness cache contract. Get returns nil on a miss.
// Implementations never evict by TTL themselves.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Fresh reports whether an entry is still valid for the given TTL.
func Fresh(entry *Entry, ttl time.Duration, now time.Time) bool {
	if entry == nil {
		return false
	}
	return now.Sub(entry.Timestamp) < ttl
}
