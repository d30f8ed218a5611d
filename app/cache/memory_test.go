package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte(`{"items":[{"title":"hello"}]}`)
	if err := store.Set(ctx, "merged:en", data); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entry, err := store.Get(ctx, "merged:en")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry == nil {
		t.Fatal("Expected entry, got miss")
	}

	// Round-trip must be byte-identical
	if !bytes.Equal(entry.Data, data) {
		t.Errorf("Expected %q, got %q", data, entry.Data)
	}
}

func TestMemoryStore_MissOnUnknownKey(t *testing.T) {
	store := NewMemoryStore()

	entry, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry != nil {
		t.Error("Expected miss for unknown key")
	}
}

func TestMemoryStore_CallerOwnedTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Set(ctx, "feed:abc", []byte("payload")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entry, err := store.Get(ctx, "feed:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// Within TTL the entry is fresh
	if !Fresh(entry, 5*time.Minute, now.Add(4*time.Minute)) {
		t.Error("Expected entry to be fresh inside TTL window")
	}

	// After TTL it is a miss from the reader's point of view, but the
	// store still returns it
	if Fresh(entry, 5*time.Minute, now.Add(6*time.Minute)) {
		t.Error("Expected entry to be stale outside TTL window")
	}
	if entry == nil {
		t.Error("Store must not evict stale entries itself")
	}

	// Distinct consumers can apply distinct TTLs to the same entry
	if !Fresh(entry, 24*time.Hour, now.Add(6*time.Minute)) {
		t.Error("Expected entry to be fresh under a longer consumer TTL")
	}
}

func TestFresh_NilEntry(t *testing.T) {
	if Fresh(nil, time.Minute, time.Now()) {
		t.Error("Nil entry must never be fresh")
	}
}

func TestMemoryStore_Overwrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "key", []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, "key", []byte("new")); err != nil {
		t.Fatal(err)
	}

	entry, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Data) != "new" {
		t.Errorf("Expected overwritten value 'new', got %q", entry.Data)
	}
}

func TestMemoryStore_Prune(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := NewMemoryStoreWithClock(func() time.Time { return clock })
	ctx := context.Background()

	store.Set(ctx, "old", []byte("a"))
	clock = now.Add(2 * time.Hour)
	store.Set(ctx, "recent", []byte("b"))

	removed := store.Prune(now.Add(time.Hour))
	if removed != 1 {
		t.Errorf("Expected 1 pruned entry, got %d", removed)
	}

	if entry, _ := store.Get(ctx, "old"); entry != nil {
		t.Error("Expected old entry to be pruned")
	}
	if entry, _ := store.Get(ctx, "recent"); entry == nil {
		t.Error("Expected recent entry to survive pruning")
	}
}

func TestKeyGeneration(t *testing.T) {
	// Same URL generates the same key, different URLs differ
	key1a := FeedKey("https://example.com/feed.xml")
	key1b := FeedKey("https://example.com/feed.xml")
	key2 := FeedKey("https://different.com/feed.xml")

	if key1a != key1b {
		t.Errorf("Expected same key for same URL, got %s != %s", key1a, key1b)
	}
	if key1a == key2 {
		t.Errorf("Expected different keys for different URLs, got same: %s", key1a)
	}

	if ArticleKey("https://example.com/article") == key1a {
		t.Error("Expected article keys to live in their own namespace")
	}
}
