package aggregate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/lysyi3m/news-comb/app/cache"
	"github.com/lysyi3m/news-comb/app/catalog"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/fetch"
	"github.com/lysyi3m/news-comb/app/health"
	"github.com/lysyi3m/news-comb/app/prefs"
)

const (
	// BatchSize bounds concurrent fetches per wave.
	BatchSize = 6

	// batchDelay is a small pause between waves so a large catalog does not
	// hammer every origin at once.
	batchDelay = 50 * time.Millisecond

	// MaxItems caps the merged result.
	MaxItems = 100
)

// Request selects what to aggregate. Language is a BCP 47 tag; empty means
// the whole catalog.
type Request struct {
	Language string
}

// Snapshot is one progress emission of an aggregation run. Items is always
// sorted newest-first and capped at MaxItems. Consumers receive at least one
// snapshot; the last one has Done set.
type Snapshot struct {
	Items     []feed.NewsItem `json:"items"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Done      bool            `json:"done"`
	FromCache bool            `json:"from_cache"`
}

// Aggregator fetches the enabled, healthy feeds for a request in concurrent
// batches and merges the results, emitting a snapshot after every batch.
// A new run for the same request key supersedes the previous one.
type Aggregator struct {
	catalog    *catalog.Catalog
	prefs      *prefs.Preferences
	tracker    *health.Tracker
	fetcher    *fetch.Fetcher
	normalizer *feed.Normalizer
	store      cache.Store
	policy     fetch.Policy
	batchSize  int
	delay      time.Duration
	now        func() time.Time

	mu      sync.Mutex
	running map[string]*run
}

type run struct {
	cancel context.CancelFunc
}

func New(c *catalog.Catalog, p *prefs.Preferences, tracker *health.Tracker,
	fetcher *fetch.Fetcher, normalizer *feed.Normalizer, store cache.Store) *Aggregator {
	return &Aggregator{
		catalog:    c,
		prefs:      p,
		tracker:    tracker,
		fetcher:    fetcher,
		normalizer: normalizer,
		store:      store,
		policy:     fetch.AggregatePolicy,
		batchSize:  BatchSize,
		delay:      batchDelay,
		now:        time.Now,
		running:    make(map[string]*run),
	}
}

// Run starts an aggregation and returns a channel of progress snapshots.
// The channel is buffered for the whole run and closed when the run ends,
// so a consumer that stops reading early never blocks the pipeline.
func (a *Aggregator) Run(ctx context.Context, req Request) <-chan Snapshot {
	key := a.cacheKey(req)

	candidates := a.prefs.FilterEnabled(a.catalog.ByLanguage(req.Language))
	available, skipped := a.tracker.FilterAvailable(candidates)
	if len(skipped) > 0 {
		slog.Info("Skipping circuit-broken feeds", "count", len(skipped))
	}

	batches := lo.Chunk(available, a.batchSize)
	out := make(chan Snapshot, len(batches)+1)

	if cached := a.cachedSnapshot(ctx, key, len(available)); cached != nil {
		out <- *cached
		close(out)
		return out
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel}
	a.supersede(key, r)

	go func() {
		defer close(out)
		defer a.finish(key, r)

		a.aggregate(runCtx, key, available, batches, out)
	}()

	return out
}

func (a *Aggregator) aggregate(ctx context.Context, key string,
	available []catalog.FeedDescriptor, batches [][]catalog.FeedDescriptor, out chan<- Snapshot) {

	started := a.now()
	var merged []feed.NewsItem
	completed := 0

	for i, batch := range batches {
		if ctx.Err() != nil {
			slog.Debug("Aggregation cancelled", "key", key, "completed", completed)
			return
		}
		if i > 0 {
			select {
			case <-time.After(a.delay):
			case <-ctx.Done():
				return
			}
		}

		merged = mergeItems(merged, a.fetchBatch(ctx, batch))
		completed += len(batch)

		// a batch interrupted mid-flight produced partial results; do not
		// publish them as progress
		if ctx.Err() != nil {
			return
		}

		// later batches keep sorting the accumulator in place, so each
		// snapshot gets its own copy of the items
		out <- Snapshot{
			Items:     append([]feed.NewsItem(nil), merged...),
			Completed: completed,
			Total:     len(available),
			Done:      i == len(batches)-1,
		}
	}

	if len(batches) == 0 {
		out <- Snapshot{Items: []feed.NewsItem{}, Done: true}
		return
	}

	if ctx.Err() != nil {
		return
	}
	a.writeCache(ctx, key, merged)

	slog.Info("Aggregation finished",
		"key", key,
		"feeds", len(available),
		"items", len(merged),
		"duration", time.Since(started).Round(time.Millisecond))
}

// fetchBatch fans out one batch and collects the per-feed results. A failed
// feed contributes zero items and one failure record; it never aborts the
// batch.
func (a *Aggregator) fetchBatch(ctx context.Context, batch []catalog.FeedDescriptor) []feed.NewsItem {
	results := make([][]feed.NewsItem, len(batch))

	var wg sync.WaitGroup
	for i, descriptor := range batch {
		wg.Add(1)
		go func(i int, descriptor catalog.FeedDescriptor) {
			defer wg.Done()

			result, err := a.fetcher.Run(ctx, descriptor.URL, a.policy)
			if err != nil {
				// cancellation is not a feed fault
				if ctx.Err() != nil {
					return
				}
				a.tracker.RecordFailure(descriptor.URL, err.Error())
				slog.Warn("Feed fetch failed during aggregation",
					"url", descriptor.URL, "kind", fetch.KindOf(err), "error", err)
				return
			}

			a.tracker.RecordSuccess(descriptor.URL)
			results[i] = a.normalizer.Run(descriptor, result.Items)
		}(i, descriptor)
	}
	wg.Wait()

	var items []feed.NewsItem
	for _, r := range results {
		items = append(items, r...)
	}
	return items
}

func mergeItems(merged, incoming []feed.NewsItem) []feed.NewsItem {
	merged = append(merged, incoming...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].PublishedAt.After(merged[j].PublishedAt)
	})
	if len(merged) > MaxItems {
		merged = merged[:MaxItems]
	}
	return merged
}

func (a *Aggregator) cachedSnapshot(ctx context.Context, key string, total int) *Snapshot {
	entry, err := a.store.Get(ctx, key)
	if err != nil {
		slog.Warn("Failed to read merged cache", "key", key, "error", err)
		return nil
	}
	if !cache.Fresh(entry, cache.MergedTTL, a.now()) {
		return nil
	}

	var items []feed.NewsItem
	if err := json.Unmarshal(entry.Data, &items); err != nil {
		slog.Warn("Corrupt merged cache entry, refetching", "key", key, "error", err)
		return nil
	}

	return &Snapshot{
		Items:     items,
		Completed: total,
		Total:     total,
		Done:      true,
		FromCache: true,
	}
}

func (a *Aggregator) writeCache(ctx context.Context, key string, items []feed.NewsItem) {
	data, err := json.Marshal(items)
	if err != nil {
		slog.Error("Failed to marshal merged items", "key", key, "error", err)
		return
	}
	if err := a.store.Set(ctx, key, data); err != nil {
		slog.Warn("Failed to write merged cache", "key", key, "error", err)
	}
}

// cacheKey folds the language and the preference fingerprint together so a
// preference change never serves a stale merged result.
func (a *Aggregator) cacheKey(req Request) string {
	hash := sha256.Sum256([]byte(req.Language + "|" + a.prefs.Fingerprint()))
	return fmt.Sprintf("merged:%s", hex.EncodeToString(hash[:12]))
}

// supersede registers a run, cancelling any previous run with the same key.
func (a *Aggregator) supersede(key string, r *run) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.running[key]; ok {
		prev.cancel()
	}
	a.running[key] = r
}

func (a *Aggregator) finish(key string, r *run) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r.cancel()
	// a newer run may have replaced us already
	if a.running[key] == r {
		delete(a.running, key)
	}
}
