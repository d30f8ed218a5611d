package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/news-comb/app/catalog"
)

const (
	// FailureThreshold is the consecutive-failure count that trips the breaker.
	FailureThreshold = 3

	baseCooldown = 5 * time.Minute
	maxCooldown  = 6 * time.Hour
)

// Record tracks fetch health for a single feed URL.
type Record struct {
	URL                 string
	ConsecutiveFailures int
	LastSuccessAt       *time.Time
	LastFailureAt       *time.Time
	DisabledUntil       *time.Time
	LastError           string
}

// Repository persists health records so breaker state survives restarts.
type Repository interface {
	UpsertRecord(record Record) error
	LoadRecords() ([]Record, error)
	DeleteRecordsOlderThan(cutoff time.Time) (int, error)
}

// Tracker is the per-feed circuit breaker. All mutations go through a
// single mutex so concurrent fetch completions cannot lose an increment
// or a reset.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]Record
	repo    Repository
	now     func() time.Time
}

// NewTracker builds a tracker seeded from the repository, if one is given.
// A nil repository keeps the tracker purely in-memory.
func NewTracker(repo Repository) *Tracker {
	return NewTrackerWithClock(repo, time.Now)
}

// NewTrackerWithClock injects a clock for deterministic tests.
func NewTrackerWithClock(repo Repository, now func() time.Time) *Tracker {
	t := &Tracker{
		records: make(map[string]Record),
		repo:    repo,
		now:     now,
	}

	if repo != nil {
		records, err := repo.LoadRecords()
		if err != nil {
			slog.Error("Failed to load persisted health records", "error", err)
		} else {
			for _, r := range records {
				t.records[r.URL] = r
			}
			if len(records) > 0 {
				slog.Info("Loaded persisted health records", "count", len(records))
			}
		}
	}

	return t
}

// RecordSuccess resets the failure streak and clears any cooldown.
func (t *Tracker) RecordSuccess(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	record := t.records[url]
	record.URL = url
	record.ConsecutiveFailures = 0
	record.DisabledUntil = nil
	record.LastSuccessAt = &now
	record.LastError = ""
	t.records[url] = record

	t.persist(record)
}

// RecordFailure bumps the failure streak and trips the breaker once the
// streak crosses the threshold. Cooldown doubles with every further failure,
// capped at maxCooldown.
func (t *Tracker) RecordFailure(url string, errorMessage string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	record := t.records[url]
	record.URL = url
	record.ConsecutiveFailures++
	record.LastFailureAt = &now
	record.LastError = errorMessage

	if record.ConsecutiveFailures >= FailureThreshold {
		cooldown := cooldownFor(record.ConsecutiveFailures)
		until := now.Add(cooldown)
		record.DisabledUntil = &until
		slog.Warn("Feed circuit breaker tripped",
			"url", url,
			"consecutive_failures", record.ConsecutiveFailures,
			"disabled_until", until.Format(time.RFC3339))
	}

	t.records[url] = record

	t.persist(record)
}

// IsAvailable reports whether a feed may be attempted. Feeds with no record
// are available; a tripped breaker re-opens once the cooldown elapses.
func (t *Tracker) IsAvailable(url string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.records[url]
	if !ok {
		return true
	}
	if record.DisabledUntil == nil {
		return true
	}
	return !t.now().Before(*record.DisabledUntil)
}

// FilterAvailable partitions feeds into attemptable and circuit-broken sets.
func (t *Tracker) FilterAvailable(feeds []catalog.FeedDescriptor) (available, skipped []catalog.FeedDescriptor) {
	available = make([]catalog.FeedDescriptor, 0, len(feeds))
	for _, f := range feeds {
		if t.IsAvailable(f.URL) {
			available = append(available, f)
		} else {
			skipped = append(skipped, f)
		}
	}
	return available, skipped
}

// GetRecord returns a copy of the health record for a URL.
func (t *Tracker) GetRecord(url string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.records[url]
	return record, ok
}

// Records returns a snapshot of all health records.
func (t *Tracker) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		records = append(records, r)
	}
	return records
}

// Prune drops records whose last activity is older than maxAge. Health
// records are otherwise never deleted and would grow with every URL ever
// attempted.
func (t *Tracker) Prune(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	removed := 0
	for url, record := range t.records {
		if lastActivity(record).Before(cutoff) {
			delete(t.records, url)
			removed++
		}
	}

	if t.repo != nil {
		if _, err := t.repo.DeleteRecordsOlderThan(cutoff); err != nil {
			slog.Error("Failed to prune persisted health records", "error", err)
		}
	}

	return removed
}

func lastActivity(record Record) time.Time {
	var last time.Time
	if record.LastSuccessAt != nil {
		last = *record.LastSuccessAt
	}
	if record.LastFailureAt != nil && record.LastFailureAt.After(last) {
		last = *record.LastFailureAt
	}
	return last
}

func cooldownFor(failures int) time.Duration {
	cooldown := baseCooldown
	for i := FailureThreshold; i < failures; i++ {
		cooldown *= 2
		if cooldown >= maxCooldown {
			return maxCooldown
		}
	}
	return cooldown
}

func (t *Tracker) persist(record Record) {
	if t.repo == nil {
		return
	}
	if err := t.repo.UpsertRecord(record); err != nil {
		slog.Error("Failed to persist health record", "url", record.URL, "error", err)
	}
}
