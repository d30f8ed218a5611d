package prefs

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/lysyi3m/news-comb/app/catalog"
)

// Snapshot is the persisted form of user preferences. Feeds are keyed by
// URL, the same key health tracking and the durable store use.
type Snapshot struct {
	EnabledFeeds     []string `json:"enabled_feeds"`
	BlockedFeeds     []string `json:"blocked_feeds"`
	FavoriteFeeds    []string `json:"favorite_feeds"`
	HiddenCategories []string `json:"hidden_categories"`
}

// Repository persists preference snapshots.
type Repository interface {
	SavePreferences(snapshot Snapshot) error
	LoadPreferences() (*Snapshot, error)
}

// Preferences holds user-controlled feed selection. Blocked always wins over
// enabled; an empty enabled set means every non-blocked feed is enabled.
type Preferences struct {
	mu               sync.RWMutex
	enabledFeeds     map[string]struct{}
	blockedFeeds     map[string]struct{}
	favoriteFeeds    map[string]struct{}
	hiddenCategories map[string]struct{}
	repo             Repository
}

func New(repo Repository) *Preferences {
	p := &Preferences{
		enabledFeeds:     make(map[string]struct{}),
		blockedFeeds:     make(map[string]struct{}),
		favoriteFeeds:    make(map[string]struct{}),
		hiddenCategories: make(map[string]struct{}),
		repo:             repo,
	}

	if repo != nil {
		snapshot, err := repo.LoadPreferences()
		if err != nil {
			slog.Error("Failed to load persisted preferences", "error", err)
		} else if snapshot != nil {
			p.apply(*snapshot)
		}
	}

	return p
}

func (p *Preferences) apply(s Snapshot) {
	for _, url := range s.EnabledFeeds {
		p.enabledFeeds[url] = struct{}{}
	}
	for _, url := range s.BlockedFeeds {
		p.blockedFeeds[url] = struct{}{}
	}
	for _, url := range s.FavoriteFeeds {
		p.favoriteFeeds[url] = struct{}{}
	}
	for _, c := range s.HiddenCategories {
		p.hiddenCategories[c] = struct{}{}
	}
}

// IsEnabled reports whether a feed passes the preference filter.
func (p *Preferences) IsEnabled(feed catalog.FeedDescriptor) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.isEnabledLocked(feed)
}

func (p *Preferences) isEnabledLocked(feed catalog.FeedDescriptor) bool {
	if _, blocked := p.blockedFeeds[feed.URL]; blocked {
		return false
	}
	if _, hidden := p.hiddenCategories[feed.Category]; hidden {
		return false
	}
	if len(p.enabledFeeds) == 0 {
		return true
	}
	_, ok := p.enabledFeeds[feed.URL]
	return ok
}

// FilterEnabled returns the feeds that pass the preference filter.
func (p *Preferences) FilterEnabled(feeds []catalog.FeedDescriptor) []catalog.FeedDescriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return lo.Filter(feeds, func(f catalog.FeedDescriptor, _ int) bool {
		return p.isEnabledLocked(f)
	})
}

// Enable adds a feed to the enabled set. Blocked feeds stay blocked.
func (p *Preferences) Enable(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.enabledFeeds[url] = struct{}{}
	p.persist()
}

// Disable removes a feed from the enabled set. With default-allow semantics
// this only has an effect when an explicit enabled set exists.
func (p *Preferences) Disable(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.enabledFeeds, url)
	p.persist()
}

// Block adds a feed to the blocked set and removes it from the enabled and
// favorite sets in the same critical section.
func (p *Preferences) Block(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.blockedFeeds[url] = struct{}{}
	delete(p.enabledFeeds, url)
	delete(p.favoriteFeeds, url)
	p.persist()
}

func (p *Preferences) Unblock(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.blockedFeeds, url)
	p.persist()
}

// Favorite marks a feed as favorite. Blocked feeds cannot be favorited.
func (p *Preferences) Favorite(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, blocked := p.blockedFeeds[url]; blocked {
		return false
	}
	p.favoriteFeeds[url] = struct{}{}
	p.persist()
	return true
}

func (p *Preferences) Unfavorite(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.favoriteFeeds, url)
	p.persist()
}

func (p *Preferences) IsFavorite(url string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.favoriteFeeds[url]
	return ok
}

// EnableCategory adds every catalog feed of the category to the enabled set.
func (p *Preferences) EnableCategory(c *catalog.Catalog, category string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	feeds := c.ByCategory(category)
	for _, f := range feeds {
		p.enabledFeeds[f.URL] = struct{}{}
	}
	delete(p.hiddenCategories, category)
	p.persist()
	return len(feeds)
}

// DisableCategory removes every catalog feed of the category from the
// enabled set.
func (p *Preferences) DisableCategory(c *catalog.Catalog, category string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	feeds := c.ByCategory(category)
	for _, f := range feeds {
		delete(p.enabledFeeds, f.URL)
	}
	p.persist()
	return len(feeds)
}

func (p *Preferences) HideCategory(category string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.hiddenCategories[category] = struct{}{}
	p.persist()
}

func (p *Preferences) UnhideCategory(category string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.hiddenCategories, category)
	p.persist()
}

// Snapshot returns a sorted copy of the current preference state.
func (p *Preferences) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.snapshotLocked()
}

func (p *Preferences) snapshotLocked() Snapshot {
	return Snapshot{
		EnabledFeeds:     sortedKeys(p.enabledFeeds),
		BlockedFeeds:     sortedKeys(p.blockedFeeds),
		FavoriteFeeds:    sortedKeys(p.favoriteFeeds),
		HiddenCategories: sortedKeys(p.hiddenCategories),
	}
}

// Fingerprint returns a stable hash of the selection-relevant preference
// state, used as part of freshness-cache keys.
func (p *Preferences) Fingerprint() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.snapshotLocked()
	joined := strings.Join([]string{
		strings.Join(s.EnabledFeeds, ","),
		strings.Join(s.BlockedFeeds, ","),
		strings.Join(s.HiddenCategories, ","),
	}, "|")

	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:8])
}

func (p *Preferences) persist() {
	if p.repo == nil {
		return
	}
	if err := p.repo.SavePreferences(p.snapshotLocked()); err != nil {
		slog.Error("Failed to persist preferences", "error", err)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := lo.Keys(set)
	sort.Strings(keys)
	return keys
}
