package prefs

import (
	"testing"

	"github.com/lysyi3m/news-comb/app/catalog"
)

func testCatalog() *catalog.Catalog {
	return catalog.NewCatalog([]catalog.FeedDescriptor{
		{Name: "World News", URL: "https://world.example.com/rss", Category: "world"},
		{Name: "Global Wire", URL: "https://wire.example.com/rss", Category: "world"},
		{Name: "Tech Daily", URL: "https://tech.example.com/rss", Category: "tech"},
	})
}

func TestIsEnabled_DefaultAllow(t *testing.T) {
	p := New(nil)
	feed := catalog.FeedDescriptor{Name: "Any", URL: "https://any.example.com/rss", Category: "misc"}

	// Empty enabled set means all non-blocked feeds are enabled
	if !p.IsEnabled(feed) {
		t.Error("Expected default-allow semantics with an empty enabled set")
	}
}

func TestIsEnabled_ExplicitEnabledSet(t *testing.T) {
	p := New(nil)
	p.Enable("https://world.example.com/rss")

	enabled := catalog.FeedDescriptor{URL: "https://world.example.com/rss", Category: "world"}
	other := catalog.FeedDescriptor{URL: "https://tech.example.com/rss", Category: "tech"}

	if !p.IsEnabled(enabled) {
		t.Error("Expected explicitly enabled feed to pass")
	}
	if p.IsEnabled(other) {
		t.Error("Expected feed outside a non-empty enabled set to be filtered")
	}
}

func TestBlockedAlwaysWins(t *testing.T) {
	p := New(nil)
	url := "https://world.example.com/rss"
	feed := catalog.FeedDescriptor{URL: url, Category: "world"}

	p.Enable(url)
	p.Block(url)

	if p.IsEnabled(feed) {
		t.Error("Blocked must win over enabled")
	}

	// FilterEnabled never returns a blocked feed regardless of the
	// enabled set's contents
	filtered := p.FilterEnabled([]catalog.FeedDescriptor{feed})
	if len(filtered) != 0 {
		t.Errorf("Expected blocked feed to be filtered out, got %d feeds", len(filtered))
	}
}

func TestBlock_RemovesFromEnabledAndFavorites(t *testing.T) {
	p := New(nil)
	url := "https://world.example.com/rss"

	p.Enable(url)
	if !p.Favorite(url) {
		t.Fatal("Expected favoriting an unblocked feed to succeed")
	}

	p.Block(url)

	if p.IsFavorite(url) {
		t.Error("Blocking must remove the feed from favorites")
	}

	snapshot := p.Snapshot()
	if len(snapshot.EnabledFeeds) != 0 {
		t.Errorf("Blocking must remove the feed from the enabled set, got %v", snapshot.EnabledFeeds)
	}
	if len(snapshot.BlockedFeeds) != 1 {
		t.Errorf("Expected 1 blocked feed, got %v", snapshot.BlockedFeeds)
	}
}

func TestFavorite_RejectedForBlockedFeed(t *testing.T) {
	p := New(nil)
	url := "https://world.example.com/rss"

	p.Block(url)
	if p.Favorite(url) {
		t.Error("Favoriting a blocked feed must be rejected")
	}
	if p.IsFavorite(url) {
		t.Error("Blocked feed must not end up in favorites")
	}
}

func TestHiddenCategories(t *testing.T) {
	p := New(nil)
	feed := catalog.FeedDescriptor{URL: "https://tech.example.com/rss", Category: "tech"}

	p.HideCategory("tech")
	if p.IsEnabled(feed) {
		t.Error("Feeds in hidden categories must be filtered")
	}

	p.UnhideCategory("tech")
	if !p.IsEnabled(feed) {
		t.Error("Unhiding a category must restore its feeds")
	}
}

func TestEnableDisableCategory(t *testing.T) {
	c := testCatalog()
	p := New(nil)

	count := p.EnableCategory(c, "world")
	if count != 2 {
		t.Errorf("Expected 2 world feeds enabled, got %d", count)
	}

	// With a non-empty enabled set, the tech feed is now filtered
	tech := catalog.FeedDescriptor{URL: "https://tech.example.com/rss", Category: "tech"}
	if p.IsEnabled(tech) {
		t.Error("Expected tech feed to be filtered after enabling only world feeds")
	}

	p.DisableCategory(c, "world")
	snapshot := p.Snapshot()
	if len(snapshot.EnabledFeeds) != 0 {
		t.Errorf("Expected empty enabled set after disabling the category, got %v", snapshot.EnabledFeeds)
	}
}

func TestFilterEnabled(t *testing.T) {
	c := testCatalog()
	p := New(nil)

	p.Block("https://wire.example.com/rss")

	filtered := p.FilterEnabled(c.Feeds())
	if len(filtered) != 2 {
		t.Fatalf("Expected 2 feeds after filtering, got %d", len(filtered))
	}
	for _, f := range filtered {
		if f.URL == "https://wire.example.com/rss" {
			t.Error("Blocked feed leaked through FilterEnabled")
		}
	}
}

func TestFingerprint_TracksSelectionState(t *testing.T) {
	p := New(nil)
	before := p.Fingerprint()

	p.Block("https://wire.example.com/rss")
	after := p.Fingerprint()

	if before == after {
		t.Error("Expected fingerprint to change when blocking a feed")
	}

	// Favorites do not affect feed selection, so the fingerprint stays put
	p.Favorite("https://world.example.com/rss")
	if p.Fingerprint() != after {
		t.Error("Expected fingerprint to ignore favorites")
	}
}

type fakeRepo struct {
	saved  *Snapshot
	loaded *Snapshot
}

func (r *fakeRepo) SavePreferences(s Snapshot) error {
	r.saved = &s
	return nil
}

func (r *fakeRepo) LoadPreferences() (*Snapshot, error) {
	return r.loaded, nil
}

func TestPersistence(t *testing.T) {
	repo := &fakeRepo{loaded: &Snapshot{
		BlockedFeeds: []string{"https://spam.example.com/rss"},
	}}

	p := New(repo)

	blocked := catalog.FeedDescriptor{URL: "https://spam.example.com/rss", Category: "misc"}
	if p.IsEnabled(blocked) {
		t.Error("Expected persisted blocked feed to be filtered after load")
	}

	p.Enable("https://world.example.com/rss")
	if repo.saved == nil {
		t.Fatal("Expected mutation to be persisted")
	}
	if len(repo.saved.EnabledFeeds) != 1 {
		t.Errorf("Expected 1 enabled feed in the saved snapshot, got %v", repo.saved.EnabledFeeds)
	}
}
