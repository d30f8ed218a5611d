package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/news-comb/app/aggregate"
	"github.com/lysyi3m/news-comb/app/cache"
	"github.com/lysyi3m/news-comb/app/catalog"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/fetch"
	"github.com/lysyi3m/news-comb/app/health"
	"github.com/lysyi3m/news-comb/app/prefs"
)

const testAPIKey = "test-key"

type fakeItemRepo struct {
	items []database.Item
}

func (r *fakeItemRepo) UpsertItem(item database.Item) error {
	r.items = append(r.items, item)
	return nil
}

func (r *fakeItemRepo) GetRecentItems(filter database.RecentFilter, limit int) ([]database.Item, error) {
	var matched []database.Item
	for _, item := range r.items {
		if filter.Language != "" && item.Language != filter.Language {
			continue
		}
		if filter.Category != "" && item.Category != filter.Category {
			continue
		}
		matched = append(matched, item)
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *fakeItemRepo) GetItemBySlug(slug string) (*database.Item, error) {
	for _, item := range r.items {
		if item.Slug == slug {
			return &item, nil
		}
	}
	return nil, nil
}

func (r *fakeItemRepo) GetItemBySlugPrefix(prefix string) (*database.Item, error) {
	for _, item := range r.items {
		if strings.HasPrefix(item.Slug, prefix) {
			return &item, nil
		}
	}
	return nil, nil
}

func (r *fakeItemRepo) GetItemsMissingContent(limit int) ([]database.Item, error) {
	return nil, nil
}

func (r *fakeItemRepo) UpdateItemContent(id int64, content string) error {
	return nil
}

func (r *fakeItemRepo) DeleteItemsOlderThan(cutoff time.Time) (int, error) {
	return 0, nil
}

func (r *fakeItemRepo) GetItemCount() (int, error) {
	return len(r.items), nil
}

// allowAllGuard skips target validation so tests can fetch loopback servers.
type allowAllGuard struct{}

func (allowAllGuard) Validate(ctx context.Context, rawURL string) error {
	return nil
}

func testServer(t *testing.T, repo *fakeItemRepo, feeds []catalog.FeedDescriptor, guard GuardInterface) (*gin.Engine, *prefs.Preferences) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c := catalog.NewCatalog(feeds)
	p := prefs.New(nil)
	tracker := health.NewTracker(nil)
	store := cache.NewMemoryStore()
	client := fetch.NewHTTPClient()
	fetcher := fetch.NewFetcher(client, feed.NewParser(), "test")
	aggregator := aggregate.New(c, p, tracker, fetcher, feed.NewNormalizer(), store)

	handler := NewHandler(c, p, tracker, repo, guard, fetcher,
		feed.NewContentExtractor(), aggregator, store, client, "test")

	return NewServer(handler, testAPIKey, "https://news.example.com", nil), p
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("X-API-Key", testAPIKey)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetNews(t *testing.T) {
	repo := &fakeItemRepo{items: []database.Item{
		{URL: "https://example.com/a", Slug: "a-11112222", Title: "A", Language: "en", Category: "world"},
		{URL: "https://example.com/b", Slug: "b-33334444", Title: "B", Language: "no", Category: "tech"},
	}}
	r, _ := testServer(t, repo, nil, allowAllGuard{})

	w := doJSON(t, r, http.MethodGet, "/news", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var response struct {
		Items []database.Item `json:"items"`
		Total int             `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Total != 2 {
		t.Errorf("expected 2 items, got %d", response.Total)
	}

	w = doJSON(t, r, http.MethodGet, "/news?language=en", "", false)
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Total != 1 || response.Items[0].Title != "A" {
		t.Errorf("expected only english item, got %+v", response.Items)
	}

	w = doJSON(t, r, http.MethodGet, "/news?limit=abc", "", false)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid limit, got %d", w.Code)
	}
}

func TestGetNewsItemSlugFallback(t *testing.T) {
	repo := &fakeItemRepo{items: []database.Item{
		{URL: "https://example.com/a", Slug: "breaking-story-deadbeef", Title: "Breaking"},
	}}
	r, _ := testServer(t, repo, nil, allowAllGuard{})

	w := doJSON(t, r, http.MethodGet, "/news/breaking-story-deadbeef", "", false)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for exact slug, got %d", w.Code)
	}

	// hash suffix mismatch falls back to the prefix lookup
	w = doJSON(t, r, http.MethodGet, "/news/breaking-story-cafebabe", "", false)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for prefix fallback, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/news/unknown-story-12345678", "", false)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown slug, got %d", w.Code)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	r, _ := testServer(t, &fakeItemRepo{}, nil, allowAllGuard{})

	w := doJSON(t, r, http.MethodPost, "/api/fetch", `{"url":"https://example.com/feed"}`, false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without API key, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/fetch", bytes.NewReader([]byte(`{"url":"x"}`)))
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("expected Bearer token to authenticate")
	}
}

func TestAPIFetchFeedGuardRejections(t *testing.T) {
	r, _ := testServer(t, &fakeItemRepo{}, nil, fetch.NewGuard())

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"metadata host", "http://169.254.169.254/latest/meta-data/", http.StatusForbidden},
		{"loopback", "http://127.0.0.1:8080/feed", http.StatusForbidden},
		{"bad scheme", "ftp://example.com/feed", http.StatusBadRequest},
		{"denied port", "http://example.com:6379/feed", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/fetch",
				fmt.Sprintf(`{"url":%q}`, tt.url), true)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestAPIFetchFeedSuccess(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>Test Feed</title>`+
			`<item><title>Story</title><link>https://example.com/story</link></item></channel></rss>`)
	}))
	t.Cleanup(server.Close)

	r, _ := testServer(t, &fakeItemRepo{}, nil, allowAllGuard{})

	w := doJSON(t, r, http.MethodPost, "/api/fetch", fmt.Sprintf(`{"url":%q}`, server.URL), true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var response struct {
		Success bool `json:"success"`
		Data    struct {
			Metadata struct {
				Title string `json:"title"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !response.Success || response.Data.Metadata.Title != "Test Feed" {
		t.Errorf("unexpected response: %s", w.Body.String())
	}

	// repeated request within the feed TTL is served from the cache
	w = doJSON(t, r, http.MethodPost, "/api/fetch", fmt.Sprintf(`{"url":%q}`, server.URL), true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected cache hit, got %q", w.Header().Get("X-Cache"))
	}
	if hits != 1 {
		t.Errorf("expected origin to be fetched once, got %d", hits)
	}
}

func TestAPIExtractContentCaches(t *testing.T) {
	hits := 0
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Article</title></head><body><article>`+
			strings.Repeat(`<p>Some long enough readable paragraph of article text goes here.</p>`, 20)+
			`</article></body></html>`)
	}))
	t.Cleanup(page.Close)

	r, _ := testServer(t, &fakeItemRepo{}, nil, allowAllGuard{})
	body := fmt.Sprintf(`{"url":%q}`, page.URL+"/article")

	w := doJSON(t, r, http.MethodPost, "/api/extract", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Cache") != "MISS" {
		t.Errorf("expected cache miss on first request, got %q", w.Header().Get("X-Cache"))
	}

	w = doJSON(t, r, http.MethodPost, "/api/extract", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected cache hit on second request, got %q", w.Header().Get("X-Cache"))
	}
	if hits != 1 {
		t.Errorf("expected article to be fetched once, got %d", hits)
	}
}

func TestAPIPreferenceEndpoints(t *testing.T) {
	feeds := []catalog.FeedDescriptor{
		{Name: "Alpha", URL: "https://a.example.com/feed", Category: "world"},
		{Name: "Beta", URL: "https://b.example.com/feed", Category: "tech"},
	}
	r, p := testServer(t, &fakeItemRepo{}, feeds, allowAllGuard{})

	w := doJSON(t, r, http.MethodPost, "/api/preferences/block",
		`{"url":"https://a.example.com/feed"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if p.IsEnabled(feeds[0]) {
		t.Error("expected blocked feed to be disabled")
	}

	// blocked feeds cannot be favorited
	w = doJSON(t, r, http.MethodPost, "/api/preferences/favorite",
		`{"url":"https://a.example.com/feed"}`, true)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 favoriting a blocked feed, got %d", w.Code)
	}

	// unknown feeds are rejected
	w = doJSON(t, r, http.MethodPost, "/api/preferences/enable",
		`{"url":"https://unknown.example.com/feed"}`, true)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown feed, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/preferences/categories/hide",
		`{"category":"tech"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if p.IsEnabled(feeds[1]) {
		t.Error("expected hidden category to disable its feeds")
	}

	w = doJSON(t, r, http.MethodGet, "/api/preferences", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snapshot prefs.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to parse snapshot: %v", err)
	}
	if len(snapshot.BlockedFeeds) != 1 || len(snapshot.HiddenCategories) != 1 {
		t.Errorf("unexpected snapshot: %+v", snapshot)
	}
}

func TestGetLatestAggregates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>Alpha</title>`+
			fmt.Sprintf(`<item><title>Story</title><link>https://example.com/story</link><pubDate>%s</pubDate></item>`,
				time.Now().Format(time.RFC1123Z))+
			`</channel></rss>`)
	}))
	t.Cleanup(server.Close)

	feeds := []catalog.FeedDescriptor{{Name: "Alpha", URL: server.URL, Category: "world"}}
	r, _ := testServer(t, &fakeItemRepo{}, feeds, allowAllGuard{})

	w := doJSON(t, r, http.MethodGet, "/latest", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var response struct {
		Total     int  `json:"total"`
		FromCache bool `json:"from_cache"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Total != 1 {
		t.Errorf("expected 1 merged item, got %d", response.Total)
	}

	// second request is served from the freshness cache
	w = doJSON(t, r, http.MethodGet, "/latest", "", false)
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !response.FromCache {
		t.Error("expected second request to hit the merged cache")
	}
}

func TestGetHealthAndStats(t *testing.T) {
	r, _ := testServer(t, &fakeItemRepo{}, nil, allowAllGuard{})

	if w := doJSON(t, r, http.MethodGet, "/health", "", false); w.Code != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/stats", "", false); w.Code != http.StatusOK {
		t.Errorf("expected 200 from /stats, got %d", w.Code)
	}
}

func TestGetStatsCountsFailingFavorites(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tracker := health.NewTracker(nil)
	tracker.RecordFailure("https://fav.example.com/feed", "HTTP error: 500")
	tracker.RecordFailure("https://other.example.com/feed", "HTTP error: 500")

	p := prefs.New(nil)
	p.Favorite("https://fav.example.com/feed")

	handler := &Handler{
		catalog:  catalog.NewCatalog(nil),
		prefs:    p,
		tracker:  tracker,
		itemRepo: &fakeItemRepo{},
	}

	r := gin.New()
	r.GET("/stats", handler.GetStats)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var stats struct {
		FailingFeeds     int `json:"failing_feeds"`
		FavoritesFailing int `json:"favorites_failing"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if stats.FailingFeeds != 2 {
		t.Errorf("expected 2 failing feeds, got %d", stats.FailingFeeds)
	}
	if stats.FavoritesFailing != 1 {
		t.Errorf("expected 1 failing favorite, got %d", stats.FavoritesFailing)
	}
}

func TestRootAdvertisesBaseURL(t *testing.T) {
	r, _ := testServer(t, &fakeItemRepo{}, nil, allowAllGuard{})

	w := doJSON(t, r, http.MethodGet, "/", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from root, got %d", w.Code)
	}

	var response struct {
		Endpoints map[string]string `json:"endpoints"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if got := response.Endpoints["news"]; got != "https://news.example.com/news" {
		t.Errorf("expected configured base URL in news link, got %q", got)
	}
	if got := response.Endpoints["preferences"]; !strings.HasPrefix(got, "https://news.example.com/api/preferences") {
		t.Errorf("expected configured base URL in preferences link, got %q", got)
	}
}
