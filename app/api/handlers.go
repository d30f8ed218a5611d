package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
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

const (
	defaultNewsLimit = 50
	maxNewsLimit     = 100

	articleFetchTimeout = 30 * time.Second
	maxArticleBodySize  = 5 << 20
)

func NewHandler(c *catalog.Catalog, p *prefs.Preferences, tracker *health.Tracker,
	itemRepo database.ItemRepository, guard GuardInterface, fetcher *fetch.Fetcher,
	extractor *feed.ContentExtractor, aggregator *aggregate.Aggregator,
	store cache.Store, httpClient *http.Client, userAgent string) *Handler {
	return &Handler{
		catalog:    c,
		prefs:      p,
		tracker:    tracker,
		itemRepo:   itemRepo,
		guard:      guard,
		fetcher:    fetcher,
		extractor:  extractor,
		aggregator: aggregator,
		store:      store,
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

// statusForKind maps a fetch failure kind to the HTTP status the API
// reports.
func statusForKind(kind fetch.Kind) int {
	switch kind {
	case fetch.KindBadInput:
		return http.StatusBadRequest
	case fetch.KindBlocked:
		return http.StatusForbidden
	case fetch.KindNotFound:
		return http.StatusNotFound
	case fetch.KindMalformed:
		return http.StatusUnprocessableEntity
	case fetch.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func fetchErrorResponse(c *gin.Context, err error) {
	kind := fetch.KindOf(err)
	c.JSON(statusForKind(kind), gin.H{
		"success": false,
		"error":   err.Error(),
		"kind":    string(kind),
	})
}

// GetNews returns recent stored items, optionally filtered by language and
// category.
func (h *Handler) GetNews(c *gin.Context) {
	limit := defaultNewsLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = min(parsed, maxNewsLimit)
	}

	filter := database.RecentFilter{
		Language: c.Query("language"),
		Category: c.Query("category"),
	}

	items, err := h.itemRepo.GetRecentItems(filter, limit)
	if err != nil {
		slog.Error("Database error", "operation", "get_recent_items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

// GetNewsItem looks an item up by its slug, falling back to a prefix match
// when the hash suffix does not line up.
func (h *Handler) GetNewsItem(c *gin.Context) {
	slug := c.Param("slug")
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing slug parameter"})
		return
	}

	item, err := h.itemRepo.GetItemBySlug(slug)
	if err != nil {
		slog.Error("Database error", "operation", "get_item_by_slug", "slug", slug, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if item == nil {
		if prefix := feed.SlugPrefix(slug); prefix != slug {
			item, err = h.itemRepo.GetItemBySlugPrefix(prefix)
			if err != nil {
				slog.Error("Database error", "operation", "get_item_by_slug_prefix", "slug", slug, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
				return
			}
		}
	}

	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "News item not found"})
		return
	}

	c.JSON(http.StatusOK, item)
}

// GetLatest runs an aggregation for the requested language and returns the
// final merged snapshot. A fresh cached result short-circuits the fetches.
// Closing the connection cancels the run.
func (h *Handler) GetLatest(c *gin.Context) {
	req := aggregate.Request{Language: c.Query("language")}

	var last *aggregate.Snapshot
	for snapshot := range h.aggregator.Run(c.Request.Context(), req) {
		s := snapshot
		last = &s
	}

	if last == nil || !last.Done {
		// the run was cancelled or superseded before finishing
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Aggregation did not complete"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":      last.Items,
		"total":      len(last.Items),
		"feeds":      last.Total,
		"from_cache": last.FromCache,
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	response := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"feeds":     h.catalog.Count(),
	}

	if itemCount, err := h.itemRepo.GetItemCount(); err == nil {
		response["items"] = itemCount
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) GetStats(c *gin.Context) {
	records := h.tracker.Records()

	disabled := 0
	failing := 0
	favoritesFailing := 0
	for _, record := range records {
		healthy := true
		if record.DisabledUntil != nil && time.Now().Before(*record.DisabledUntil) {
			disabled++
			healthy = false
		} else if record.ConsecutiveFailures > 0 {
			failing++
			healthy = false
		}
		if !healthy && h.prefs.IsFavorite(record.URL) {
			favoritesFailing++
		}
	}

	stats := map[string]interface{}{
		"catalog_feeds":     h.catalog.Count(),
		"tracked_feeds":     len(records),
		"disabled_feeds":    disabled,
		"failing_feeds":     failing,
		"favorites_failing": favoritesFailing,
	}

	if itemCount, err := h.itemRepo.GetItemCount(); err == nil {
		stats["stored_items"] = itemCount
	}

	c.JSON(http.StatusOK, stats)
}

// APIFetchFeed fetches and parses a single feed URL on demand. The URL is
// validated against internal targets before any network call; parsed
// results are cached briefly so repeated requests do not hammer the origin.
func (h *Handler) APIFetchFeed(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing or invalid url field"})
		return
	}

	ctx := c.Request.Context()
	if err := h.guard.Validate(ctx, req.URL); err != nil {
		fetchErrorResponse(c, err)
		return
	}

	key := cache.FeedKey(req.URL)
	if entry, err := h.store.Get(ctx, key); err == nil && cache.Fresh(entry, cache.FeedTTL, time.Now()) {
		c.Header("X-Cache", "HIT")
		c.Data(http.StatusOK, "application/json; charset=utf-8", entry.Data)
		return
	}

	result, err := h.fetcher.Run(ctx, req.URL, fetch.DefaultPolicy)
	if err != nil {
		fetchErrorResponse(c, err)
		return
	}

	payload, err := json.Marshal(gin.H{
		"success": true,
		"data": gin.H{
			"metadata": gin.H{
				"title":       result.Metadata.Title,
				"link":        result.Metadata.Link,
				"description": result.Metadata.Description,
				"language":    result.Metadata.Language,
			},
			"items": result.Items,
		},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to encode feed"})
		return
	}

	if err := h.store.Set(ctx, key, payload); err != nil {
		slog.Warn("Failed to cache fetched feed", "url", req.URL, "error", err)
	}

	c.Header("X-Cache", "MISS")
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

// APIExtractContent fetches an article page and extracts readable content.
// Results are cached for a day, keyed by URL.
func (h *Handler) APIExtractContent(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing or invalid url field"})
		return
	}

	ctx := c.Request.Context()
	if err := h.guard.Validate(ctx, req.URL); err != nil {
		fetchErrorResponse(c, err)
		return
	}

	key := cache.ArticleKey(req.URL)
	if entry, err := h.store.Get(ctx, key); err == nil && cache.Fresh(entry, cache.ArticleTTL, time.Now()) {
		c.Header("X-Cache", "HIT")
		c.Data(http.StatusOK, "application/json; charset=utf-8", entry.Data)
		return
	}

	data, err := h.fetchArticle(ctx, req.URL)
	if err != nil {
		fetchErrorResponse(c, err)
		return
	}

	article, err := h.extractor.Run(data, req.URL)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
		return
	}

	payload, err := json.Marshal(gin.H{"success": true, "data": article})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to encode article"})
		return
	}

	if err := h.store.Set(ctx, key, payload); err != nil {
		slog.Warn("Failed to cache extracted article", "url", req.URL, "error", err)
	}

	c.Header("X-Cache", "MISS")
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

func (h *Handler) fetchArticle(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, articleFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &fetch.Error{Kind: fetch.KindBadInput, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, &fetch.Error{Kind: fetch.KindUnavailable, URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &fetch.Error{Kind: fetch.KindNotFound, URL: url,
			Err: fmt.Errorf("article not found: HTTP %d", resp.StatusCode)}
	default:
		return nil, &fetch.Error{Kind: fetch.KindUnavailable, URL: url,
			Err: fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, &fetch.Error{Kind: fetch.KindMalformed, URL: url,
			Err: fmt.Errorf("content type is not HTML: %s", contentType)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArticleBodySize))
	if err != nil {
		return nil, &fetch.Error{Kind: fetch.KindUnavailable, URL: url, Err: err}
	}

	return data, nil
}

// APIRefresh starts a background aggregation so the merged cache is warm
// for subsequent latest requests.
func (h *Handler) APIRefresh(c *gin.Context) {
	req := aggregate.Request{Language: c.Query("language")}

	snapshots := h.aggregator.Run(context.Background(), req)
	go func() {
		for range snapshots {
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Aggregation started",
	})
}

func (h *Handler) APIGetPreferences(c *gin.Context) {
	c.JSON(http.StatusOK, h.prefs.Snapshot())
}

// bindFeedURL validates that the request names a feed known to the catalog.
func (h *Handler) bindFeedURL(c *gin.Context) (string, bool) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid url field"})
		return "", false
	}

	if _, ok := h.catalog.Get(req.URL); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found in catalog"})
		return "", false
	}

	return req.URL, true
}

func (h *Handler) APIEnableFeed(c *gin.Context) {
	url, ok := h.bindFeedURL(c)
	if !ok {
		return
	}
	h.prefs.Enable(url)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) APIDisableFeed(c *gin.Context) {
	url, ok := h.bindFeedURL(c)
	if !ok {
		return
	}
	h.prefs.Disable(url)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) APIBlockFeed(c *gin.Context) {
	url, ok := h.bindFeedURL(c)
	if !ok {
		return
	}
	h.prefs.Block(url)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) APIUnblockFeed(c *gin.Context) {
	url, ok := h.bindFeedURL(c)
	if !ok {
		return
	}
	h.prefs.Unblock(url)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) APIFavoriteFeed(c *gin.Context) {
	url, ok := h.bindFeedURL(c)
	if !ok {
		return
	}
	if !h.prefs.Favorite(url) {
		c.JSON(http.StatusConflict, gin.H{"error": "Blocked feeds cannot be favorited"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) APIUnfavoriteFeed(c *gin.Context) {
	url, ok := h.bindFeedURL(c)
	if !ok {
		return
	}
	h.prefs.Unfavorite(url)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) bindCategory(c *gin.Context) (string, bool) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid category field"})
		return "", false
	}
	return req.Category, true
}

func (h *Handler) APIEnableCategory(c *gin.Context) {
	category, ok := h.bindCategory(c)
	if !ok {
		return
	}
	count := h.prefs.EnableCategory(h.catalog, category)
	c.JSON(http.StatusOK, gin.H{"success": true, "feeds": count})
}

func (h *Handler) APIDisableCategory(c *gin.Context) {
	category, ok := h.bindCategory(c)
	if !ok {
		return
	}
	count := h.prefs.DisableCategory(h.catalog, category)
	c.JSON(http.StatusOK, gin.H{"success": true, "feeds": count})
}

func (h *Handler) APIHideCategory(c *gin.Context) {
	category, ok := h.bindCategory(c)
	if !ok {
		return
	}
	h.prefs.HideCategory(category)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) APIUnhideCategory(c *gin.Context) {
	category, ok := h.bindCategory(c)
	if !ok {
		return
	}
	h.prefs.UnhideCategory(category)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
