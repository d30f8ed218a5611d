package api

import (
	"context"
	"net/http"

	"github.com/lysyi3m/news-comb/app/aggregate"
	"github.com/lysyi3m/news-comb/app/cache"
	"github.com/lysyi3m/news-comb/app/catalog"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/fetch"
	"github.com/lysyi3m/news-comb/app/health"
	"github.com/lysyi3m/news-comb/app/prefs"
)

// GuardInterface validates outbound request targets before the API fetches
// anything on a caller's behalf.
type GuardInterface interface {
	Validate(ctx context.Context, rawURL string) error
}

var _ GuardInterface = (*fetch.Guard)(nil)

type Handler struct {
	catalog    *catalog.Catalog
	prefs      *prefs.Preferences
	tracker    *health.Tracker
	itemRepo   database.ItemRepository
	guard      GuardInterface
	fetcher    *fetch.Fetcher
	extractor  *feed.ContentExtractor
	aggregator *aggregate.Aggregator
	store      cache.Store
	httpClient *http.Client
	userAgent  string
}

type urlRequest struct {
	URL string `json:"url" binding:"required"`
}

type categoryRequest struct {
	Category string `json:"category" binding:"required"`
}
