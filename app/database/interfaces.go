package database

import (
	"time"
)

// RecentFilter narrows recency queries.
type RecentFilter struct {
	Language string
	Category string
}

type ItemRepository interface {
	UpsertItem(item Item) error
	GetRecentItems(filter RecentFilter, limit int) ([]Item, error)
	GetItemBySlug(slug string) (*Item, error)
	GetItemBySlugPrefix(prefix string) (*Item, error)
	GetItemsMissingContent(limit int) ([]Item, error)
	UpdateItemContent(id int64, content string) error
	DeleteItemsOlderThan(cutoff time.Time) (int, error)
	GetItemCount() (int, error)
}
