package feed

import (
	"time"
)

// Feed parsing types

type Metadata struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url,omitempty"`
	Language    string `json:"language,omitempty"`
}

// Item is a parsed feed entry before normalization. PublishedAt is the zero
// value when the source date could not be parsed.
type Item struct {
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Authors     []string  `json:"authors,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
}

// Result is the outcome of fetching and parsing a single feed.
type Result struct {
	Metadata Metadata
	Items    []Item
}

// NewsItem is a normalized article ready for merging, caching, and durable
// storage. ID is regenerated per run; URL is the stable identity.
type NewsItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content,omitempty"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	URL         string    `json:"url"`
	Slug        string    `json:"slug,omitempty"`
}
