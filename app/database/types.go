package database

import (
	"time"
)

// Item is a durable news row. URL is the stable unique key; the per-run
// in-memory IDs never reach storage.
type Item struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content,omitempty"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	Language    string    `json:"language,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
