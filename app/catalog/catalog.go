package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Catalog is the immutable registry of feed descriptors loaded at startup.
type Catalog struct {
	feeds []FeedDescriptor
	byURL map[string]FeedDescriptor
}

func NewCatalog(feeds []FeedDescriptor) *Catalog {
	byURL := make(map[string]FeedDescriptor, len(feeds))
	deduped := make([]FeedDescriptor, 0, len(feeds))
	for _, f := range feeds {
		if _, ok := byURL[f.URL]; ok {
			slog.Warn("Duplicate feed URL in catalog, keeping first", "url", f.URL, "name", f.Name)
			continue
		}
		byURL[f.URL] = f
		deduped = append(deduped, f)
	}
	return &Catalog{feeds: deduped, byURL: byURL}
}

// Load reads all YAML catalog files from the feeds directory. Each file
// carries a "feeds" list of descriptors.
func Load(feedsDir string) (*Catalog, error) {
	if _, err := os.Stat(feedsDir); os.IsNotExist(err) {
		return NewCatalog(nil), nil
	}

	files, err := filepath.Glob(filepath.Join(feedsDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YAML files: %w", err)
	}

	ymlFiles, err := filepath.Glob(filepath.Join(feedsDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YML files: %w", err)
	}
	files = append(files, ymlFiles...)

	var feeds []FeedDescriptor
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}

		var parsed catalogFile
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}

		for i, f := range parsed.Feeds {
			if err := validate(f); err != nil {
				return nil, fmt.Errorf("invalid feed %d in %s: %w", i, file, err)
			}
		}

		feeds = append(feeds, parsed.Feeds...)
	}

	return NewCatalog(feeds), nil
}

func validate(f FeedDescriptor) error {
	if f.Name == "" {
		return fmt.Errorf("missing name")
	}
	if f.URL == "" {
		return fmt.Errorf("missing url")
	}
	if f.Category == "" {
		return fmt.Errorf("missing category")
	}
	return nil
}

// Feeds returns all descriptors in catalog order.
func (c *Catalog) Feeds() []FeedDescriptor {
	return c.feeds
}

func (c *Catalog) Count() int {
	return len(c.feeds)
}

// Get returns the descriptor for a feed URL.
func (c *Catalog) Get(url string) (FeedDescriptor, bool) {
	f, ok := c.byURL[url]
	return f, ok
}

// ByLanguage returns feeds whose language matches the requested BCP 47 tag.
// Feeds without a language are included when lang is empty only.
func (c *Catalog) ByLanguage(lang string) []FeedDescriptor {
	if lang == "" {
		return c.feeds
	}

	want, err := language.Parse(lang)
	if err != nil {
		slog.Warn("Unparseable language filter, returning full catalog", "language", lang)
		return c.feeds
	}
	matcher := language.NewMatcher([]language.Tag{want})

	matched := make([]FeedDescriptor, 0, len(c.feeds))
	for _, f := range c.feeds {
		if f.Language == "" {
			continue
		}
		tag, err := language.Parse(f.Language)
		if err != nil {
			continue
		}
		if _, _, conf := matcher.Match(tag); conf >= language.High {
			matched = append(matched, f)
		}
	}
	return matched
}

// ByCategory returns feeds belonging to the given category.
func (c *Catalog) ByCategory(category string) []FeedDescriptor {
	matched := make([]FeedDescriptor, 0)
	for _, f := range c.feeds {
		if f.Category == category {
			matched = append(matched, f)
		}
	}
	return matched
}
