package feed

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"golang.org/x/net/html"

	"github.com/lysyi3m/news-comb/app/catalog"
)

const (
	// DescriptionLimit caps normalized description length in runes.
	DescriptionLimit = 300

	// FreshnessWindow drops items older than a rolling 24 hours. Items with
	// unparseable dates are kept as a conservative fallback.
	FreshnessWindow = 24 * time.Hour
)

// Normalizer converts parsed feed items into NewsItems: HTML is stripped
// from descriptions, stale items are dropped, and missing dates fall back
// to the fetch time.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewNormalizerWithClock injects a clock for deterministic tests.
func NewNormalizerWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Run normalizes the items of one fetched feed.
func (n *Normalizer) Run(source catalog.FeedDescriptor, items []Item) []NewsItem {
	now := n.now()
	cutoff := now.Add(-FreshnessWindow)

	news := make([]NewsItem, 0, len(items))
	for _, item := range items {
		published := item.PublishedAt
		dated := !published.IsZero()
		if !dated {
			published = now
		}

		// Only items with a parsed date can be judged stale
		if dated && published.Before(cutoff) {
			continue
		}

		description := StripHTML(cmp.Or(item.Description, item.Content))
		description = Truncate(description, DescriptionLimit)

		var author string
		if len(item.Authors) > 0 {
			author = item.Authors[0]
		}

		news = append(news, NewsItem{
			ID:          uuid.NewString(),
			Title:       strings.TrimSpace(item.Title),
			Description: description,
			Content:     item.Content,
			Author:      author,
			PublishedAt: published,
			Source:      source.Name,
			Category:    source.Category,
			URL:         item.Link,
		})
	}

	return news
}

// StripHTML removes tags and decodes entities from a fragment of HTML.
func StripHTML(fragment string) string {
	if fragment == "" {
		return ""
	}

	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			b.Write(tokenizer.Text())
		}
	}

	text := strings.ReplaceAll(b.String(), "\u00a0", " ")
	return strings.Join(strings.Fields(text), " ")
}

// Truncate shortens a string to limit runes, appending an ellipsis when
// anything was cut.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}

// StableSlug derives a deterministic slug from an item's title and stable
// URL, so repeated sync runs converge to the same key.
func StableSlug(title, itemURL string) string {
	hash := sha256.Sum256([]byte(itemURL))
	suffix := hex.EncodeToString(hash[:4])

	base := slug.Make(title)
	if len(base) > 80 {
		base = base[:80]
	}
	base = strings.Trim(base, "-")
	if base == "" {
		return suffix
	}

	return fmt.Sprintf("%s-%s", base, suffix)
}

// SlugPrefix strips the hash suffix from a stable slug, used for the
// starts-with recovery lookup when slug hashing mismatches.
func SlugPrefix(s string) string {
	idx := strings.LastIndex(s, "-")
	if idx <= 0 {
		return s
	}
	return s[:idx]
}
