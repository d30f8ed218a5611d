package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/feed"
)

const (
	extractTimeout     = 30 * time.Second
	maxArticleBodySize = 5 << 20
)

// ExtractContentTask backfills full article content for recently stored
// items that only carried a summary in their feed.
type ExtractContentTask struct {
	Task
	httpClient *http.Client
	extractor  *feed.ContentExtractor
	itemRepo   database.ItemRepository
	userAgent  string
	limit      int
}

func NewExtractContentTask(httpClient *http.Client, extractor *feed.ContentExtractor,
	itemRepo database.ItemRepository, userAgent string, limit int) *ExtractContentTask {
	return &ExtractContentTask{
		Task:       NewTask(TaskTypeExtractContent, "content backfill"),
		httpClient: httpClient,
		extractor:  extractor,
		itemRepo:   itemRepo,
		userAgent:  userAgent,
		limit:      limit,
	}
}

func (t *ExtractContentTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	items, err := t.itemRepo.GetItemsMissingContent(t.limit)
	if err != nil {
		return fmt.Errorf("failed to get items for content extraction: %w", err)
	}
	if len(items) == 0 {
		slog.Debug("No items need content extraction")
		return nil
	}

	successCount := 0
	errorCount := 0

	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := t.extractContentForItem(ctx, item); err != nil {
			slog.Debug("Failed to extract content for item", "id", item.ID, "url", item.URL, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"success", successCount,
		"errors", errorCount)

	return nil
}

func (t *ExtractContentTask) extractContentForItem(ctx context.Context, item database.Item) error {
	if item.URL == "" {
		return fmt.Errorf("item has no URL")
	}

	data, err := t.fetchArticle(ctx, item.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch article: %w", err)
	}

	article, err := t.extractor.Run(data, item.URL)
	if err != nil {
		return fmt.Errorf("failed to extract content: %w", err)
	}

	if err := t.itemRepo.UpdateItemContent(item.ID, article.HTML); err != nil {
		return fmt.Errorf("failed to store extracted content: %w", err)
	}

	return nil
}

func (t *ExtractContentTask) fetchArticle(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, fmt.Errorf("content type is not HTML: %s", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArticleBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
