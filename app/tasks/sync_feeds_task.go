package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/news-comb/app/catalog"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/fetch"
	"github.com/lysyi3m/news-comb/app/health"
)

// SyncFeedsTask fetches a slice of catalog feeds with the patient retry
// policy and upserts their items into the durable store. Every feed in the
// slice is attempted, circuit-broken or not: the sync path favors
// completeness, and a success here is what resets a tripped breaker.
// Per-feed failures are recorded and skipped; the task itself only fails
// on storage errors.
type SyncFeedsTask struct {
	Task
	feeds      []catalog.FeedDescriptor
	fetcher    *fetch.Fetcher
	normalizer *feed.Normalizer
	tracker    *health.Tracker
	itemRepo   database.ItemRepository
	policy     fetch.Policy
}

func NewSyncFeedsTask(feeds []catalog.FeedDescriptor, fetcher *fetch.Fetcher,
	normalizer *feed.Normalizer, tracker *health.Tracker, itemRepo database.ItemRepository) *SyncFeedsTask {
	return &SyncFeedsTask{
		Task:       NewTask(TaskTypeSyncFeeds, fmt.Sprintf("%d feeds", len(feeds))),
		feeds:      feeds,
		fetcher:    fetcher,
		normalizer: normalizer,
		tracker:    tracker,
		itemRepo:   itemRepo,
		policy:     fetch.DefaultPolicy,
	}
}

func (t *SyncFeedsTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	synced := 0
	failed := 0
	stored := 0

	for _, descriptor := range t.feeds {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := t.fetcher.Run(ctx, descriptor.URL, t.policy)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.tracker.RecordFailure(descriptor.URL, err.Error())
			slog.Warn("Feed sync fetch failed",
				"url", descriptor.URL, "kind", fetch.KindOf(err), "error", err)
			failed++
			continue
		}
		t.tracker.RecordSuccess(descriptor.URL)

		count, err := t.storeItems(descriptor, result)
		if err != nil {
			return err
		}
		stored += count
		synced++
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"label", t.GetLabel(),
		"duration", t.GetDuration(),
		"synced", synced,
		"failed", failed,
		"items", stored)

	return nil
}

func (t *SyncFeedsTask) storeItems(descriptor catalog.FeedDescriptor, result *feed.Result) (int, error) {
	items := t.normalizer.Run(descriptor, result.Items)

	count := 0
	for _, item := range items {
		if item.URL == "" {
			continue
		}

		err := t.itemRepo.UpsertItem(database.Item{
			URL:         item.URL,
			Slug:        feed.StableSlug(item.Title, item.URL),
			Title:       item.Title,
			Description: item.Description,
			Content:     item.Content,
			Author:      item.Author,
			PublishedAt: item.PublishedAt,
			Source:      item.Source,
			Category:    item.Category,
			Language:    descriptor.Language,
		})
		if err != nil {
			return count, fmt.Errorf("failed to store item from %s: %w", descriptor.URL, err)
		}
		count++
	}

	return count, nil
}
