package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/health"
)

const (
	// itemRetention bounds how long news items are kept.
	itemRetention = 5 * 24 * time.Hour

	// healthRetention bounds how long idle health records are kept.
	healthRetention = 30 * 24 * time.Hour
)

// CleanupTask removes expired news items and stale health records.
type CleanupTask struct {
	Task
	itemRepo database.ItemRepository
	tracker  *health.Tracker
}

func NewCleanupTask(itemRepo database.ItemRepository, tracker *health.Tracker) *CleanupTask {
	return &CleanupTask{
		Task:     NewTask(TaskTypeCleanup, "retention"),
		itemRepo: itemRepo,
		tracker:  tracker,
	}
}

func (t *CleanupTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	deleted, err := t.itemRepo.DeleteItemsOlderThan(time.Now().UTC().Add(-itemRetention))
	if err != nil {
		return fmt.Errorf("failed to delete expired items: %w", err)
	}

	pruned := t.tracker.Prune(healthRetention)

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"items_deleted", deleted,
		"health_records_pruned", pruned)

	return nil
}
