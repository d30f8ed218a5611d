package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lysyi3m/news-comb/app/catalog"
	"github.com/lysyi3m/news-comb/app/cfg"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/fetch"
	"github.com/lysyi3m/news-comb/app/health"
	"github.com/lysyi3m/news-comb/app/prefs"
)

const cleanupInterval = 6 * time.Hour

var _ TaskSchedulerInterface = (*Scheduler)(nil)

// Scheduler runs the worker pool and enqueues periodic work: a rotating
// slice of the catalog is synced every tick, so a large catalog is covered
// across ticks without fetching everything at once.
type Scheduler struct {
	catalog     *catalog.Catalog
	prefs       *prefs.Preferences
	tracker     *health.Tracker
	fetcher     *fetch.Fetcher
	normalizer  *feed.Normalizer
	extractor   *feed.ContentExtractor
	httpClient  *http.Client
	itemRepo    database.ItemRepository
	userAgent   string
	interval    time.Duration
	workerCount int
	sliceSize   int

	cursor      int
	lastCleanup time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	taskQueue chan TaskInterface
}

func NewScheduler(c *catalog.Catalog, p *prefs.Preferences, tracker *health.Tracker,
	fetcher *fetch.Fetcher, normalizer *feed.Normalizer, extractor *feed.ContentExtractor,
	httpClient *http.Client, itemRepo database.ItemRepository) TaskSchedulerInterface {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		catalog:     c,
		prefs:       p,
		tracker:     tracker,
		fetcher:     fetcher,
		normalizer:  normalizer,
		extractor:   extractor,
		httpClient:  httpClient,
		itemRepo:    itemRepo,
		userAgent:   cfg.UserAgent,
		interval:    time.Duration(cfg.SchedulerInterval) * time.Second,
		workerCount: cfg.WorkerCount,
		sliceSize:   cfg.SyncSliceSize,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 300),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) enqueueTasks() {
	slice := s.nextSlice()
	if len(slice) > 0 {
		syncTask := NewSyncFeedsTask(slice, s.fetcher, s.normalizer, s.tracker, s.itemRepo)
		if err := s.EnqueueTask(syncTask); err != nil {
			slog.Warn("Failed to enqueue SyncFeedsTask", "feeds", len(slice), "error", err)
		}
	}

	extractTask := NewExtractContentTask(s.httpClient, s.extractor, s.itemRepo, s.userAgent, s.sliceSize)
	if err := s.EnqueueTask(extractTask); err != nil {
		slog.Warn("Failed to enqueue ExtractContentTask", "error", err)
	}

	if time.Since(s.lastCleanup) >= cleanupInterval {
		s.lastCleanup = time.Now()
		cleanupTask := NewCleanupTask(s.itemRepo, s.tracker)
		if err := s.EnqueueTask(cleanupTask); err != nil {
			slog.Warn("Failed to enqueue CleanupTask", "error", err)
		}
	}
}

// nextSlice advances the rotating cursor over the enabled catalog feeds.
// The cursor wraps, so every feed is eventually visited.
func (s *Scheduler) nextSlice() []catalog.FeedDescriptor {
	feeds := s.prefs.FilterEnabled(s.catalog.Feeds())
	if len(feeds) == 0 {
		return nil
	}

	if s.cursor >= len(feeds) {
		s.cursor = 0
	}

	end := s.cursor + s.sliceSize
	if end > len(feeds) {
		end = len(feeds)
	}

	slice := feeds[s.cursor:end]
	if end >= len(feeds) {
		s.cursor = 0
	} else {
		s.cursor = end
	}
	return slice
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "label", task.GetLabel(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				time.Sleep(retryDelay)
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				default:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
