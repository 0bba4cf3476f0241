package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/TheoDny/stock-management-sub000/pkg/config"
)

// Worker processes queued snapshot jobs with a pool of goroutines.
type Worker struct {
	store  *Store
	engine *Engine
	cfg    config.SnapshotConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWorker creates a snapshot worker pool.
func NewWorker(store *Store, engine *Engine, cfg config.SnapshotConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, engine: engine, cfg: cfg, logger: logger}
}

// Run starts the pool and blocks until the context is cancelled, then
// waits for in-flight builds to finish.
func (w *Worker) Run(ctx context.Context) {
	if !w.cfg.Enabled {
		w.logger.Info("snapshot worker disabled")
		return
	}

	w.logger.Info("snapshot worker starting",
		"concurrency", w.cfg.Concurrency,
		"maxRetries", w.cfg.MaxRetries,
		"pollInterval", w.cfg.PollInterval.String())

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.cleanupLoop(ctx)
	}()

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go func(workerID int) {
			defer w.wg.Done()
			w.loop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	w.logger.Info("snapshot worker shutting down")
	w.wg.Wait()
	w.logger.Info("snapshot worker stopped")
}

func (w *Worker) loop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOne(ctx, workerID)
		}
	}
}

// ProcessOne claims and processes a single queued job. It reports whether a
// job was claimed, which lets tests drain the queue without the poll loop.
func (w *Worker) ProcessOne(ctx context.Context, workerID int) bool {
	job, err := w.store.ClaimJob(w.cfg.MaxRetries)
	if err != nil {
		w.logger.Error("failed to claim snapshot job", "workerID", workerID, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	if err := w.engine.RecordNow(ctx, job.MaterialID); err != nil {
		w.logger.Error("snapshot job failed",
			"workerID", workerID, "jobID", job.ID,
			"materialId", job.MaterialID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error(), w.cfg.MaxRetries); failErr != nil {
			w.logger.Error("failed to mark snapshot job as failed",
				"jobID", job.ID, "error", failErr)
		}
		return true
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		w.logger.Error("failed to mark snapshot job as complete",
			"jobID", job.ID, "error", err)
	}
	return true
}

// Drain processes queued jobs until the queue is empty. Used by callers
// that need fan-out to settle, such as tests.
func (w *Worker) Drain(ctx context.Context) {
	for w.ProcessOne(ctx, 0) {
	}
}

func (w *Worker) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.cfg.ClaimTimeout > 0 {
				recovered, err := w.store.CleanupStuckJobs(w.cfg.ClaimTimeout)
				if err != nil {
					w.logger.Error("failed to cleanup stuck snapshot jobs", "error", err)
				} else if recovered > 0 {
					w.logger.Info("recovered stuck snapshot jobs", "count", recovered)
				}
			}
			if w.cfg.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -w.cfg.RetentionDays)
				deleted, err := w.store.DeleteJobsOlderThan(cutoff)
				if err != nil {
					w.logger.Error("failed to delete old snapshot jobs", "error", err)
				} else if deleted > 0 {
					w.logger.Info("deleted old snapshot jobs", "count", deleted)
				}
			}
		}
	}
}
