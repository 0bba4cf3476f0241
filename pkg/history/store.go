package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
)

// Store provides database operations for snapshots and snapshot jobs.
// Snapshots are append-only: nothing here updates or deletes one.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new history Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the snapshot and job tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Snapshot{}); err != nil {
		return fmt.Errorf("auto-migrate material_snapshots: %w", err)
	}
	if err := s.db.AutoMigrate(&SnapshotJob{}); err != nil {
		return fmt.Errorf("auto-migrate snapshot_jobs: %w", err)
	}
	return nil
}

// Append persists a new immutable snapshot row.
func (s *Store) Append(ctx context.Context, snap *Snapshot) error {
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// GetHistory returns the material's snapshots within [from, to] inclusive,
// newest first. An inverted range yields an empty result, not an error.
func (s *Store) GetHistory(ctx context.Context, materialID string, from, to time.Time) ([]Snapshot, error) {
	if from.After(to) {
		return nil, nil
	}
	var out []Snapshot
	err := s.db.WithContext(ctx).
		Where("material_id = ? AND created_at >= ? AND created_at <= ?", materialID, from, to).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return out, nil
}

// GetLatest returns the single newest snapshot of a material.
func (s *Store) GetLatest(ctx context.Context, materialID string) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.WithContext(ctx).
		Where("material_id = ?", materialID).
		Order("created_at DESC, id DESC").
		First(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("no snapshot for material %s", materialID)
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	return &snap, nil
}

// EnqueueJob creates a queued snapshot job.
func (s *Store) EnqueueJob(ctx context.Context, job *SnapshotJob) error {
	if job.State == "" {
		job.State = JobStateQueued
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("enqueue snapshot job: %w", err)
	}
	return nil
}

// ClaimJob atomically picks the oldest queued job and transitions it to
// running. Returns nil when nothing is queued.
func (s *Store) ClaimJob(maxRetries int) (*SnapshotJob, error) {
	var job SnapshotJob
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("state = ? AND attempt_count <= ?", JobStateQueued, maxRetries).
			Order("requested_at ASC").
			Limit(1).
			First(&job).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		now := time.Now()
		res := tx.Model(&SnapshotJob{}).
			Where("id = ? AND state = ?", job.ID, JobStateQueued).
			Updates(map[string]any{
				"state":         JobStateRunning,
				"started_at":    now,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another worker claimed the job between the read and the
			// conditional update.
			job = SnapshotJob{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim snapshot job: %w", err)
	}
	if job.ID == "" {
		return nil, nil
	}
	if err := s.db.First(&job, "id = ?", job.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed job: %w", err)
	}
	return &job, nil
}

// CompleteJob marks a job as succeeded.
func (s *Store) CompleteJob(jobID string) error {
	now := time.Now()
	res := s.db.Model(&SnapshotJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"state":       JobStateSucceeded,
		"finished_at": now,
	})
	if res.Error != nil {
		return fmt.Errorf("complete snapshot job: %w", res.Error)
	}
	return nil
}

// FailJob records a failed attempt, re-queueing while retries remain.
func (s *Store) FailJob(jobID, errMsg string, maxRetries int) error {
	var job SnapshotJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("load job for fail: %w", err)
	}
	updates := map[string]any{"last_error": errMsg}
	if job.AttemptCount < maxRetries {
		updates["state"] = JobStateQueued
		updates["started_at"] = nil
	} else {
		updates["state"] = JobStateFailed
		updates["finished_at"] = time.Now()
	}
	res := s.db.Model(&SnapshotJob{}).Where("id = ?", jobID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("fail snapshot job: %w", res.Error)
	}
	return nil
}

// JobByID returns one job, for worker observability and tests.
func (s *Store) JobByID(ctx context.Context, jobID string) (*SnapshotJob, error) {
	var job SnapshotJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("snapshot job %s", jobID)
		}
		return nil, fmt.Errorf("get snapshot job: %w", err)
	}
	return &job, nil
}

// PendingJobs counts non-terminal jobs.
func (s *Store) PendingJobs(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&SnapshotJob{}).
		Where("state IN ?", []JobState{JobStateQueued, JobStateRunning}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return count, nil
}

// CleanupStuckJobs re-queues jobs stuck in running past the claim timeout.
func (s *Store) CleanupStuckJobs(claimTimeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-claimTimeout)
	res := s.db.Model(&SnapshotJob{}).
		Where("state = ? AND started_at < ?", JobStateRunning, cutoff).
		Updates(map[string]any{"state": JobStateQueued, "started_at": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup stuck jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteJobsOlderThan removes terminal jobs finished before the cutoff.
// Snapshots themselves are never deleted.
func (s *Store) DeleteJobsOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.
		Where("state IN ? AND finished_at < ?", []JobState{JobStateSucceeded, JobStateFailed}, cutoff).
		Delete(&SnapshotJob{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete old jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
