package history_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
	"github.com/TheoDny/stock-management-sub000/pkg/history"
)

func setupStore(t *testing.T) *history.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// One pooled connection keeps every goroutine on the same in-memory
	// database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := history.NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func appendSnapshot(t *testing.T, store *history.Store, materialID string, at time.Time) string {
	t.Helper()
	snap := &history.Snapshot{
		ID:              uuid.New().String(),
		MaterialID:      materialID,
		Name:            "x",
		Tags:            "[]",
		Characteristics: "[]",
		CreatedAt:       at,
	}
	require.NoError(t, store.Append(context.Background(), snap))
	return snap.ID
}

func TestGetHistoryBoundsAreInclusive(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	materialID := uuid.New().String()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := appendSnapshot(t, store, materialID, base)
	second := appendSnapshot(t, store, materialID, base.Add(time.Hour))
	appendSnapshot(t, store, materialID, base.Add(2*time.Hour))
	appendSnapshot(t, store, uuid.New().String(), base)

	snaps, err := store.GetHistory(ctx, materialID, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, second, snaps[0].ID, "newest first")
	assert.Equal(t, first, snaps[1].ID)
}

func TestGetLatestPicksNewest(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	materialID := uuid.New().String()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appendSnapshot(t, store, materialID, base)
	newest := appendSnapshot(t, store, materialID, base.Add(time.Hour))

	snap, err := store.GetLatest(ctx, materialID)
	require.NoError(t, err)
	assert.Equal(t, newest, snap.ID)

	_, err = store.GetLatest(ctx, uuid.New().String())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func enqueue(t *testing.T, store *history.Store, requestedAt time.Time) *history.SnapshotJob {
	t.Helper()
	job := &history.SnapshotJob{
		ID:          uuid.New().String(),
		MaterialID:  uuid.New().String(),
		Reason:      "test",
		RequestedAt: requestedAt,
	}
	require.NoError(t, store.EnqueueJob(context.Background(), job))
	return job
}

func TestClaimJobPicksOldestQueued(t *testing.T) {
	store := setupStore(t)

	now := time.Now()
	newer := enqueue(t, store, now)
	older := enqueue(t, store, now.Add(-time.Minute))

	claimed, err := store.ClaimJob(3)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, history.JobStateRunning, claimed.State)
	assert.Equal(t, 1, claimed.AttemptCount)
	assert.NotNil(t, claimed.StartedAt)

	claimed, err = store.ClaimJob(3)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, newer.ID, claimed.ID)

	claimed, err = store.ClaimJob(3)
	require.NoError(t, err)
	assert.Nil(t, claimed, "empty queue claims nothing")
}

func TestClaimJobSingleWinnerUnderContention(t *testing.T) {
	store := setupStore(t)

	job := enqueue(t, store, time.Now())

	const workers = 8
	claims := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimJob(3)
			assert.NoError(t, err)
			if claimed != nil {
				claims <- claimed.ID
			}
		}()
	}
	wg.Wait()
	close(claims)

	var winners []string
	for id := range claims {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1, "exactly one worker wins the claim")
	assert.Equal(t, job.ID, winners[0])

	got, err := store.JobByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, history.JobStateRunning, got.State)
	assert.Equal(t, 1, got.AttemptCount, "a lost race must not bump the attempt count twice")
}

func TestCompleteJob(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	job := enqueue(t, store, time.Now())
	claimed, err := store.ClaimJob(3)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, store.CompleteJob(job.ID))

	got, err := store.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, history.JobStateSucceeded, got.State)
	assert.NotNil(t, got.FinishedAt)
	assert.True(t, got.IsTerminal())
}

func TestFailJobRequeuesUntilRetriesExhausted(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	job := enqueue(t, store, time.Now())

	_, err := store.ClaimJob(2)
	require.NoError(t, err)
	require.NoError(t, store.FailJob(job.ID, "boom", 2))

	got, err := store.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, history.JobStateQueued, got.State, "one attempt left, re-queued")
	assert.Equal(t, "boom", got.LastError)

	_, err = store.ClaimJob(2)
	require.NoError(t, err)
	require.NoError(t, store.FailJob(job.ID, "boom again", 2))

	got, err = store.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, history.JobStateFailed, got.State)
	assert.Equal(t, "boom again", got.LastError)
	assert.True(t, got.IsTerminal())
}

func TestCleanupStuckJobs(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	job := enqueue(t, store, time.Now().Add(-time.Hour))
	claimed, err := store.ClaimJob(3)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// A short timeout makes the freshly claimed job count as stuck.
	time.Sleep(5 * time.Millisecond)
	recovered, err := store.CleanupStuckJobs(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	got, err := store.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, history.JobStateQueued, got.State)
	assert.Nil(t, got.StartedAt)
}

func TestDeleteJobsOlderThanKeepsPending(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	done := enqueue(t, store, time.Now().Add(-time.Hour))
	_, err := store.ClaimJob(3)
	require.NoError(t, err)
	require.NoError(t, store.CompleteJob(done.ID))
	pendingJob := enqueue(t, store, time.Now())

	time.Sleep(5 * time.Millisecond)
	deleted, err := store.DeleteJobsOlderThan(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.JobByID(ctx, done.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = store.JobByID(ctx, pendingJob.ID)
	assert.NoError(t, err)

	count, err := store.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
