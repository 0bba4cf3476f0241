package history_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
	"github.com/TheoDny/stock-management-sub000/pkg/blob"
	"github.com/TheoDny/stock-management-sub000/pkg/characteristic"
	"github.com/TheoDny/stock-management-sub000/pkg/config"
	"github.com/TheoDny/stock-management-sub000/pkg/history"
	"github.com/TheoDny/stock-management-sub000/pkg/material"
	"github.com/TheoDny/stock-management-sub000/pkg/tag"
	"github.com/TheoDny/stock-management-sub000/pkg/tenancy"
	"github.com/TheoDny/stock-management-sub000/pkg/value"
)

var actor = tenancy.Actor{EntityID: "entity-1", UserID: "user-1"}

// fixture wires the full core: stores, blob store, codec, snapshot engine,
// worker, and both services, all against one in-memory database.
type fixture struct {
	db        *gorm.DB
	materials *material.Service
	chars     *characteristic.Service
	matStore  *material.Store
	histStore *history.Store
	engine    *history.Engine
	worker    *history.Worker
	blobs     *blob.DiskStore
	blobDir   string
}

func setup(t *testing.T) *fixture {
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

	matStore := material.NewStore(db)
	charStore := characteristic.NewStore(db)
	tagStore := tag.NewStore(db)
	histStore := history.NewStore(db)
	blobDir := t.TempDir()
	blobs := blob.NewDiskStore(db, blobDir, nil)

	require.NoError(t, charStore.AutoMigrate())
	require.NoError(t, tagStore.AutoMigrate())
	require.NoError(t, matStore.AutoMigrate())
	require.NoError(t, histStore.AutoMigrate())
	require.NoError(t, blobs.AutoMigrate())

	builder := history.NewBuilder(matStore, charStore, blobs, nil)
	engine := history.NewEngine(histStore, builder, matStore, nil)
	worker := history.NewWorker(histStore, engine, config.SnapshotConfig{
		Enabled:     true,
		Concurrency: 1,
		MaxRetries:  2,
	}, nil)

	codec := value.NewCodec(blobs, 0, 0, nil)
	materials := material.NewService(db, matStore, charStore, tagStore, codec, engine, nil)
	chars := characteristic.NewService(charStore, engine, nil)

	return &fixture{
		db: db, materials: materials, chars: chars,
		matStore: matStore, histStore: histStore,
		engine: engine, worker: worker, blobs: blobs, blobDir: blobDir,
	}
}

func (f *fixture) newChar(t *testing.T, spec characteristic.CreateSpec) *characteristic.Characteristic {
	t.Helper()
	c, err := f.chars.Create(context.Background(), actor, spec)
	require.NoError(t, err)
	return c
}

func (f *fixture) newTag(t *testing.T, name, color string) tag.Tag {
	t.Helper()
	tg := tag.Tag{
		ID: uuid.New().String(), EntityID: actor.EntityID,
		Name: name, Color: color, FontColor: "#ffffff",
	}
	require.NoError(t, f.db.Create(&tg).Error)
	return tg
}

func TestCreateProducesInitialSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	weight := f.newChar(t, characteristic.CreateSpec{
		Name: "Weight", Type: characteristic.TypeNumber, Units: "kg",
	})
	tg := f.newTag(t, "heavy", "#333333")

	m, err := f.materials.Create(ctx, actor, material.CreateInput{
		Name:   "Anvil",
		TagIDs: []string{tg.ID},
		Values: []material.ValueInput{{CharacteristicID: weight.ID, Raw: 42}},
	})
	require.NoError(t, err)

	snap, err := f.engine.GetLatest(ctx, actor, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Anvil", snap.Name)

	tags, err := snap.TagList()
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, history.TagSnapshot{Name: "heavy", Color: "#333333", FontColor: "#ffffff"}, tags[0])

	chars, err := snap.CharacteristicList()
	require.NoError(t, err)
	require.Len(t, chars, 1)
	assert.Equal(t, "Weight", chars[0].Name)
	assert.Equal(t, characteristic.TypeNumber, chars[0].Type)
	assert.Equal(t, "kg", chars[0].Units)
	assert.Equal(t, value.Number(42), chars[0].Value)
}

func TestSnapshotFollowsCharacteristicOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a := f.newChar(t, characteristic.CreateSpec{Name: "A", Type: characteristic.TypeText})
	b := f.newChar(t, characteristic.CreateSpec{Name: "B", Type: characteristic.TypeText})
	c := f.newChar(t, characteristic.CreateSpec{Name: "C", Type: characteristic.TypeText})

	m, err := f.materials.Create(ctx, actor, material.CreateInput{
		Name:  "X",
		Order: []string{c.ID, a.ID, b.ID},
		Values: []material.ValueInput{
			{CharacteristicID: a.ID, Raw: "1"},
			{CharacteristicID: b.ID, Raw: "2"},
			{CharacteristicID: c.ID, Raw: "3"},
		},
	})
	require.NoError(t, err)

	snap, err := f.engine.GetLatest(ctx, actor, m.ID)
	require.NoError(t, err)
	chars, err := snap.CharacteristicList()
	require.NoError(t, err)
	require.Len(t, chars, 3, "snapshot length equals the characteristic order length")
	assert.Equal(t, []string{"C", "A", "B"}, []string{chars[0].Name, chars[1].Name, chars[2].Name})
}

func TestSnapshotsFreezeTags(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tg := f.newTag(t, "urgent", "#ff0000")

	m, err := f.materials.Create(ctx, actor, material.CreateInput{
		Name: "X", TagIDs: []string{tg.ID},
	})
	require.NoError(t, err)

	// A later tag edit must not leak into the existing snapshot.
	require.NoError(t, f.db.Model(&tag.Tag{}).Where("id = ?", tg.ID).
		Update("name", "renamed").Error)

	snap, err := f.engine.GetLatest(ctx, actor, m.ID)
	require.NoError(t, err)
	tags, err := snap.TagList()
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "urgent", tags[0].Name)
}

func TestSnapshotsFreezeFilePaths(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	docs := f.newChar(t, characteristic.CreateSpec{Name: "Docs", Type: characteristic.TypeFile})

	m, err := f.materials.Create(ctx, actor, material.CreateInput{
		Name: "X",
		Values: []material.ValueInput{{
			CharacteristicID: docs.ID,
			FilesToAdd: []value.FileUpload{
				{Bytes: []byte("first"), MIMEType: "text/plain", Name: "first.txt"},
				{Bytes: []byte("second"), MIMEType: "text/plain", Name: "second.txt"},
			},
		}},
	})
	require.NoError(t, err)

	fileIDs, err := f.matStore.FileIDs(ctx, m.ID)
	require.NoError(t, err)
	firstID := fileIDs[docs.ID][0]

	// Keep the two snapshot timestamps strictly ordered.
	time.Sleep(5 * time.Millisecond)

	_, err = f.materials.Update(ctx, actor, m.ID, material.UpdateInput{
		Name: "X",
		Values: []material.ValueInput{{
			CharacteristicID: docs.ID,
			FilesToDelete:    []string{firstID},
		}},
	})
	require.NoError(t, err)

	snaps, err := f.engine.GetHistory(ctx, actor, m.ID,
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	// Newest first: the update snapshot keeps one file, the create snapshot
	// keeps both, and every frozen path still resolves on disk.
	latest, err := snaps[0].CharacteristicList()
	require.NoError(t, err)
	initial, err := snaps[1].CharacteristicList()
	require.NoError(t, err)

	latestFiles := latest[0].Value.(value.Files)
	initialFiles := initial[0].Value.(value.Files)
	require.Len(t, latestFiles.Files, 1)
	require.Len(t, initialFiles.Files, 2)
	assert.Equal(t, "second.txt", latestFiles.Files[0].Name)

	for _, entry := range initialFiles.Files {
		_, err := os.Stat(filepath.Join(f.blobDir, filepath.FromSlash(entry.Path)))
		assert.NoError(t, err, "frozen path %s must stay on disk", entry.Path)
	}
}

func TestCharacteristicRenameFansOut(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	size := f.newChar(t, characteristic.CreateSpec{Name: "Size", Type: characteristic.TypeText})

	m1, err := f.materials.Create(ctx, actor, material.CreateInput{
		Name:   "First",
		Values: []material.ValueInput{{CharacteristicID: size.ID, Raw: "small"}},
	})
	require.NoError(t, err)
	m2, err := f.materials.Create(ctx, actor, material.CreateInput{
		Name:   "Second",
		Values: []material.ValueInput{{CharacteristicID: size.ID, Raw: "large"}},
	})
	require.NoError(t, err)
	untouched, err := f.materials.Create(ctx, actor, material.CreateInput{Name: "Third"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = f.chars.Update(ctx, actor, size.ID, "Dimensions", "")
	require.NoError(t, err)

	pending, err := f.histStore.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	f.worker.Drain(ctx)

	for _, id := range []string{m1.ID, m2.ID} {
		snaps, err := f.engine.GetHistory(ctx, actor, id,
			time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, snaps, 2, "material %s gets a rebuild snapshot", id)
		chars, err := snaps[0].CharacteristicList()
		require.NoError(t, err)
		assert.Equal(t, "Dimensions", chars[0].Name)
	}

	snaps, err := f.engine.GetHistory(ctx, actor, untouched.ID,
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "materials without the characteristic are untouched")
}

func TestSnapshotSkipsDanglingOrderEntries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	size := f.newChar(t, characteristic.CreateSpec{Name: "Size", Type: characteristic.TypeText})
	// Defined but never attached, so it has no value row.
	valueless := f.newChar(t, characteristic.CreateSpec{Name: "Valueless", Type: characteristic.TypeText})

	m, err := f.materials.Create(ctx, actor, material.CreateInput{
		Name:   "X",
		Values: []material.ValueInput{{CharacteristicID: size.ID, Raw: "small"}},
	})
	require.NoError(t, err)

	// Corrupt the order with a dangling id and an entry without a value
	// row, bypassing the service's reconciliation.
	corrupted := characteristic.JSONStringSlice{size.ID, "does-not-exist", valueless.ID}
	require.NoError(t, f.db.Model(&material.Material{}).
		Where("id = ?", m.ID).
		Update("characteristic_order", corrupted).Error)

	require.NoError(t, f.engine.RecordNow(ctx, m.ID))

	snap, err := f.engine.GetLatest(ctx, actor, m.ID)
	require.NoError(t, err)
	chars, err := snap.CharacteristicList()
	require.NoError(t, err)
	require.Len(t, chars, 1, "invalid order entries are skipped, not folded in")
	assert.Equal(t, "Size", chars[0].Name)
	assert.Equal(t, value.Text("small"), chars[0].Value)
}

func TestQueuedJobCompletesAfterSoftDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	size := f.newChar(t, characteristic.CreateSpec{Name: "Size", Type: characteristic.TypeText})
	m, err := f.materials.Create(ctx, actor, material.CreateInput{
		Name:   "X",
		Values: []material.ValueInput{{CharacteristicID: size.ID, Raw: "small"}},
	})
	require.NoError(t, err)

	_, err = f.chars.Update(ctx, actor, size.ID, "Dimensions", "")
	require.NoError(t, err)
	require.NoError(t, f.materials.Delete(ctx, actor, m.ID))

	f.worker.Drain(ctx)

	pending, err := f.histStore.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending, "the queued job still completes against the tombstoned row")

	snaps, err := f.engine.GetHistory(ctx, actor, m.ID,
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, snaps, 2, "history of a soft-deleted material stays queryable")
}

func TestIdenticalCharacteristicUpdateQueuesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	size := f.newChar(t, characteristic.CreateSpec{Name: "Size", Type: characteristic.TypeText})
	_, err := f.materials.Create(ctx, actor, material.CreateInput{
		Name:   "X",
		Values: []material.ValueInput{{CharacteristicID: size.ID, Raw: "small"}},
	})
	require.NoError(t, err)

	_, err = f.chars.Update(ctx, actor, size.ID, "Size", "")
	require.NoError(t, err)

	pending, err := f.histStore.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestGetHistoryInvertedRangeIsEmpty(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	m, err := f.materials.Create(ctx, actor, material.CreateInput{Name: "X"})
	require.NoError(t, err)

	snaps, err := f.engine.GetHistory(ctx, actor, m.ID,
		time.Now().Add(time.Hour), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestGetLatestWithoutSnapshotIsNotFound(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Bypass the service so no snapshot exists.
	m := material.Material{ID: uuid.New().String(), EntityID: actor.EntityID, Name: "raw"}
	require.NoError(t, f.db.Create(&m).Error)

	_, err := f.engine.GetLatest(ctx, actor, m.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHistoryScopedToTenant(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	m, err := f.materials.Create(ctx, actor, material.CreateInput{Name: "X"})
	require.NoError(t, err)

	other := tenancy.Actor{EntityID: "entity-2", UserID: "user-2"}
	_, err = f.engine.GetLatest(ctx, other, m.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.engine.GetHistory(ctx, other, m.ID, time.Time{}, time.Now())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFailedJobRetriesThenFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// A job for a material that does not exist can never build.
	jobID := uuid.New().String()
	require.NoError(t, f.histStore.EnqueueJob(ctx, &history.SnapshotJob{
		ID:         jobID,
		MaterialID: uuid.New().String(),
		Reason:     "test",
	}))

	f.worker.Drain(ctx)

	job, err := f.histStore.JobByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, history.JobStateFailed, job.State)
	assert.Equal(t, 2, job.AttemptCount)
	assert.NotEmpty(t, job.LastError)
	assert.NotNil(t, job.FinishedAt)
}
