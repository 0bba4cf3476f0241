package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
	"github.com/TheoDny/stock-management-sub000/pkg/material"
	"github.com/TheoDny/stock-management-sub000/pkg/tenancy"
)

// Engine ties the builder to the store. It satisfies material.Recorder
// (synchronous snapshots on material mutations) and
// characteristic.SnapshotEnqueuer (queued fan-out on characteristic
// renames), and exposes the history read path.
type Engine struct {
	store     *Store
	builder   *Builder
	materials *material.Store
	logger    *slog.Logger
}

// NewEngine creates a snapshot Engine.
func NewEngine(store *Store, builder *Builder, materials *material.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, builder: builder, materials: materials, logger: logger}
}

// RecordNow builds and appends a snapshot synchronously.
func (e *Engine) RecordNow(ctx context.Context, materialID string) error {
	snap, err := e.builder.Build(ctx, materialID)
	if err != nil {
		return err
	}
	return e.store.Append(ctx, snap)
}

// Enqueue queues a snapshot build to run decoupled from the caller. The
// job row is the observable completion signal.
func (e *Engine) Enqueue(ctx context.Context, actor tenancy.Actor, materialID, reason string) error {
	return e.store.EnqueueJob(ctx, &SnapshotJob{
		ID:          uuid.New().String(),
		MaterialID:  materialID,
		Reason:      reason,
		RequestedBy: actor.UserID,
		RequestedAt: time.Now(),
		State:       JobStateQueued,
	})
}

// GetHistory returns the material's snapshots within [from, to] inclusive,
// newest first, after checking the material belongs to the actor's tenant.
// Soft-deleted materials stay queryable.
func (e *Engine) GetHistory(ctx context.Context, actor tenancy.Actor, materialID string, from, to time.Time) ([]Snapshot, error) {
	if err := e.checkTenant(ctx, actor, materialID); err != nil {
		return nil, err
	}
	return e.store.GetHistory(ctx, materialID, from, to)
}

// GetLatest returns the newest snapshot of a material. Every material has
// one from creation on, so a miss is a hard NotFound.
func (e *Engine) GetLatest(ctx context.Context, actor tenancy.Actor, materialID string) (*Snapshot, error) {
	if err := e.checkTenant(ctx, actor, materialID); err != nil {
		return nil, err
	}
	return e.store.GetLatest(ctx, materialID)
}

func (e *Engine) checkTenant(ctx context.Context, actor tenancy.Actor, materialID string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	m, err := e.materials.GetAny(ctx, materialID)
	if err != nil {
		return err
	}
	if m.EntityID != actor.EntityID {
		return apperr.NotFoundf("material %s", materialID)
	}
	return nil
}
