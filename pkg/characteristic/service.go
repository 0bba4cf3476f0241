package characteristic

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
	"github.com/TheoDny/stock-management-sub000/pkg/tenancy"
)

// SnapshotEnqueuer queues a history snapshot build for one material. It is
// satisfied by history.Engine but avoids a circular dependency.
type SnapshotEnqueuer interface {
	Enqueue(ctx context.Context, actor tenancy.Actor, materialID, reason string) error
}

// CreateSpec describes a new characteristic.
type CreateSpec struct {
	Name        string
	Description string
	Type        Type
	Options     []string
	Units       string
}

// Service implements the characteristic registry operations.
type Service struct {
	store     *Store
	snapshots SnapshotEnqueuer
	logger    *slog.Logger
}

// NewService creates a new characteristic Service.
func NewService(store *Store, snapshots SnapshotEnqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, snapshots: snapshots, logger: logger}
}

// Create validates the type-dependent shape and persists a new
// characteristic.
func (s *Service) Create(ctx context.Context, actor tenancy.Actor, spec CreateSpec) (*Characteristic, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	c := &Characteristic{
		ID:          uuid.New().String(),
		EntityID:    actor.EntityID,
		Name:        strings.TrimSpace(spec.Name),
		Description: spec.Description,
		Type:        spec.Type,
		Options:     JSONStringSlice(spec.Options),
		Units:       spec.Units,
	}
	if !spec.Type.SupportsUnits() {
		c.Units = ""
	}
	if !spec.Type.RequiresOptions() {
		c.Options = nil
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("characteristic created",
		"characteristicId", c.ID, "entityId", actor.EntityID, "type", c.Type)
	return c, nil
}

// Update changes name and description only. Identical input short-circuits
// without touching the row, so no spurious snapshots fan out. A real change
// queues a snapshot rebuild for every live material holding the
// characteristic.
func (s *Service) Update(ctx context.Context, actor tenancy.Actor, id, name, description string) (*Characteristic, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validationf("characteristic name must be non-empty")
	}

	current, err := s.store.GetByID(ctx, actor.EntityID, id)
	if err != nil {
		return nil, err
	}
	if current.Name == name && current.Description == description {
		return current, nil
	}

	if err := s.store.UpdateNameDescription(ctx, actor.EntityID, id, name, description); err != nil {
		return nil, err
	}
	current.Name = name
	current.Description = description

	materialIDs, err := s.store.LiveMaterialIDs(ctx, actor.EntityID, id)
	if err != nil {
		return nil, err
	}
	for _, materialID := range materialIDs {
		if err := s.snapshots.Enqueue(ctx, actor, materialID, "characteristic updated"); err != nil {
			// The rename itself is committed; a missed snapshot is a
			// history gap, not a failed update.
			s.logger.Error("failed to enqueue snapshot after characteristic update",
				"characteristicId", id, "materialId", materialID, "error", err)
		}
	}
	s.logger.Info("characteristic updated",
		"characteristicId", id, "entityId", actor.EntityID, "fanOut", len(materialIDs))
	return current, nil
}

// Delete hard-deletes a characteristic. It fails with apperr.ErrInUse while
// any live material still references it; historical snapshots alone do not
// block deletion.
func (s *Service) Delete(ctx context.Context, actor tenancy.Actor, id string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if _, err := s.store.GetByID(ctx, actor.EntityID, id); err != nil {
		return err
	}
	count, err := s.store.LiveRefCount(ctx, actor.EntityID, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return apperr.InUsef("characteristic %s is referenced by %d live material(s)", id, count)
	}
	if err := s.store.Delete(ctx, actor.EntityID, id); err != nil {
		return err
	}
	s.logger.Info("characteristic deleted", "characteristicId", id, "entityId", actor.EntityID)
	return nil
}

// List returns the tenant's characteristics with live reference counts.
func (s *Service) List(ctx context.Context, actor tenancy.Actor) ([]WithUsage, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	return s.store.ListWithUsage(ctx, actor.EntityID)
}

func validateSpec(spec CreateSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return apperr.Validationf("characteristic name must be non-empty")
	}
	if !spec.Type.Valid() {
		return apperr.Validationf("unknown characteristic type %q", spec.Type)
	}
	if spec.Type.RequiresOptions() {
		if len(spec.Options) < 2 {
			return apperr.Validationf("type %s requires at least 2 options, got %d",
				spec.Type, len(spec.Options))
		}
		seen := make(map[string]bool, len(spec.Options))
		for _, o := range spec.Options {
			if strings.TrimSpace(o) == "" {
				return apperr.Validationf("type %s options must be non-empty", spec.Type)
			}
			if seen[o] {
				return apperr.Validationf("duplicate option %q", o)
			}
			seen[o] = true
		}
	} else if len(spec.Options) > 0 {
		return apperr.Validationf("type %s does not take options", spec.Type)
	}
	if spec.Units != "" && !spec.Type.SupportsUnits() {
		return apperr.Validationf("type %s does not take units", spec.Type)
	}
	return nil
}
