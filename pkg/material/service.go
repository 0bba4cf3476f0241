package material

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
	"github.com/TheoDny/stock-management-sub000/pkg/characteristic"
	"github.com/TheoDny/stock-management-sub000/pkg/tag"
	"github.com/TheoDny/stock-management-sub000/pkg/tenancy"
	"github.com/TheoDny/stock-management-sub000/pkg/value"
)

// Recorder triggers a synchronous history snapshot. It is satisfied by
// history.Engine but avoids a circular dependency.
type Recorder interface {
	RecordNow(ctx context.Context, materialID string) error
}

// ValueInput is one (characteristic, raw value) entry of a create or update.
// For file-type characteristics the payload arrives in FilesToAdd and, on
// update, FilesToDelete.
type ValueInput struct {
	CharacteristicID string
	Raw              any
	FilesToAdd       []value.FileUpload
	FilesToDelete    []string
}

// CreateInput describes a new material.
type CreateInput struct {
	Name        string
	Description string
	TagIDs      []string
	Order       []string
	Values      []ValueInput
}

// UpdateInput describes a replace-all update of a material.
type UpdateInput struct {
	Name        string
	Description string
	TagIDs      []string
	Order       []string
	Values      []ValueInput
}

// Service implements the material aggregate operations. Updates to one
// material are serialized with a per-id mutex: the replace-all pattern is
// not safe under concurrent writers.
type Service struct {
	db     *gorm.DB
	store  *Store
	chars  *characteristic.Store
	tags   tag.Provider
	codec  *value.Codec
	rec    Recorder
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new material Service.
func NewService(
	db *gorm.DB,
	store *Store,
	chars *characteristic.Store,
	tags tag.Provider,
	codec *value.Codec,
	rec Recorder,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:     db,
		store:  store,
		chars:  chars,
		tags:   tags,
		codec:  codec,
		rec:    rec,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockMaterial serializes mutations per material id. Entries are never
// reclaimed: the map is bounded by the number of distinct materials mutated
// over the process lifetime, one mutex each.
func (s *Service) lockMaterial(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Create persists a new material with its values and triggers the first
// history snapshot synchronously. Creation is not complete until that
// snapshot exists, since the latest-snapshot read path has no fallback to
// the live row.
func (s *Service) Create(ctx context.Context, actor tenancy.Actor, in CreateInput) (*Material, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validationf("material name must be non-empty")
	}

	defs, err := s.loadDefinitions(ctx, actor, in.Values)
	if err != nil {
		return nil, err
	}
	tags, err := s.tags.GetByIDs(ctx, actor.EntityID, in.TagIDs)
	if err != nil {
		return nil, err
	}

	materialID := uuid.New().String()

	rows, fileRows, err := s.buildRows(ctx, materialID, defs, in.Values, nil, false)
	if err != nil {
		return nil, err
	}

	m := &Material{
		ID:                  materialID,
		EntityID:            actor.EntityID,
		Name:                strings.TrimSpace(in.Name),
		Description:         in.Description,
		CharacteristicOrder: characteristic.JSONStringSlice(reconcileOrder(in.Order, valueIDs(in.Values))),
		Tags:                tags,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("create material: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("create value rows: %w", err)
			}
		}
		if len(fileRows) > 0 {
			if err := tx.Create(&fileRows).Error; err != nil {
				return fmt.Errorf("create value file rows: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.rec.RecordNow(ctx, m.ID); err != nil {
		return nil, fmt.Errorf("material %s created but initial snapshot failed: %w", m.ID, err)
	}
	s.logger.Info("material created",
		"materialId", m.ID, "entityId", actor.EntityID, "values", len(rows))
	return m, nil
}

// Update applies replace-all semantics: every value row of the material is
// deleted and recreated inside one transaction, the order list is
// reconciled, and file deletions run in DB-only mode so blobs referenced by
// prior snapshots keep resolving. A snapshot is triggered synchronously
// after commit; its failure leaves the update committed.
func (s *Service) Update(ctx context.Context, actor tenancy.Actor, id string, in UpdateInput) (*Material, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validationf("material name must be non-empty")
	}

	unlock := s.lockMaterial(id)
	defer unlock()

	m, err := s.store.GetLive(ctx, actor.EntityID, id)
	if err != nil {
		return nil, err
	}

	defs, err := s.loadDefinitions(ctx, actor, in.Values)
	if err != nil {
		return nil, err
	}
	tags, err := s.tags.GetByIDs(ctx, actor.EntityID, in.TagIDs)
	if err != nil {
		return nil, err
	}
	existingFiles, err := s.store.FileIDs(ctx, id)
	if err != nil {
		return nil, err
	}

	// Blob work happens before the row transaction: uploads and deletes are
	// independent per file and their results are aggregated first.
	rows, fileRows, err := s.buildRows(ctx, id, defs, in.Values, existingFiles, true)
	if err != nil {
		return nil, err
	}
	s.dropOrphanedFiles(ctx, id, existingFiles, in.Values)

	m.Name = strings.TrimSpace(in.Name)
	m.Description = in.Description
	m.CharacteristicOrder = characteristic.JSONStringSlice(reconcileOrder(in.Order, valueIDs(in.Values)))

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Material{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"name":                 m.Name,
				"description":          m.Description,
				"characteristic_order": m.CharacteristicOrder,
			}).Error; err != nil {
			return fmt.Errorf("update material: %w", err)
		}
		if err := tx.Model(m).Association("Tags").Replace(&tags); err != nil {
			return fmt.Errorf("replace material tags: %w", err)
		}
		if err := tx.Where("material_id = ?", id).Delete(&CharacteristicValue{}).Error; err != nil {
			return fmt.Errorf("clear value rows: %w", err)
		}
		if err := tx.Where("material_id = ?", id).Delete(&ValueFile{}).Error; err != nil {
			return fmt.Errorf("clear value file rows: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("recreate value rows: %w", err)
			}
		}
		if len(fileRows) > 0 {
			if err := tx.Create(&fileRows).Error; err != nil {
				return fmt.Errorf("recreate value file rows: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.Tags = tags

	if err := s.rec.RecordNow(ctx, id); err != nil {
		s.logger.Error("snapshot after material update failed",
			"materialId", id, "error", err)
	}
	s.logger.Info("material updated",
		"materialId", id, "entityId", actor.EntityID, "values", len(rows))
	return m, nil
}

// Delete sets the soft tombstone. History remains queryable; the material
// disappears from live listings and live reference counts.
func (s *Service) Delete(ctx context.Context, actor tenancy.Actor, id string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	unlock := s.lockMaterial(id)
	defer unlock()

	if err := s.store.SoftDelete(ctx, actor.EntityID, id); err != nil {
		return err
	}
	s.logger.Info("material soft-deleted", "materialId", id, "entityId", actor.EntityID)
	return nil
}

// Get returns one live material.
func (s *Service) Get(ctx context.Context, actor tenancy.Actor, id string) (*Material, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	return s.store.GetLive(ctx, actor.EntityID, id)
}

// List returns the tenant's live materials.
func (s *Service) List(ctx context.Context, actor tenancy.Actor) ([]Material, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	return s.store.ListLive(ctx, actor.EntityID)
}

// loadDefinitions resolves and checks every referenced characteristic.
func (s *Service) loadDefinitions(ctx context.Context, actor tenancy.Actor, values []ValueInput) (map[string]*characteristic.Characteristic, error) {
	ids := valueIDs(values)
	if len(ids) != len(values) {
		return nil, apperr.Validationf("duplicate characteristic in value set")
	}
	defs, err := s.chars.GetByIDs(ctx, actor.EntityID, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := defs[id]; !ok {
			return nil, apperr.NotFoundf("characteristic %s", id)
		}
	}
	return defs, nil
}

// buildRows runs the codec over every value input and produces the junction
// rows to persist. dbOnly selects row-only blob deletion (material updates).
func (s *Service) buildRows(
	ctx context.Context,
	materialID string,
	defs map[string]*characteristic.Characteristic,
	values []ValueInput,
	existingFiles map[string][]string,
	dbOnly bool,
) ([]CharacteristicValue, []ValueFile, error) {
	rows := make([]CharacteristicValue, 0, len(values))
	var fileRows []ValueFile

	for _, in := range values {
		def := defs[in.CharacteristicID]
		v, err := s.codec.Normalize(def, in.Raw)
		if err != nil {
			return nil, nil, err
		}
		encoded, err := value.Encode(v)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, CharacteristicValue{
			MaterialID:       materialID,
			CharacteristicID: def.ID,
			Value:            encoded,
		})

		if def.Type != characteristic.TypeFile {
			continue
		}
		refs, err := s.codec.ApplyFiles(ctx, materialID, def.ID,
			existingFiles[def.ID], in.FilesToAdd, in.FilesToDelete, dbOnly)
		if err != nil {
			return nil, nil, err
		}
		for pos, ref := range refs {
			fileRows = append(fileRows, ValueFile{
				MaterialID:       materialID,
				CharacteristicID: def.ID,
				FileID:           ref.ID,
				Position:         pos,
			})
		}
	}
	return rows, fileRows, nil
}

// dropOrphanedFiles clears FileRef rows for file characteristics removed
// from the value set entirely. Deletion is DB-only: the physical blobs stay
// so prior snapshots keep rendering.
func (s *Service) dropOrphanedFiles(ctx context.Context, materialID string, existingFiles map[string][]string, values []ValueInput) {
	kept := mapset.NewSet(valueIDs(values)...)
	var orphaned []string
	for charID, ids := range existingFiles {
		if !kept.Contains(charID) {
			orphaned = append(orphaned, ids...)
		}
	}
	if len(orphaned) == 0 {
		return
	}
	if err := s.codec.DeleteRefs(ctx, orphaned, true); err != nil {
		s.logger.Error("failed to drop orphaned file refs",
			"materialId", materialID, "count", len(orphaned), "error", err)
	}
}

// valueIDs extracts the distinct characteristic ids of a value set,
// preserving input order.
func valueIDs(values []ValueInput) []string {
	return lo.Uniq(lo.Map(values, func(v ValueInput, _ int) string {
		return v.CharacteristicID
	}))
}

// reconcileOrder keeps the supplied order for ids that exist in the value
// set, appends value ids the order missed, and drops ids with no value row.
func reconcileOrder(order []string, ids []string) []string {
	present := mapset.NewSet(ids...)
	out := lo.Filter(lo.Uniq(order), func(id string, _ int) bool {
		return present.Contains(id)
	})
	for _, id := range ids {
		if !lo.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
