package characteristic

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
)

// Store provides database operations for characteristics.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new characteristic Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the characteristics table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Characteristic{})
}

// Create inserts a new characteristic row.
func (s *Store) Create(ctx context.Context, c *Characteristic) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create characteristic: %w", err)
	}
	return nil
}

// GetByID returns one characteristic scoped to a tenant.
func (s *Store) GetByID(ctx context.Context, entityID, id string) (*Characteristic, error) {
	var c Characteristic
	err := s.db.WithContext(ctx).
		Where("entity_id = ? AND id = ?", entityID, id).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("characteristic %s", id)
		}
		return nil, fmt.Errorf("get characteristic: %w", err)
	}
	return &c, nil
}

// GetByIDs returns the characteristics with the given ids for one tenant,
// keyed by id.
func (s *Store) GetByIDs(ctx context.Context, entityID string, ids []string) (map[string]*Characteristic, error) {
	if len(ids) == 0 {
		return map[string]*Characteristic{}, nil
	}
	var rows []Characteristic
	err := s.db.WithContext(ctx).
		Where("entity_id = ? AND id IN ?", entityID, ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get characteristics by ids: %w", err)
	}
	out := make(map[string]*Characteristic, len(rows))
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

// UpdateNameDescription persists the only two mutable fields.
func (s *Store) UpdateNameDescription(ctx context.Context, entityID, id, name, description string) error {
	res := s.db.WithContext(ctx).
		Model(&Characteristic{}).
		Where("entity_id = ? AND id = ?", entityID, id).
		Updates(map[string]any{"name": name, "description": description})
	if res.Error != nil {
		return fmt.Errorf("update characteristic: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("characteristic %s", id)
	}
	return nil
}

// Delete hard-deletes a characteristic row.
func (s *Store) Delete(ctx context.Context, entityID, id string) error {
	res := s.db.WithContext(ctx).
		Where("entity_id = ? AND id = ?", entityID, id).
		Delete(&Characteristic{})
	if res.Error != nil {
		return fmt.Errorf("delete characteristic: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("characteristic %s", id)
	}
	return nil
}

// LiveRefCount counts non-soft-deleted materials currently holding the
// characteristic. Historical snapshots do not count.
func (s *Store) LiveRefCount(ctx context.Context, entityID, id string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table("material_characteristic_values").
		Joins("INNER JOIN materials ON materials.id = material_characteristic_values.material_id").
		Where("materials.entity_id = ? AND materials.deleted_at IS NULL", entityID).
		Where("material_characteristic_values.characteristic_id = ?", id).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count live references: %w", err)
	}
	return count, nil
}

// LiveMaterialIDs returns the ids of non-soft-deleted materials holding the
// characteristic, used for snapshot fan-out on rename.
func (s *Store) LiveMaterialIDs(ctx context.Context, entityID, id string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Table("material_characteristic_values").
		Joins("INNER JOIN materials ON materials.id = material_characteristic_values.material_id").
		Where("materials.entity_id = ? AND materials.deleted_at IS NULL", entityID).
		Where("material_characteristic_values.characteristic_id = ?", id).
		Pluck("material_characteristic_values.material_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list live material ids: %w", err)
	}
	return ids, nil
}

// ListWithUsage returns every characteristic of a tenant together with its
// live reference count.
func (s *Store) ListWithUsage(ctx context.Context, entityID string) ([]WithUsage, error) {
	var chars []Characteristic
	err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("name ASC").
		Find(&chars).Error
	if err != nil {
		return nil, fmt.Errorf("list characteristics: %w", err)
	}

	type usageRow struct {
		CharacteristicID string
		Count            int64
	}
	var usage []usageRow
	err = s.db.WithContext(ctx).
		Table("material_characteristic_values").
		Select("material_characteristic_values.characteristic_id AS characteristic_id, COUNT(*) AS count").
		Joins("INNER JOIN materials ON materials.id = material_characteristic_values.material_id").
		Where("materials.entity_id = ? AND materials.deleted_at IS NULL", entityID).
		Group("material_characteristic_values.characteristic_id").
		Scan(&usage).Error
	if err != nil {
		return nil, fmt.Errorf("count characteristic usage: %w", err)
	}
	counts := make(map[string]int64, len(usage))
	for _, u := range usage {
		counts[u.CharacteristicID] = u.Count
	}

	out := make([]WithUsage, 0, len(chars))
	for _, c := range chars {
		out = append(out, WithUsage{Characteristic: c, LiveRefs: counts[c.ID]})
	}
	return out, nil
}
