package material

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
)

// Store provides database operations for materials and their value rows.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new material Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the material tables, including the tag
// join table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Material{}); err != nil {
		return fmt.Errorf("auto-migrate materials: %w", err)
	}
	if err := s.db.AutoMigrate(&CharacteristicValue{}); err != nil {
		return fmt.Errorf("auto-migrate material_characteristic_values: %w", err)
	}
	if err := s.db.AutoMigrate(&ValueFile{}); err != nil {
		return fmt.Errorf("auto-migrate material_value_files: %w", err)
	}
	return nil
}

// GetLive returns one non-deleted material with its tags.
func (s *Store) GetLive(ctx context.Context, entityID, id string) (*Material, error) {
	var m Material
	err := s.db.WithContext(ctx).
		Preload("Tags").
		Where("entity_id = ? AND id = ?", entityID, id).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("material %s", id)
		}
		return nil, fmt.Errorf("get material: %w", err)
	}
	return &m, nil
}

// GetAny returns one material regardless of its tombstone, with tags. The
// snapshot builder uses it so a queued snapshot still completes for a
// material tombstoned after the trigger.
func (s *Store) GetAny(ctx context.Context, id string) (*Material, error) {
	var m Material
	err := s.db.WithContext(ctx).Unscoped().
		Preload("Tags").
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("material %s", id)
		}
		return nil, fmt.Errorf("get material: %w", err)
	}
	return &m, nil
}

// ListLive returns the tenant's non-deleted materials with tags.
func (s *Store) ListLive(ctx context.Context, entityID string) ([]Material, error) {
	var out []Material
	err := s.db.WithContext(ctx).
		Preload("Tags").
		Where("entity_id = ?", entityID).
		Order("name ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	return out, nil
}

// Values returns the material's value rows keyed by characteristic id.
func (s *Store) Values(ctx context.Context, materialID string) (map[string]CharacteristicValue, error) {
	var rows []CharacteristicValue
	err := s.db.WithContext(ctx).
		Where("material_id = ?", materialID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load value rows: %w", err)
	}
	out := make(map[string]CharacteristicValue, len(rows))
	for _, r := range rows {
		out[r.CharacteristicID] = r
	}
	return out, nil
}

// FileIDs returns the material's file ids keyed by characteristic id, each
// list ordered by position.
func (s *Store) FileIDs(ctx context.Context, materialID string) (map[string][]string, error) {
	var rows []ValueFile
	err := s.db.WithContext(ctx).
		Where("material_id = ?", materialID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load value files: %w", err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })
	out := make(map[string][]string)
	for _, r := range rows {
		out[r.CharacteristicID] = append(out[r.CharacteristicID], r.FileID)
	}
	return out, nil
}

// SoftDelete sets the tombstone on a live material.
func (s *Store) SoftDelete(ctx context.Context, entityID, id string) error {
	res := s.db.WithContext(ctx).
		Where("entity_id = ? AND id = ?", entityID, id).
		Delete(&Material{})
	if res.Error != nil {
		return fmt.Errorf("soft-delete material: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("material %s", id)
	}
	return nil
}
