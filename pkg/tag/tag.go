// Package tag provides the read-only tag lookup the material aggregate and
// the snapshot builder consume. Tag management itself lives outside the core.
package tag

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Tag is the GORM model for a tenant tag.
type Tag struct {
	ID        string `gorm:"primaryKey;column:id;type:varchar(36)"`
	EntityID  string `gorm:"column:entity_id;index:idx_tag_entity;not null"`
	Name      string `gorm:"column:name;not null"`
	Color     string `gorm:"column:color;not null"`
	FontColor string `gorm:"column:font_color;not null"`
}

// TableName returns the GORM table name.
func (Tag) TableName() string { return "tags" }

// Provider resolves tag ids into full tag records at snapshot time.
type Provider interface {
	GetByIDs(ctx context.Context, entityID string, ids []string) ([]Tag, error)
}

// Store is the GORM-backed Provider.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new tag Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the tags table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Tag{})
}

// GetByIDs returns the tags with the given ids scoped to one tenant.
// Unknown ids are silently absent from the result; the order of ids is
// preserved for the ones found.
func (s *Store) GetByIDs(ctx context.Context, entityID string, ids []string) ([]Tag, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tags []Tag
	err := s.db.WithContext(ctx).
		Where("entity_id = ? AND id IN ?", entityID, ids).
		Find(&tags).Error
	if err != nil {
		return nil, fmt.Errorf("get tags by ids: %w", err)
	}

	byID := make(map[string]Tag, len(tags))
	for _, t := range tags {
		byID[t.ID] = t
	}
	ordered := make([]Tag, 0, len(tags))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			ordered = append(ordered, t)
		}
	}
	return ordered, nil
}
