// Package material implements the material aggregate: a named, tagged,
// ordered collection of characteristic values with replace-all update
// semantics and soft deletion.
package material

import (
	"time"

	"gorm.io/gorm"

	"github.com/TheoDny/stock-management-sub000/pkg/characteristic"
	"github.com/TheoDny/stock-management-sub000/pkg/tag"
)

// Material is the GORM model for the primary catalog entity.
// CharacteristicOrder defines both inclusion and display order of the
// attached values; the aggregate keeps it consistent with the value rows on
// every mutation.
type Material struct {
	ID                  string                         `gorm:"primaryKey;column:id;type:varchar(36)"`
	EntityID            string                         `gorm:"column:entity_id;index:idx_material_entity;not null"`
	Name                string                         `gorm:"column:name;not null"`
	Description         string                         `gorm:"column:description"`
	CharacteristicOrder characteristic.JSONStringSlice `gorm:"column:characteristic_order;type:text"`
	Tags                []tag.Tag                      `gorm:"many2many:material_tags"`
	CreatedAt           time.Time                      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                      `gorm:"column:updated_at;autoUpdateTime"`
	// DeletedAt is the soft tombstone. The row is retained for history
	// integrity and excluded from all live reads.
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName returns the GORM table name.
func (Material) TableName() string { return "materials" }

// CharacteristicValue is the junction row holding one typed value for one
// characteristic on one material. Value is the variant encoded as JSON
// text; for file-type characteristics the payload lives in
// material_value_files instead and Value stays null.
type CharacteristicValue struct {
	MaterialID       string `gorm:"primaryKey;column:material_id;type:varchar(36)"`
	CharacteristicID string `gorm:"primaryKey;column:characteristic_id;type:varchar(36)"`
	Value            string `gorm:"column:value;type:text"`
}

// TableName returns the GORM table name.
func (CharacteristicValue) TableName() string { return "material_characteristic_values" }

// ValueFile is one ordered file reference attached to a file-type
// characteristic value.
type ValueFile struct {
	MaterialID       string `gorm:"primaryKey;column:material_id;type:varchar(36)"`
	CharacteristicID string `gorm:"primaryKey;column:characteristic_id;type:varchar(36)"`
	FileID           string `gorm:"primaryKey;column:file_id;type:varchar(36)"`
	Position         int    `gorm:"column:position;not null"`
}

// TableName returns the GORM table name.
func (ValueFile) TableName() string { return "material_value_files" }
