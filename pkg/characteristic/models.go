// Package characteristic implements the tenant-scoped registry of typed
// attribute schemas applicable to materials.
package characteristic

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Type is the kind of value a characteristic holds. The set is closed:
// the value codec and the snapshot builder switch exhaustively over it.
type Type string

const (
	TypeText          Type = "text"
	TypeTextarea      Type = "textarea"
	TypeNumber        Type = "number"
	TypeFloat         Type = "float"
	TypeDate          Type = "date"
	TypeDateHour      Type = "dateHour"
	TypeDateRange     Type = "dateRange"
	TypeDateHourRange Type = "dateHourRange"
	TypeCheckbox      Type = "checkbox"
	TypeRadio         Type = "radio"
	TypeSelect        Type = "select"
	TypeMultiSelect   Type = "multiSelect"
	TypeBoolean       Type = "boolean"
	TypeMultiText     Type = "multiText"
	TypeFile          Type = "file"
	TypeLink          Type = "link"
	TypeEmail         Type = "email"
	TypeColor         Type = "color"
)

// AllTypes lists every characteristic type.
var AllTypes = []Type{
	TypeText, TypeTextarea, TypeNumber, TypeFloat,
	TypeDate, TypeDateHour, TypeDateRange, TypeDateHourRange,
	TypeCheckbox, TypeRadio, TypeSelect, TypeMultiSelect,
	TypeBoolean, TypeMultiText, TypeFile,
	TypeLink, TypeEmail, TypeColor,
}

// Valid reports whether t is a known characteristic type.
func (t Type) Valid() bool {
	for _, k := range AllTypes {
		if t == k {
			return true
		}
	}
	return false
}

// RequiresOptions reports whether t needs an option set (at least two
// entries) at creation time.
func (t Type) RequiresOptions() bool {
	switch t {
	case TypeSelect, TypeRadio, TypeMultiSelect, TypeCheckbox:
		return true
	}
	return false
}

// SupportsUnits reports whether a unit label is meaningful for t.
func (t Type) SupportsUnits() bool {
	return t == TypeNumber || t == TypeFloat
}

// MultiValued reports whether t holds several option values at once.
func (t Type) MultiValued() bool {
	return t == TypeCheckbox || t == TypeMultiSelect
}

// JSONStringSlice is a custom GORM type for []string stored as JSON text.
type JSONStringSlice []string

// Scan implements the sql.Scanner interface for JSONStringSlice.
func (s *JSONStringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONStringSlice: %T", value)
	}
	return json.Unmarshal(bytes, s)
}

// Value implements the driver.Valuer interface for JSONStringSlice.
func (s JSONStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Characteristic is the GORM model for one typed attribute schema.
// Type, Options and Units are frozen after creation; only Name and
// Description are updatable.
type Characteristic struct {
	ID          string          `gorm:"primaryKey;column:id;type:varchar(36)"`
	EntityID    string          `gorm:"column:entity_id;uniqueIndex:idx_char_entity_name,priority:1;not null"`
	Name        string          `gorm:"column:name;uniqueIndex:idx_char_entity_name,priority:2;not null"`
	Description string          `gorm:"column:description"`
	Type        Type            `gorm:"column:type;not null"`
	Options     JSONStringSlice `gorm:"column:options;type:text"`
	Units       string          `gorm:"column:units"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Characteristic) TableName() string { return "characteristics" }

// HasOption reports whether v is a member of the option set.
func (c *Characteristic) HasOption(v string) bool {
	for _, o := range c.Options {
		if o == v {
			return true
		}
	}
	return false
}

// WithUsage pairs a characteristic with its live material reference count,
// used by listings to disable deletion in the UI.
type WithUsage struct {
	Characteristic
	LiveRefs int64
}
