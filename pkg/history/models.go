// Package history implements the snapshot engine and its read path:
// immutable, denormalized point-in-time copies of a material's describable
// state, appended on every mutation and queryable independently of later
// schema drift.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/TheoDny/stock-management-sub000/pkg/characteristic"
	"github.com/TheoDny/stock-management-sub000/pkg/value"
)

// TagSnapshot is a tag frozen at snapshot time. Later tag edits never touch
// it.
type TagSnapshot struct {
	Name      string `json:"name"`
	Color     string `json:"color"`
	FontColor string `json:"fontColor"`
}

// CharacteristicSnapshot freezes one characteristic value, capturing the
// characteristic's name and type at snapshot time rather than a foreign
// key. The record stays readable even if the registry entry is later edited
// or removed.
type CharacteristicSnapshot struct {
	Name  string              `json:"name"`
	Type  characteristic.Type `json:"type"`
	Units string              `json:"units"`
	Value value.Value         `json:"value"`
}

// UnmarshalJSON decodes the value payload into its typed variant using the
// frozen type.
func (c *CharacteristicSnapshot) UnmarshalJSON(data []byte) error {
	var aux struct {
		Name  string              `json:"name"`
		Type  characteristic.Type `json:"type"`
		Units string              `json:"units"`
		Value json.RawMessage     `json:"value"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v, err := value.Decode(aux.Type, string(aux.Value))
	if err != nil {
		return fmt.Errorf("characteristic snapshot %q: %w", aux.Name, err)
	}
	c.Name = aux.Name
	c.Type = aux.Type
	c.Units = aux.Units
	c.Value = v
	return nil
}

// Snapshot is the GORM model for one immutable history record. The JSON
// columns are the durable contract: their field names stay stable across
// schema evolution of the live tables.
type Snapshot struct {
	ID          string `gorm:"primaryKey;column:id;type:varchar(36)"`
	MaterialID  string `gorm:"column:material_id;index:idx_snapshot_material_time,priority:1;not null"`
	Name        string `gorm:"column:name;not null"`
	Description string `gorm:"column:description"`
	// Tags is a JSON array of TagSnapshot.
	Tags string `gorm:"column:tags;type:text;not null"`
	// Characteristics is a JSON array of CharacteristicSnapshot, in the
	// material's characteristic order at snapshot time.
	Characteristics string    `gorm:"column:characteristics;type:text;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;index:idx_snapshot_material_time,priority:2;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Snapshot) TableName() string { return "material_snapshots" }

// TagList decodes the frozen tags.
func (s *Snapshot) TagList() ([]TagSnapshot, error) {
	var out []TagSnapshot
	if err := json.Unmarshal([]byte(s.Tags), &out); err != nil {
		return nil, fmt.Errorf("decode snapshot tags: %w", err)
	}
	return out, nil
}

// CharacteristicList decodes the frozen characteristic values.
func (s *Snapshot) CharacteristicList() ([]CharacteristicSnapshot, error) {
	var out []CharacteristicSnapshot
	if err := json.Unmarshal([]byte(s.Characteristics), &out); err != nil {
		return nil, fmt.Errorf("decode snapshot characteristics: %w", err)
	}
	return out, nil
}

// JobState is the lifecycle state of a queued snapshot build.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// SnapshotJob is the GORM model for one queued snapshot build. Material
// mutations snapshot synchronously; jobs carry the decoupled fan-out, e.g.
// after a characteristic rename.
type SnapshotJob struct {
	ID           string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	MaterialID   string     `gorm:"column:material_id;index;not null"`
	Reason       string     `gorm:"column:reason"`
	RequestedBy  string     `gorm:"column:requested_by"`
	RequestedAt  time.Time  `gorm:"column:requested_at;not null"`
	State        JobState   `gorm:"column:state;index:idx_snapjob_state;not null;default:queued"`
	StartedAt    *time.Time `gorm:"column:started_at"`
	FinishedAt   *time.Time `gorm:"column:finished_at"`
	AttemptCount int        `gorm:"column:attempt_count;default:0"`
	LastError    string     `gorm:"column:last_error"`
}

// TableName returns the GORM table name.
func (SnapshotJob) TableName() string { return "snapshot_jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *SnapshotJob) IsTerminal() bool {
	return j.State == JobStateSucceeded || j.State == JobStateFailed
}
