// Package blob implements durable file storage for characteristic values.
// The core only depends on the Store interface; DiskStore is the bundled
// local-disk implementation.
package blob

import (
	"context"

	"gorm.io/gorm"
)

// FileRef points at blob-stored content plus its display metadata. Rows are
// owned by the blob store and referenced, never embedded, by value rows.
type FileRef struct {
	ID string `gorm:"primaryKey;column:id;type:varchar(36)"`
	// Name is the sanitized original file name.
	Name string `gorm:"column:name;not null"`
	// Type is the MIME type supplied at upload time.
	Type string `gorm:"column:type;not null"`
	// Path is the storage locator relative to the store root.
	Path      string `gorm:"column:path;not null"`
	CreatedAt int64  `gorm:"column:created_at;autoCreateTime:milli"`
}

// TableName returns the GORM table name.
func (FileRef) TableName() string { return "file_refs" }

// SaveRequest describes one upload.
type SaveRequest struct {
	Bytes        []byte
	MIMEType     string
	OriginalName string
	// LocationHint groups stored files, e.g.
	// "materials/{materialId}/characteristics/{characteristicId}".
	LocationHint string
	// MaxWidth and MaxHeight cap image dimensions; oversized images are
	// downscaled preserving aspect ratio. Zero disables the cap.
	// Non-image content is stored verbatim.
	MaxWidth  int
	MaxHeight int
}

// Store is the boundary contract the core calls.
type Store interface {
	// Save persists the file content and its FileRef row.
	Save(ctx context.Context, req SaveRequest) (FileRef, error)
	// DeleteMany removes the FileRef rows. When dbOnly is false it also
	// removes the underlying content; content removal is best-effort and
	// never fails the call.
	DeleteMany(ctx context.Context, ids []string, dbOnly bool) error
	// Resolve returns the FileRefs for the given ids, preserving id order.
	Resolve(ctx context.Context, ids []string) ([]FileRef, error)
}

// AutoMigrateFileRefs creates or updates the file_refs table.
func AutoMigrateFileRefs(db *gorm.DB) error {
	return db.AutoMigrate(&FileRef{})
}
