package blob

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	_ "image/gif"

	"github.com/fogleman/gg"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
)

// DiskStore stores file content under a root directory and FileRef rows in
// the database.
type DiskStore struct {
	db      *gorm.DB
	rootDir string
	logger  *slog.Logger
}

// NewDiskStore creates a DiskStore rooted at rootDir.
func NewDiskStore(db *gorm.DB, rootDir string, logger *slog.Logger) *DiskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskStore{db: db, rootDir: rootDir, logger: logger}
}

// AutoMigrate creates or updates the file_refs table.
func (s *DiskStore) AutoMigrate() error {
	return AutoMigrateFileRefs(s.db)
}

// Save persists the file content and its FileRef row. Images larger than the
// request caps are downscaled preserving aspect ratio; everything else is
// stored verbatim.
func (s *DiskStore) Save(ctx context.Context, req SaveRequest) (FileRef, error) {
	if len(req.Bytes) == 0 {
		return FileRef{}, apperr.Validationf("file %q is empty", req.OriginalName)
	}

	name := SanitizeName(req.OriginalName)
	id := uuid.New().String()
	relPath := path.Join(cleanHint(req.LocationHint), id+"_"+name)

	content := req.Bytes
	if strings.HasPrefix(req.MIMEType, "image/") {
		scaled, err := downscale(req.Bytes, req.MaxWidth, req.MaxHeight)
		if err != nil {
			s.logger.Warn("image downscale failed, storing verbatim",
				"name", name, "error", err)
		} else if scaled != nil {
			content = scaled
		}
	}

	absPath := filepath.Join(s.rootDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return FileRef{}, fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(absPath, content, 0o644); err != nil {
		return FileRef{}, fmt.Errorf("write blob %s: %w", relPath, err)
	}

	ref := FileRef{ID: id, Name: name, Type: req.MIMEType, Path: relPath}
	if err := s.db.WithContext(ctx).Create(&ref).Error; err != nil {
		// Roll the orphaned content back so a failed save leaves nothing.
		if rmErr := os.Remove(absPath); rmErr != nil {
			s.logger.Warn("failed to remove orphaned blob", "path", relPath, "error", rmErr)
		}
		return FileRef{}, fmt.Errorf("create file ref: %w", err)
	}
	return ref, nil
}

// DeleteMany removes the FileRef rows and, unless dbOnly is set, the stored
// content. Content removal failures are logged and swallowed: the database
// is the source of truth for what is live.
func (s *DiskStore) DeleteMany(ctx context.Context, ids []string, dbOnly bool) error {
	if len(ids) == 0 {
		return nil
	}
	refs, err := s.Resolve(ctx, ids)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&FileRef{}, "id IN ?", ids).Error; err != nil {
		return fmt.Errorf("delete file refs: %w", err)
	}
	if dbOnly {
		return nil
	}
	for _, ref := range refs {
		absPath := filepath.Join(s.rootDir, filepath.FromSlash(ref.Path))
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to delete blob content",
				"fileId", ref.ID, "path", ref.Path, "error", err)
		}
	}
	return nil
}

// Resolve returns the FileRefs for the given ids, preserving id order.
// Unknown ids are absent from the result.
func (s *DiskStore) Resolve(ctx context.Context, ids []string) ([]FileRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var refs []FileRef
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&refs).Error; err != nil {
		return nil, fmt.Errorf("resolve file refs: %w", err)
	}
	byID := make(map[string]FileRef, len(refs))
	for _, r := range refs {
		byID[r.ID] = r
	}
	ordered := make([]FileRef, 0, len(refs))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

// SanitizeName strips directory components and control characters from an
// uploaded file name so it is safe to embed in a storage path.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			// drop control characters
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		out = "file"
	}
	return out
}

func cleanHint(hint string) string {
	hint = path.Clean("/" + hint)
	return strings.TrimPrefix(hint, "/")
}

// downscale returns re-encoded image bytes fitting within maxW x maxH, or
// nil when the image already fits. Decoding failures are returned to the
// caller, which falls back to verbatim storage.
func downscale(data []byte, maxW, maxH int) ([]byte, error) {
	if maxW <= 0 && maxH <= 0 {
		return nil, nil
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}
	if scale >= 1.0 {
		return nil, nil
	}

	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dc := gg.NewContext(nw, nh)
	dc.Scale(scale, scale)
	dc.DrawImage(img, 0, 0)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(&buf, dc.Image())
	}
	if err != nil {
		return nil, fmt.Errorf("encode scaled image: %w", err)
	}
	return buf.Bytes(), nil
}
