package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
	"github.com/TheoDny/stock-management-sub000/pkg/blob"
	"github.com/TheoDny/stock-management-sub000/pkg/characteristic"
	"github.com/TheoDny/stock-management-sub000/pkg/material"
	"github.com/TheoDny/stock-management-sub000/pkg/tag"
	"github.com/TheoDny/stock-management-sub000/pkg/value"
)

// Builder freezes a material's current state into a snapshot row. It reads
// only committed state: callers trigger it after their own transaction.
type Builder struct {
	materials *material.Store
	chars     *characteristic.Store
	blobs     blob.Store
	logger    *slog.Logger
}

// NewBuilder creates a snapshot Builder.
func NewBuilder(materials *material.Store, chars *characteristic.Store, blobs blob.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{materials: materials, chars: chars, blobs: blobs, logger: logger}
}

// Build assembles an unpersisted snapshot of the material. The
// characteristic order defines both inclusion and position: value rows
// outside the order are excluded. An order entry without a definition or a
// value row is an invariant violation; it is logged and skipped, never
// silently folded into the snapshot.
func (b *Builder) Build(ctx context.Context, materialID string) (*Snapshot, error) {
	m, err := b.materials.GetAny(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("snapshot build: %w", err)
	}
	values, err := b.materials.Values(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("snapshot build: %w", err)
	}
	fileIDs, err := b.materials.FileIDs(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("snapshot build: %w", err)
	}
	defs, err := b.chars.GetByIDs(ctx, m.EntityID, m.CharacteristicOrder)
	if err != nil {
		return nil, fmt.Errorf("snapshot build: %w", err)
	}

	chars := make([]CharacteristicSnapshot, 0, len(m.CharacteristicOrder))
	for _, charID := range m.CharacteristicOrder {
		def, ok := defs[charID]
		if !ok {
			b.logger.Error("snapshot skipped order entry",
				"materialId", materialID, "characteristicId", charID,
				"error", apperr.Consistencyf("characteristic %s not found", charID))
			continue
		}
		row, ok := values[charID]
		if !ok {
			b.logger.Error("snapshot skipped order entry",
				"materialId", materialID, "characteristicId", charID,
				"error", apperr.Consistencyf("no value row for characteristic %s", charID))
			continue
		}

		var v value.Value
		if def.Type == characteristic.TypeFile {
			refs, err := b.blobs.Resolve(ctx, fileIDs[charID])
			if err != nil {
				return nil, fmt.Errorf("snapshot build: %w", err)
			}
			v = value.Files{Files: lo.Map(refs, func(r blob.FileRef, _ int) value.FileEntry {
				return value.FileEntry{Type: r.Type, Name: r.Name, Path: r.Path}
			})}
		} else {
			v, err = value.Decode(def.Type, row.Value)
			if err != nil {
				b.logger.Error("snapshot skipped order entry",
					"materialId", materialID, "characteristicId", charID,
					"error", apperr.Consistencyf("undecodable value: %v", err))
				continue
			}
		}

		chars = append(chars, CharacteristicSnapshot{
			Name:  def.Name,
			Type:  def.Type,
			Units: def.Units,
			Value: v,
		})
	}

	tagSnaps := lo.Map(m.Tags, func(t tag.Tag, _ int) TagSnapshot {
		return TagSnapshot{Name: t.Name, Color: t.Color, FontColor: t.FontColor}
	})

	tagsJSON, err := json.Marshal(tagSnaps)
	if err != nil {
		return nil, fmt.Errorf("snapshot build: encode tags: %w", err)
	}
	charsJSON, err := json.Marshal(chars)
	if err != nil {
		return nil, fmt.Errorf("snapshot build: encode characteristics: %w", err)
	}

	return &Snapshot{
		ID:              uuid.New().String(),
		MaterialID:      materialID,
		Name:            m.Name,
		Description:     m.Description,
		Tags:            string(tagsJSON),
		Characteristics: string(charsJSON),
	}, nil
}
