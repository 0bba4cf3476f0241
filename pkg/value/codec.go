package value

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
	"github.com/TheoDny/stock-management-sub000/pkg/blob"
	"github.com/TheoDny/stock-management-sub000/pkg/characteristic"
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// FileUpload is one new file to attach to a file-type characteristic.
type FileUpload struct {
	Bytes    []byte
	MIMEType string
	Name     string
}

// Codec normalizes raw input into typed variants and drives the file
// lifecycle. It performs no I/O except delegating file bytes to the blob
// store.
type Codec struct {
	blobs     blob.Store
	logger    *slog.Logger
	maxWidth  int
	maxHeight int
}

// NewCodec creates a Codec. maxWidth/maxHeight cap stored image dimensions
// on upload.
func NewCodec(blobs blob.Store, maxWidth, maxHeight int, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{blobs: blobs, logger: logger, maxWidth: maxWidth, maxHeight: maxHeight}
}

// Normalize converts a raw, loosely-typed payload into the variant for the
// characteristic's type. nil raw is always Null. Shape violations return
// apperr.ErrValidation.
func (c *Codec) Normalize(char *characteristic.Characteristic, raw any) (Value, error) {
	if raw == nil {
		return Null{}, nil
	}
	switch char.Type {
	case characteristic.TypeText, characteristic.TypeTextarea:
		return normalizeText(char, raw, nil)
	case characteristic.TypeLink:
		return normalizeText(char, raw, func(s string) error {
			if !strings.Contains(s, "://") {
				return apperr.Validationf("characteristic %s: %q is not a link", char.Name, s)
			}
			return nil
		})
	case characteristic.TypeEmail:
		return normalizeText(char, raw, func(s string) error {
			at := strings.Index(s, "@")
			if at < 1 || at == len(s)-1 {
				return apperr.Validationf("characteristic %s: %q is not an email address", char.Name, s)
			}
			return nil
		})
	case characteristic.TypeColor:
		return normalizeText(char, raw, func(s string) error {
			if !colorPattern.MatchString(s) {
				return apperr.Validationf("characteristic %s: %q is not a hex color", char.Name, s)
			}
			return nil
		})
	case characteristic.TypeNumber:
		f, err := toFloat(char, raw)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, apperr.Validationf("characteristic %s: %v is not an integer", char.Name, raw)
		}
		return Number(f), nil
	case characteristic.TypeFloat:
		f, err := toFloat(char, raw)
		if err != nil {
			return nil, err
		}
		return Number(f), nil
	case characteristic.TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return Bool(v), nil
		case string:
			switch v {
			case "true":
				return Bool(true), nil
			case "false":
				return Bool(false), nil
			case "":
				return Null{}, nil
			}
		}
		return nil, apperr.Validationf("characteristic %s: %v is not a boolean", char.Name, raw)
	case characteristic.TypeDate, characteristic.TypeDateHour:
		return normalizeDate(char, raw)
	case characteristic.TypeDateRange, characteristic.TypeDateHourRange:
		return normalizeRange(raw)
	case characteristic.TypeSelect, characteristic.TypeRadio:
		s, ok := raw.(string)
		if !ok {
			return nil, apperr.Validationf("characteristic %s: expected a string option", char.Name)
		}
		if s == "" {
			return Null{}, nil
		}
		if !char.HasOption(s) {
			return nil, apperr.Validationf("characteristic %s: %q is not an option", char.Name, s)
		}
		return Text(s), nil
	case characteristic.TypeMultiSelect, characteristic.TypeCheckbox:
		ss, err := toStrings(char, raw)
		if err != nil {
			return nil, err
		}
		if len(ss) == 0 {
			return Null{}, nil
		}
		for _, s := range ss {
			if !char.HasOption(s) {
				return nil, apperr.Validationf("characteristic %s: %q is not an option", char.Name, s)
			}
		}
		return Strings(ss), nil
	case characteristic.TypeMultiText:
		return normalizeMultiText(char, raw)
	case characteristic.TypeFile:
		// The payload of a file characteristic lives in its file rows.
		return Null{}, nil
	}
	return nil, apperr.Validationf("unknown characteristic type %q", char.Type)
}

// ApplyFiles computes the final file set of a file-type characteristic:
// keep = existing − toDelete, upload every entry of toAdd under a
// deterministic location hint, final = keep ∪ uploaded (existing order
// first, then upload order). Uploads run concurrently; a failed upload
// fails the whole call. Deletions are best-effort: a failed blob delete is
// logged, never fatal. dbOnly selects row-only deletion so blobs referenced
// by prior snapshots keep resolving.
func (c *Codec) ApplyFiles(
	ctx context.Context,
	materialID, characteristicID string,
	existing []string,
	toAdd []FileUpload,
	toDelete []string,
	dbOnly bool,
) ([]blob.FileRef, error) {
	deleteSet := mapset.NewSet(toDelete...)

	kept := make([]string, 0, len(existing))
	removed := make([]string, 0, len(toDelete))
	for _, id := range existing {
		if deleteSet.Contains(id) {
			removed = append(removed, id)
		} else {
			kept = append(kept, id)
		}
	}

	if len(removed) > 0 {
		if err := c.blobs.DeleteMany(ctx, removed, dbOnly); err != nil {
			c.logger.Error("failed to delete detached files",
				"materialId", materialID, "characteristicId", characteristicID,
				"count", len(removed), "error", err)
		}
	}

	hint := fmt.Sprintf("materials/%s/characteristics/%s", materialID, characteristicID)
	uploaded := make([]blob.FileRef, len(toAdd))
	errs := make([]error, len(toAdd))
	var wg sync.WaitGroup
	for i, up := range toAdd {
		wg.Add(1)
		go func(i int, up FileUpload) {
			defer wg.Done()
			ref, err := c.blobs.Save(ctx, blob.SaveRequest{
				Bytes:        up.Bytes,
				MIMEType:     up.MIMEType,
				OriginalName: up.Name,
				LocationHint: hint,
				MaxWidth:     c.maxWidth,
				MaxHeight:    c.maxHeight,
			})
			if err != nil {
				errs[i] = fmt.Errorf("upload %s: %w", up.Name, err)
				return
			}
			uploaded[i] = ref
		}(i, up)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	keptRefs, err := c.blobs.Resolve(ctx, kept)
	if err != nil {
		return nil, err
	}
	return append(keptRefs, uploaded...), nil
}

// DeleteRefs removes file references outside a value rewrite, e.g. when a
// file characteristic is dropped from a material entirely.
func (c *Codec) DeleteRefs(ctx context.Context, ids []string, dbOnly bool) error {
	return c.blobs.DeleteMany(ctx, ids, dbOnly)
}

func normalizeText(char *characteristic.Characteristic, raw any, check func(string) error) (Value, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, apperr.Validationf("characteristic %s: expected a string", char.Name)
	}
	if s == "" {
		return Null{}, nil
	}
	if check != nil {
		if err := check(s); err != nil {
			return nil, err
		}
	}
	return Text(s), nil
}

func normalizeDate(char *characteristic.Characteristic, raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return Null{}, nil
		}
		return Date{Date: v}, nil
	case map[string]any:
		s, _ := v["date"].(string)
		if s == "" {
			return Null{}, nil
		}
		return Date{Date: s}, nil
	case Date:
		if v.Date == "" {
			return Null{}, nil
		}
		return v, nil
	}
	return nil, apperr.Validationf("characteristic %s: expected a date", char.Name)
}

// normalizeRange discards the whole value when either end is missing.
func normalizeRange(raw any) (Value, error) {
	var from, to string
	switch v := raw.(type) {
	case map[string]any:
		from, _ = v["from"].(string)
		to, _ = v["to"].(string)
	case Range:
		from, to = v.From, v.To
	default:
		return Null{}, nil
	}
	if from == "" || to == "" {
		return Null{}, nil
	}
	return Range{From: from, To: to}, nil
}

func normalizeMultiText(char *characteristic.Characteristic, raw any) (Value, error) {
	var entries []MultiTextEntry
	appendEntry := func(title, text string) {
		if title == "" && text == "" {
			return
		}
		entries = append(entries, MultiTextEntry{Title: title, Text: text})
	}
	switch v := raw.(type) {
	case MultiText:
		for _, e := range v.Entries {
			appendEntry(e.Title, e.Text)
		}
	case []MultiTextEntry:
		for _, e := range v {
			appendEntry(e.Title, e.Text)
		}
	case map[string]any:
		list, ok := v["multiText"].([]any)
		if !ok {
			return nil, apperr.Validationf("characteristic %s: expected multiText entries", char.Name)
		}
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, apperr.Validationf("characteristic %s: malformed multiText entry", char.Name)
			}
			title, _ := m["title"].(string)
			text, _ := m["text"].(string)
			appendEntry(title, text)
		}
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, apperr.Validationf("characteristic %s: malformed multiText entry", char.Name)
			}
			title, _ := m["title"].(string)
			text, _ := m["text"].(string)
			appendEntry(title, text)
		}
	default:
		return nil, apperr.Validationf("characteristic %s: expected multiText entries", char.Name)
	}
	if len(entries) == 0 {
		return Null{}, nil
	}
	return MultiText{Entries: entries}, nil
}

func toFloat(char *characteristic.Characteristic, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, apperr.Validationf("characteristic %s: %q is not a number", char.Name, v)
		}
		return f, nil
	}
	return 0, apperr.Validationf("characteristic %s: %T is not a number", char.Name, raw)
}

func toStrings(char *characteristic.Characteristic, raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, apperr.Validationf("characteristic %s: expected string entries", char.Name)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, apperr.Validationf("characteristic %s: expected a string list", char.Name)
}
