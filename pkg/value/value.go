// Package value implements the typed value codec: one sealed variant per
// characteristic type, normalization of raw input, and the file lifecycle
// against the blob store.
package value

import (
	"encoding/json"
	"fmt"

	"github.com/TheoDny/stock-management-sub000/pkg/characteristic"
)

// Value is the sealed union of typed payloads a characteristic assignment
// can hold. The concrete variant is keyed by the characteristic's type;
// Normalize and Decode switch over the full type set so a new type is a
// compile-time-visible change.
type Value interface {
	isValue()
}

// Null is the absence of a value. It marshals to JSON null.
type Null struct{}

func (Null) isValue() {}

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Text is a single string payload (text, textarea, select, radio, link,
// email, color).
type Text string

func (Text) isValue() {}

// Number is a numeric payload (number, float).
type Number float64

func (Number) isValue() {}

// Bool is a boolean payload.
type Bool bool

func (Bool) isValue() {}

// Strings is an ordered multi-valued string payload (multiSelect, checkbox).
type Strings []string

func (Strings) isValue() {}

// Date wraps a single date or date-hour literal.
type Date struct {
	Date string `json:"date"`
}

func (Date) isValue() {}

// Range is a from/to pair. Both ends are always present: a partial range is
// discarded as Null during normalization.
type Range struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (Range) isValue() {}

// MultiTextEntry is one titled text block.
type MultiTextEntry struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// MultiText is an ordered list of titled text blocks.
type MultiText struct {
	Entries []MultiTextEntry `json:"multiText"`
}

func (MultiText) isValue() {}

// FileEntry is the denormalized snapshot form of one stored file. History
// renders from it without any live FileRef lookup.
type FileEntry struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Files is the file-type payload in snapshot form.
type Files struct {
	Files []FileEntry `json:"file"`
}

func (Files) isValue() {}

// Encode marshals a variant to the JSON text persisted in value columns and
// snapshots.
func Encode(v Value) (string, error) {
	if v == nil {
		v = Null{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(b), nil
}

// Decode parses persisted JSON text back into the variant for the given
// characteristic type.
func Decode(t characteristic.Type, raw string) (Value, error) {
	if raw == "" || raw == "null" {
		return Null{}, nil
	}
	switch t {
	case characteristic.TypeText, characteristic.TypeTextarea,
		characteristic.TypeSelect, characteristic.TypeRadio,
		characteristic.TypeLink, characteristic.TypeEmail, characteristic.TypeColor:
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", t, err)
		}
		return Text(s), nil
	case characteristic.TypeNumber, characteristic.TypeFloat:
		var f float64
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", t, err)
		}
		return Number(f), nil
	case characteristic.TypeBoolean:
		var b bool
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("decode boolean value: %w", err)
		}
		return Bool(b), nil
	case characteristic.TypeMultiSelect, characteristic.TypeCheckbox:
		var ss []string
		if err := json.Unmarshal([]byte(raw), &ss); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", t, err)
		}
		return Strings(ss), nil
	case characteristic.TypeDate, characteristic.TypeDateHour:
		var d Date
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", t, err)
		}
		return d, nil
	case characteristic.TypeDateRange, characteristic.TypeDateHourRange:
		var r Range
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", t, err)
		}
		return r, nil
	case characteristic.TypeMultiText:
		var m MultiText
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode multiText value: %w", err)
		}
		return m, nil
	case characteristic.TypeFile:
		var f Files
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("decode file value: %w", err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("decode: unknown characteristic type %q", t)
}
