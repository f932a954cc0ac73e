package record

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// Entry is a single decoded JSON object from a normalized log file.
type Entry map[string]any

// DecodeEntries parses a normalized log payload. Payloads hold either a
// single JSON object or an array of objects.
func DecodeEntries(data []byte) ([]Entry, error) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("record: decode entries: %w", err)
	}
	switch value := decoded.(type) {
	case map[string]any:
		return []Entry{Entry(value)}, nil
	case []any:
		entries := make([]Entry, 0, len(value))
		for i, item := range value {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("record: entry %d: expected a JSON object, got %T", i, item)
			}
			entries = append(entries, Entry(obj))
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("record: expected a JSON object or array, got %T", decoded)
	}
}

// Text resolves the indexable content of the entry: the description field,
// else the raw field, else a JSON dump of the whole entry. The dump only
// applies when neither field is present, so an entry carrying an explicitly
// empty description resolves empty and gets dropped at ingest.
func (e Entry) Text() string {
	if text := stringField(e, "description"); text != "" {
		return text
	}
	if text := stringField(e, "raw"); text != "" {
		return text
	}
	if _, ok := e["description"]; ok {
		return ""
	}
	if _, ok := e["raw"]; ok {
		return ""
	}
	dump, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	return string(dump)
}

// ID returns the explicit id field when present. Numeric ids are rendered
// in their shortest decimal form.
func (e Entry) ID() string {
	switch v := e["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Category returns the type label, empty when absent.
func (e Entry) Category() string { return stringField(e, MetaType) }

// Source returns the originating file name, empty when absent.
func (e Entry) Source() string { return stringField(e, MetaSourceFile) }

// Timestamp returns the record timestamp, empty when absent.
func (e Entry) Timestamp() string { return stringField(e, MetaTimestamp) }

// Record maps the entry onto the normalized record shape. Metadata keeps a
// copy of every entry field so the original payload survives indexing.
func (e Entry) Record() Record {
	return Record{
		ID:        e.ID(),
		Text:      e.Text(),
		Category:  e.Category(),
		Source:    e.Source(),
		Timestamp: e.Timestamp(),
		Metadata:  maps.Clone(map[string]any(e)),
	}
}

func stringField(e Entry, key string) string {
	value, ok := e[key].(string)
	if !ok {
		return ""
	}
	return value
}
