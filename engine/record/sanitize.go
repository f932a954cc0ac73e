package record

import (
	"encoding/json"
	"fmt"
)

// SanitizeMetadata coerces metadata values into the scalar types vector
// stores accept. Strings, booleans and numbers pass through, nil becomes
// "null", and nested structures are serialized to JSON.
func SanitizeMetadata(meta map[string]any) map[string]any {
	clean := make(map[string]any, len(meta))
	for key, value := range meta {
		switch v := value.(type) {
		case nil:
			clean[key] = "null"
		case string, bool, int, int32, int64, float32, float64:
			clean[key] = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				clean[key] = fmt.Sprint(v)
				continue
			}
			clean[key] = string(encoded)
		}
	}
	return clean
}
