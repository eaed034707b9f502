package utils

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a JSON object stored in a JSONB column.
// A NULL column scans to an empty map.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("jsonmap: unsupported source type %T", src)
	}
	out := JSONMap{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("jsonmap: %w", err)
		}
	}
	*m = out
	return nil
}

// Clone deep-copies nested maps and slices so callers can mutate the result freely.
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return JSONMap{}
	}
	out, _ := cloneJSON(map[string]any(m)).(map[string]any)
	return JSONMap(out)
}

// Object returns the nested object stored under key, or nil when absent or not an object.
func (m JSONMap) Object(key string) map[string]any {
	switch v := m[key].(type) {
	case map[string]any:
		return v
	case JSONMap:
		return v
	default:
		return nil
	}
}

func cloneJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneJSON(val)
		}
		return out
	case JSONMap:
		return cloneJSON(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneJSON(val)
		}
		return out
	default:
		return v
	}
}
