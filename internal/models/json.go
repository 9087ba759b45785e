package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a JSONB column holding an open-ended object payload
type JSONMap map[string]interface{}

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported type for JSONMap: %T", value)
	}
}

// MergeStats merges new counter values over an existing stats payload.
// Keys present only in the existing payload are preserved; keys present
// in the incoming payload win. Neither input is mutated.
func MergeStats(existing, incoming JSONMap) JSONMap {
	merged := make(JSONMap, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// NumberAt reads a numeric stats value, tolerating the types JSON
// decoding and the Graph API produce. Returns 0, false when the key is
// missing or not a number.
func NumberAt(m JSONMap, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
