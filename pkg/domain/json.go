package domain

import (
	"encoding/json"
	"fmt"
)

// Normalize deep-copies v through JSON, so the result only holds maps,
// slices, strings, float64, bools and nil. Values that cannot be encoded
// are rejected.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
