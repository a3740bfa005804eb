package domain

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// mergeJSON overlays the top-level keys present in delta onto cur. The result is
// decoded into a fresh value so callers keeping the previous one are unaffected.
func mergeJSON[T any](cur T, delta []byte) (T, error) {
	base, err := json.Marshal(cur)
	if err != nil {
		return cur, fmt.Errorf("encode current: %w", err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &fields); err != nil {
		return cur, fmt.Errorf("decode current: %w", err)
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(delta, &patch); err != nil {
		return cur, fmt.Errorf("decode delta: %w", err)
	}
	for k, v := range patch {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return cur, fmt.Errorf("encode merged: %w", err)
	}
	var out T
	if err := json.Unmarshal(merged, &out); err != nil {
		return cur, fmt.Errorf("decode merged: %w", err)
	}
	return out, nil
}
