package leasemanager

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/r3e-network/taskforge/internal/domain"
)

// hashWorkSpec computes SHA-256 over a canonical (key-sorted) JSON
// encoding of spec, so that semantically identical work_spec values hash
// identically regardless of map iteration order.
func hashWorkSpec(spec domain.WorkSpec) string {
	canonical := canonicalize(map[string]any(spec))
	encoded, _ := json.Marshal(canonical)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// canonicalize recursively copies nested map[string]any and []any values
// so that every level of the value is a plain map or slice before
// encoding; encoding/json then emits the keys of every map, at every
// nesting level, in sorted order.
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = canonicalize(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return val
	}
}
