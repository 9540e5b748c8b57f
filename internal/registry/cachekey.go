package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// volatileKeys are per-invocation correlation fields stripped before key
// derivation so two conversations calling the same tool with the same stable
// inputs share a cache entry. user_id stays in the key: tools may return
// user-scoped data, and entries must never leak across users.
var volatileKeys = map[string]bool{
	"thread_id":          true,
	"execution_id":       true,
	"execution_group_id": true,
	"timestamp":          true,
}

// CacheKey derives a stable cache key from a tool name and its inputs.
// Volatile keys are stripped and the remainder is serialized canonically
// (encoding/json sorts map keys) before hashing.
func CacheKey(name string, inputs map[string]any) string {
	stable := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if volatileKeys[k] {
			continue
		}
		stable[k] = v
	}

	payload, err := json.Marshal(stable)
	if err != nil {
		// Unserializable inputs degrade to a name-only key.
		payload = nil
	}

	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(payload)
	return "tool:" + hex.EncodeToString(h.Sum(nil))
}
