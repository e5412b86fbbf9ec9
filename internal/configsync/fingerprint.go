package configsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprint computes a stable content hash of a section's JSON: it
// decodes into a generic value and re-marshals, which canonicalises
// object key order (encoding/json always marshals map[string]any with
// sorted keys), then hashes the canonical bytes. Two payloads that
// differ only in object key order or insignificant whitespace hash
// identically (spec.md §4.8: "stable canonicalisation + hash").
func fingerprint(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		// Not valid JSON; hash the raw bytes so a change is still
		// detected even though it can never be rendered.
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
