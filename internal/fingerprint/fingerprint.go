// Package fingerprint computes the stable content-addressing hash used to
// key cached responses.
//
// The digest is taken over a canonicalised form of the request body: keys
// are sorted at every nesting depth and the volatile fields "stream",
// "request_id", and "timestamp" are dropped wherever they appear, so two
// requests that differ only in those fields or in key order hash the same.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ignoredKeys are stripped from every mapping, at every depth, before
// hashing. They carry no information about what the caller is asking the
// upstream model to do.
var ignoredKeys = map[string]bool{
	"stream":     true,
	"request_id": true,
	"timestamp":  true,
}

// Normalize recursively rewrites v into its canonical form: mappings are
// rebuilt with the ignored keys dropped (encoding/json sorts map keys on
// marshal, so no explicit sort is needed here), sequences are rewritten
// element-wise, and primitives pass through unchanged.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if ignoredKeys[k] {
				continue
			}
			out[k] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	default:
		return t
	}
}

// Hash computes the fingerprint of a JSON request body: parse, normalize,
// re-serialize to compact canonical JSON, then take the lowercase hex
// SHA-256 of the UTF-8 bytes.
//
// Fails only when the body isn't valid JSON or the normalized value can't
// be re-serialized; callers must not write to cache on error.
func Hash(body []byte) (string, error) {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("fingerprint: parsing request body: %w", err)
	}

	normalized := Normalize(parsed)

	canonical, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("fingerprint: serializing normalized body: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
