// Package fingerprint computes the deterministic content hash used as the
// cache key and change-detection key for a node and its ancestors (spec
// invariant 3: stable under settings field reordering and YAML round-trip).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// SourceMetadata identifies the external input of a source node (one with
// no predecessors) for fingerprinting purposes: either a path + modtime or
// an explicit user-provided etag.
type SourceMetadata struct {
	Path     string
	ModTime  string // canonical RFC3339; empty if not applicable
	ETag     string
}

// Of computes the fingerprint of a single node given its kind, its
// canonicalized settings, the ordered fingerprints of its predecessors (one
// per input edge, in port order), and — for source nodes — identifying
// metadata of external input. The hash is over a length-prefixed encoding
// of these fields so that no value can be confused with a delimiter.
func Of(kindID string, settings map[string]interface{}, predecessorFingerprints []string, source *SourceMetadata) string {
	h := sha256.New()
	writeField(h, "kind", kindID)
	writeField(h, "settings", Canonicalize(settings))

	writeField(h, "predecessors", strconv.Itoa(len(predecessorFingerprints)))
	for i, pf := range predecessorFingerprints {
		writeField(h, fmt.Sprintf("pred[%d]", i), pf)
	}

	if source != nil {
		writeField(h, "source.path", source.Path)
		writeField(h, "source.modtime", source.ModTime)
		writeField(h, "source.etag", source.ETag)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h interface{ Write([]byte) (int, error) }, name, value string) {
	prefix := fmt.Sprintf("%s=%d:", name, len(value))
	_, _ = h.Write([]byte(prefix))
	_, _ = h.Write([]byte(value))
	_, _ = h.Write([]byte{'\n'})
}

// Canonicalize renders an arbitrary settings map (as decoded from JSON or
// YAML: maps, slices, strings, bool, float64/int, nil) into a stable string
// form: object keys sorted lexicographically, numbers formatted via a fixed
// rule, and no dependence on the original field order. This is the single
// place key-ordering and numeric-formatting stability is specified and
// frozen, per the design note that canonicalization "must be specified once
// and frozen."
func Canonicalize(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case string:
		return strconv.Quote(val)
	case float64:
		return canonicalNumber(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += strconv.Quote(k) + ":" + Canonicalize(val[k])
		}
		return out + "}"
	case []interface{}:
		out := "["
		for i, item := range val {
			if i > 0 {
				out += ","
			}
			out += Canonicalize(item)
		}
		return out + "]"
	case []string:
		out := "["
		for i, item := range val {
			if i > 0 {
				out += ","
			}
			out += strconv.Quote(item)
		}
		return out + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// canonicalNumber formats a float64 the same way regardless of whether it
// represents an integral or fractional value, so that JSON's float64
// decoding of "10" and a literal 10.0 settings value produce identical
// fingerprints.
func canonicalNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
