package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize_KeyOrderStability(t *testing.T) {
	a := map[string]interface{}{"b": 1.0, "a": 2.0}
	b := map[string]interface{}{"a": 2.0, "b": 1.0}
	assert.Equal(t, Canonicalize(a), Canonicalize(b))
}

func TestCanonicalize_NumberFormatting(t *testing.T) {
	assert.Equal(t, "10", Canonicalize(10.0))
	assert.Equal(t, "10.5", Canonicalize(10.5))
	assert.Equal(t, "10", Canonicalize(10))
}

func TestCanonicalize_NestedStructures(t *testing.T) {
	a := map[string]interface{}{
		"columns": []interface{}{"id", "name"},
		"nested":  map[string]interface{}{"y": 1.0, "x": 2.0},
	}
	b := map[string]interface{}{
		"nested":  map[string]interface{}{"x": 2.0, "y": 1.0},
		"columns": []interface{}{"id", "name"},
	}
	assert.Equal(t, Canonicalize(a), Canonicalize(b))
}

func TestOf_Deterministic(t *testing.T) {
	settings := map[string]interface{}{"path": "a.csv"}
	fp1 := Of("read", settings, nil, nil)
	fp2 := Of("read", settings, nil, nil)
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64, "SHA-256 hex digest")
}

func TestOf_StableUnderSettingsReorder(t *testing.T) {
	s1 := map[string]interface{}{"b": 1.0, "a": 2.0}
	s2 := map[string]interface{}{"a": 2.0, "b": 1.0}
	assert.Equal(t, Of("filter", s1, nil, nil), Of("filter", s2, nil, nil))
}

func TestOf_ChangesWithSettings(t *testing.T) {
	fp1 := Of("filter", map[string]interface{}{"threshold": 10.0}, nil, nil)
	fp2 := Of("filter", map[string]interface{}{"threshold": 20.0}, nil, nil)
	assert.NotEqual(t, fp1, fp2)
}

func TestOf_ChangesWithPredecessors(t *testing.T) {
	fp1 := Of("join", map[string]interface{}{}, []string{"aaa", "bbb"}, nil)
	fp2 := Of("join", map[string]interface{}{}, []string{"bbb", "aaa"}, nil)
	assert.NotEqual(t, fp1, fp2, "predecessor order is significant")
}

func TestOf_SourceMetadataAffectsFingerprint(t *testing.T) {
	settings := map[string]interface{}{"path": "a.csv"}
	fp1 := Of("read", settings, nil, &SourceMetadata{Path: "a.csv", ModTime: "2026-01-01T00:00:00Z"})
	fp2 := Of("read", settings, nil, &SourceMetadata{Path: "a.csv", ModTime: "2026-01-02T00:00:00Z"})
	assert.NotEqual(t, fp1, fp2)
}

func TestOf_NoFieldCollisionAcrossBoundary(t *testing.T) {
	// A naive concatenation without length prefixes could confuse
	// "kind=read" + "settings={}" with "kind=rea" + "dsettings={}".
	// The length-prefixed encoding must keep these distinct.
	fp1 := Of("read", map[string]interface{}{}, nil, nil)
	fp2 := Of("rea", map[string]interface{}{}, nil, nil)
	assert.NotEqual(t, fp1, fp2)
}
