package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEdge_DefaultsTargetPortToIn(t *testing.T) {
	edge, err := NewEdge(1, 2).Build()

	require.NoError(t, err)
	assert.Equal(t, 1, edge.From)
	assert.Equal(t, 2, edge.To)
	assert.Equal(t, "in", edge.ToPort)
}

func TestEdgeBuilder_WithSourcePort(t *testing.T) {
	edge, err := NewEdge(1, 2, WithSourcePort("main")).Build()

	require.NoError(t, err)
	assert.Equal(t, "main", edge.FromPort)
}

func TestEdgeBuilder_WithTargetPort(t *testing.T) {
	edge, err := NewEdge(1, 2, WithTargetPort("left")).Build()

	require.NoError(t, err)
	assert.Equal(t, "left", edge.ToPort)
}

func TestEdgeBuilder_WithTargetPort_EmptyFails(t *testing.T) {
	edge, err := NewEdge(1, 2, WithTargetPort("")).Build()

	assert.Error(t, err)
	assert.Nil(t, edge)
}

func TestEdgeBuilder_IntoUnion(t *testing.T) {
	edge, err := NewEdge(1, 2, IntoUnion("a")).Build()

	require.NoError(t, err)
	assert.Equal(t, "union_a", edge.ToPort)
	assert.True(t, edge.IsUnionPort())
}

func TestEdgeBuilder_IntoUnion_EmptyNameFails(t *testing.T) {
	edge, err := NewEdge(1, 2, IntoUnion("")).Build()

	assert.Error(t, err)
	assert.Nil(t, edge)
}

func TestEdgeBuilder_SelfLoopFailsValidate(t *testing.T) {
	edge, err := NewEdge(1, 1).Build()

	assert.Error(t, err)
	assert.Nil(t, edge)
}

func TestEdgeBuilder_ZeroTargetFailsValidate(t *testing.T) {
	edge, err := NewEdge(1, 0).Build()

	assert.Error(t, err)
	assert.Nil(t, edge)
}
