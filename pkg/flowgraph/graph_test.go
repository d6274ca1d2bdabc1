package flowgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/fctl/pkg/models"
)

type fakeArity map[string]KindArity

func (f fakeArity) Arity(kind string) (KindArity, bool) {
	a, ok := f[kind]
	return a, ok
}

func testArity() fakeArity {
	return fakeArity{
		"read":   {MinInputs: 0, MaxInputs: 0, Outputs: 1},
		"filter": {MinInputs: 1, MaxInputs: 1, Outputs: 1},
		"join":   {MinInputs: 2, MaxInputs: 2, Outputs: 1},
		"union":  {MinInputs: 1, MaxInputs: -1, Outputs: 1},
	}
}

func newTestGraph() *Graph {
	return New("g1", "test", testArity())
}

func TestGraph_AddNode(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	assert.Error(t, g.AddNode(&Node{ID: 1, Kind: "filter"}), "duplicate ID rejected")
	assert.Error(t, g.AddNode(&Node{ID: 2}), "missing kind rejected")
}

func TestGraph_AddEdge_Acyclicity(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 2, Kind: "filter"}))
	require.NoError(t, g.AddEdge(&Edge{From: 1, To: 2, ToPort: "main"}))

	err := g.AddEdge(&Edge{From: 2, To: 1, ToPort: "main"})
	assert.ErrorIs(t, err, models.ErrCyclicDependency)
}

func TestGraph_AddEdge_MissingEndpoints(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	err := g.AddEdge(&Edge{From: 1, To: 99, ToPort: "main"})
	assert.ErrorIs(t, err, models.ErrNodeNotFound)
}

func TestGraph_AddEdge_DuplicateNonUnionPort(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 2, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 3, Kind: "join"}))
	require.NoError(t, g.AddEdge(&Edge{From: 1, To: 3, ToPort: "main"}))

	err := g.AddEdge(&Edge{From: 2, To: 3, ToPort: "main"})
	assert.ErrorIs(t, err, models.ErrDuplicateEdge)
}

func TestGraph_AddEdge_UnionPortAcceptsMultiple(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 2, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 3, Kind: "union"}))

	require.NoError(t, g.AddEdge(&Edge{From: 1, To: 3, ToPort: "union[0]"}))
	require.NoError(t, g.AddEdge(&Edge{From: 2, To: 3, ToPort: "union[1]"}))

	preds := g.Predecessors(3, "")
	assert.ElementsMatch(t, []int{1, 2}, preds)
}

func TestGraph_AddEdge_ArityViolation(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 2, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 3, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 4, Kind: "filter"}))

	require.NoError(t, g.AddEdge(&Edge{From: 1, To: 4, ToPort: "main"}))
	err := g.AddEdge(&Edge{From: 2, To: 4, ToPort: "secondary"})
	assert.ErrorIs(t, err, models.ErrPortArity)
}

func TestGraph_RemoveNode_CascadesEdges(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 2, Kind: "filter"}))
	require.NoError(t, g.AddEdge(&Edge{From: 1, To: 2, ToPort: "main"}))

	require.NoError(t, g.RemoveNode(1))
	assert.Empty(t, g.ListEdges(), "incident edges must be removed")

	_, err := g.GetNode(1)
	assert.ErrorIs(t, err, models.ErrNodeNotFound)
}

func TestGraph_RemoveEdge(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 2, Kind: "filter"}))
	require.NoError(t, g.AddEdge(&Edge{From: 1, To: 2, ToPort: "main"}))

	require.NoError(t, g.RemoveEdge(1, 2, "main"))
	assert.Empty(t, g.ListEdges())
	assert.ErrorIs(t, g.RemoveEdge(1, 2, "main"), models.ErrEdgeNotFound)
}

func TestGraph_TopologicalOrder_Waves(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 2, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 3, Kind: "join"}))
	require.NoError(t, g.AddEdge(&Edge{From: 1, To: 3, ToPort: "main"}))
	require.NoError(t, g.AddEdge(&Edge{From: 2, To: 3, ToPort: "right"}))

	waves, err := g.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, waves, 2)
	assert.ElementsMatch(t, []int{1, 2}, waves[0])
	assert.Equal(t, []int{3}, waves[1])
}

func TestGraph_StartAndTerminalNodes(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 2, Kind: "filter"}))
	require.NoError(t, g.AddEdge(&Edge{From: 1, To: 2, ToPort: "main"}))

	assert.Equal(t, []int{1}, g.StartNodes())
	assert.Equal(t, []int{2}, g.TerminalNodes())
}

func TestGraph_Descendants(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 2, Kind: "filter"}))
	require.NoError(t, g.AddNode(&Node{ID: 3, Kind: "filter"}))
	require.NoError(t, g.AddEdge(&Edge{From: 1, To: 2, ToPort: "main"}))
	require.NoError(t, g.AddEdge(&Edge{From: 2, To: 3, ToPort: "main"}))

	assert.ElementsMatch(t, []int{2, 3}, g.Descendants(1))
}

func TestGraph_UpdateSettings_InvalidatesDescendants(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	require.NoError(t, g.AddNode(&Node{ID: 2, Kind: "filter"}))
	require.NoError(t, g.AddEdge(&Edge{From: 1, To: 2, ToPort: "main"}))

	var invalidated []int
	g.Subscribe(func(nodeIDs []int) { invalidated = append(invalidated, nodeIDs...) })

	require.NoError(t, g.UpdateSettings(1, map[string]interface{}{"path": "a.csv"}))
	assert.ElementsMatch(t, []int{1, 2}, invalidated)
}

func TestGraph_UpdateNodePosition_DoesNotInvalidate(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))

	called := false
	g.Subscribe(func(nodeIDs []int) { called = true })

	require.NoError(t, g.UpdateNodePosition(1, Position{X: 10, Y: 20}))
	assert.False(t, called, "position updates are cosmetic")
}

func TestGraph_VersionIncrementsOnMutation(t *testing.T) {
	g := newTestGraph()
	v0 := g.Version
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read"}))
	assert.Greater(t, g.Version, v0)
}

func TestGraph_Clone_IsIndependent(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(&Node{ID: 1, Kind: "read", Settings: map[string]interface{}{"path": "a.csv"}}))

	clone, err := g.Clone()
	require.NoError(t, err)

	require.NoError(t, g.UpdateSettings(1, map[string]interface{}{"path": "b.csv"}))

	cloneNode, err := clone.GetNode(1)
	require.NoError(t, err)
	assert.Equal(t, "a.csv", cloneNode.Settings["path"])
}

func TestEdge_IsUnionPort(t *testing.T) {
	e := &Edge{ToPort: "union[0]"}
	assert.True(t, e.IsUnionPort())

	e2 := &Edge{ToPort: "main"}
	assert.False(t, e2.IsUnionPort())
}
