package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/fctl/pkg/flowgraph"
)

type fakeArity map[string]flowgraph.KindArity

func (f fakeArity) Arity(kind string) (flowgraph.KindArity, bool) {
	a, ok := f[kind]
	return a, ok
}

func testArity() fakeArity {
	return fakeArity{
		"read":   {MinInputs: 0, MaxInputs: 0, Outputs: 1},
		"filter": {MinInputs: 1, MaxInputs: 1, Outputs: 1},
	}
}

func knownKinds(kinds ...string) func(string) bool {
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return func(k string) bool { return set[k] }
}

func buildTestGraph(t *testing.T) *flowgraph.Graph {
	t.Helper()
	g := flowgraph.New("flow-1", "orders", testArity())
	g.Settings.ExecutionMode = flowgraph.ModePerformance
	g.Settings.Description = "orders pipeline"

	require.NoError(t, g.AddNode(&flowgraph.Node{
		ID:       1,
		Kind:     "read",
		Settings: map[string]interface{}{"path": "orders.csv"},
		Position: flowgraph.Position{X: 10, Y: 20},
	}))
	require.NoError(t, g.AddNode(&flowgraph.Node{
		ID:           2,
		Kind:         "filter",
		Settings:     map[string]interface{}{"predicate": "amount > 0"},
		CacheResults: true,
		OutputFieldConfig: &flowgraph.OutputFieldConfig{
			Enabled:    true,
			VMBehavior: flowgraph.VMSelectOnly,
			Fields:     []flowgraph.OutputField{{Name: "amount", DataType: "Float64"}},
		},
	}))
	require.NoError(t, g.AddEdge(&flowgraph.Edge{From: 1, To: 2, ToPort: "in"}))
	return g
}

func TestStore_SaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, testArity(), knownKinds("read", "filter"))

	g := buildTestGraph(t)
	require.NoError(t, store.Save(g))

	loaded, err := store.Load("orders")
	require.NoError(t, err)

	assert.Equal(t, g.ID, loaded.ID)
	assert.Equal(t, g.Name, loaded.Name)
	assert.Equal(t, flowgraph.ModePerformance, loaded.Settings.ExecutionMode)

	node, err := loaded.GetNode(2)
	require.NoError(t, err)
	assert.True(t, node.CacheResults)
	require.NotNil(t, node.OutputFieldConfig)
	assert.Equal(t, flowgraph.VMSelectOnly, node.OutputFieldConfig.VMBehavior)

	edges := loaded.ListEdges()
	require.Len(t, edges, 1)
	assert.Equal(t, 1, edges[0].From)
	assert.Equal(t, 2, edges[0].To)
}

func TestStore_Save_WritesUnderFlowsSubdirectory(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, testArity(), knownKinds("read", "filter"))
	require.NoError(t, store.Save(buildTestGraph(t)))

	path := filepath.Join(dir, "flows", "orders.yaml")
	assert.FileExists(t, path)
}

func TestStore_Load_UnknownKindFails(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, testArity(), knownKinds("read"))
	require.NoError(t, store.Save(buildTestGraph(t)))

	_, err := store.Load("orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node kind")
}

func TestStore_LoadBytes_MissingVersionFails(t *testing.T) {
	store := NewStore(t.TempDir(), testArity(), knownKinds("read", "filter"))
	_, err := store.LoadBytes([]byte("flow_id: x\nflow_name: y\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestStore_LoadBytes_MigratesOldVersion(t *testing.T) {
	store := NewStore(t.TempDir(), testArity(), knownKinds("read"))
	doc := []byte(`
version: "1.0"
flow_id: flow-1
flow_name: legacy
flow_settings:
  execution_mode: Development
  auto_save: false
nodes:
  - id: 1
    type: read
    position: { x: 0, y: 0 }
    cache_results: false
    settings: {}
edges: []
`)
	g, err := store.LoadBytes(doc)
	require.NoError(t, err)
	assert.Equal(t, flowgraph.LocationLocal, g.Settings.ExecutionLocation)
}

func TestStore_LoadBytes_UnmigratedVersionFails(t *testing.T) {
	store := NewStore(t.TempDir(), testArity(), knownKinds("read"))
	doc := []byte(`
version: "0.1"
flow_id: flow-1
flow_name: ancient
flow_settings: { execution_mode: Development }
nodes: []
edges: []
`)
	_, err := store.LoadBytes(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no migration registered")
}

func TestStore_LoadPath_ReadsArbitraryFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, testArity(), knownKinds("read", "filter"))
	g := buildTestGraph(t)
	require.NoError(t, store.Save(g))

	loaded, err := store.LoadPath(filepath.Join(dir, "flows", "orders.yaml"))
	require.NoError(t, err)
	assert.Equal(t, g.Name, loaded.Name)
}
