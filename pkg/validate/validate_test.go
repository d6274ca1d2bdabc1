package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/fctl/pkg/flowgraph"
	"github.com/flowkit/fctl/pkg/types"
)

func baseResult() types.Result {
	return types.Result{
		Schema: types.Schema{
			types.NewColumn("id", types.Int64, false),
			types.NewColumn("extra", types.String, false),
		},
		Rows: []types.Row{
			{"id": int64(1), "extra": "a"},
			{"id": int64(2), "extra": "b"},
		},
	}
}

func TestApply_NilOrDisabled_PassesThrough(t *testing.T) {
	result, err := Apply(nil, baseResult())
	require.NoError(t, err)
	assert.Equal(t, baseResult(), result)

	result, err = Apply(&flowgraph.OutputFieldConfig{Enabled: false}, baseResult())
	require.NoError(t, err)
	assert.Equal(t, baseResult(), result)
}

func TestApply_SelectOnly_ProjectsAndDropsExtras(t *testing.T) {
	cfg := &flowgraph.OutputFieldConfig{
		Enabled:    true,
		VMBehavior: flowgraph.VMSelectOnly,
		Fields:     []flowgraph.OutputField{{Name: "id", DataType: "Int64"}},
	}
	result, err := Apply(cfg, baseResult())
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, result.Schema.ColumnNames())
	for _, row := range result.Rows {
		_, hasExtra := row["extra"]
		assert.False(t, hasExtra)
	}
}

func TestApply_SelectOnly_FailsWhenFieldAbsent(t *testing.T) {
	cfg := &flowgraph.OutputFieldConfig{
		Enabled:    true,
		VMBehavior: flowgraph.VMSelectOnly,
		Fields:     []flowgraph.OutputField{{Name: "missing", DataType: "Int64"}},
	}
	_, err := Apply(cfg, baseResult())
	assert.Error(t, err)
}

func TestApply_AddMissing_AppendsDefaultedColumn(t *testing.T) {
	cfg := &flowgraph.OutputFieldConfig{
		Enabled:    true,
		VMBehavior: flowgraph.VMAddMissing,
		Fields: []flowgraph.OutputField{
			{Name: "id", DataType: "Int64"},
			{Name: "flag", DataType: "Boolean", DefaultExpr: "true"},
		},
	}
	result, err := Apply(cfg, types.Result{
		Schema: types.Schema{types.NewColumn("id", types.Int64, false)},
		Rows:   []types.Row{{"id": int64(1)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "flag"}, result.Schema.ColumnNames())
	assert.Equal(t, true, result.Rows[0]["flag"])
}

func TestApply_AddMissing_LeavesExistingColumnUntouched(t *testing.T) {
	cfg := &flowgraph.OutputFieldConfig{
		Enabled:    true,
		VMBehavior: flowgraph.VMAddMissing,
		Fields:     []flowgraph.OutputField{{Name: "extra", DataType: "String", DefaultExpr: `"z"`}},
	}
	result, err := Apply(cfg, baseResult())
	require.NoError(t, err)
	assert.Equal(t, "a", result.Rows[0]["extra"])
}

func TestApply_RaiseOnMissing_FailsWhenAbsent(t *testing.T) {
	cfg := &flowgraph.OutputFieldConfig{
		Enabled:    true,
		VMBehavior: flowgraph.VMRaiseOnMissing,
		Fields:     []flowgraph.OutputField{{Name: "missing", DataType: "Int64"}},
	}
	_, err := Apply(cfg, baseResult())
	assert.Error(t, err)
}

func TestApply_RaiseOnMissing_FailsOnIncompatibleType(t *testing.T) {
	cfg := &flowgraph.OutputFieldConfig{
		Enabled:    true,
		VMBehavior: flowgraph.VMRaiseOnMissing,
		Fields:     []flowgraph.OutputField{{Name: "extra", DataType: "Int64"}},
	}
	_, err := Apply(cfg, baseResult())
	assert.Error(t, err, "String is not assignable back to Int64")
}

func TestApply_RaiseOnMissing_PassesWhenAssignable(t *testing.T) {
	cfg := &flowgraph.OutputFieldConfig{
		Enabled:    true,
		VMBehavior: flowgraph.VMRaiseOnMissing,
		Fields:     []flowgraph.OutputField{{Name: "id", DataType: "Int64"}, {Name: "extra", DataType: "String"}},
	}
	result, err := Apply(cfg, baseResult())
	require.NoError(t, err)
	assert.Equal(t, baseResult(), result)
}

func TestApply_UnknownBehavior_Errors(t *testing.T) {
	cfg := &flowgraph.OutputFieldConfig{Enabled: true, VMBehavior: "bogus"}
	_, err := Apply(cfg, baseResult())
	assert.Error(t, err)
}
