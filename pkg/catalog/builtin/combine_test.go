package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/fctl/pkg/catalog"
	"github.com/flowkit/fctl/pkg/types"
)

func kvSchema() types.Schema {
	return types.Schema{
		types.NewColumn("k", types.String, false),
		types.NewColumn("v", types.Float64, false),
	}
}

// TestRegisterJoin_ProducesScenarioTwoShape exercises spec scenario 2: two
// [k,v] inputs joined on k produce [k, v, v_right].
func TestRegisterJoin_ProducesScenarioTwoShape(t *testing.T) {
	c := catalog.New()
	require.NoError(t, RegisterJoin(c))

	schema, err := c.PredictSchema("join", map[string]interface{}{
		"on": []interface{}{"k"},
	}, []types.Schema{kvSchema(), kvSchema()})
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "v", "v_right"}, schema.ColumnNames())
}

func TestRegisterJoin_ErrorsWhenJoinColumnMissing(t *testing.T) {
	c := catalog.New()
	require.NoError(t, RegisterJoin(c))

	_, err := c.PredictSchema("join", map[string]interface{}{
		"on": []interface{}{"missing"},
	}, []types.Schema{kvSchema(), kvSchema()})
	assert.Error(t, err)
}

func TestRegisterJoin_ValidatesHow(t *testing.T) {
	c := catalog.New()
	require.NoError(t, RegisterJoin(c))

	errs, err := c.ValidateSettings("join", map[string]interface{}{
		"on": []interface{}{"k"}, "how": "bogus",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, errs)
}

func TestRegisterCrossJoin_SuffixesAllCollisions(t *testing.T) {
	c := catalog.New()
	require.NoError(t, RegisterCrossJoin(c))

	schema, err := c.PredictSchema("cross_join", nil, []types.Schema{kvSchema(), kvSchema()})
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "v", "k_right", "v_right"}, schema.ColumnNames())
}

func TestRegisterUnion_DiagonalRelaxedColumnAlignment(t *testing.T) {
	c := catalog.New()
	require.NoError(t, RegisterUnion(c))

	left := types.Schema{types.NewColumn("a", types.Int64, false), types.NewColumn("b", types.String, false)}
	right := types.Schema{types.NewColumn("a", types.Int64, false), types.NewColumn("c", types.Float64, false)}

	schema, err := c.PredictSchema("union", nil, []types.Schema{left, right})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, schema.ColumnNames())

	bCol, ok := schema.Column("b")
	require.True(t, ok)
	assert.True(t, bCol.Nullable, "b is absent from the right input and must become nullable")

	cCol, ok := schema.Column("c")
	require.True(t, ok)
	assert.True(t, cCol.Nullable, "c is absent from the left input and must become nullable")
}

func TestRegisterUnion_WidensMismatchedTypesToString(t *testing.T) {
	c := catalog.New()
	require.NoError(t, RegisterUnion(c))

	left := types.Schema{types.NewColumn("a", types.Int64, false)}
	right := types.Schema{types.NewColumn("a", types.String, false)}

	schema, err := c.PredictSchema("union", nil, []types.Schema{left, right})
	require.NoError(t, err)
	col, ok := schema.Column("a")
	require.True(t, ok)
	assert.True(t, types.Equal(col.DataType, types.String))
}

func TestRegisterUnion_RequiresAtLeastOneInput(t *testing.T) {
	c := catalog.New()
	require.NoError(t, RegisterUnion(c))

	_, err := c.PredictSchema("union", nil, nil)
	assert.Error(t, err)
}
