package builtin

import (
	"fmt"

	"github.com/flowkit/fctl/pkg/catalog"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/plan"
	"github.com/flowkit/fctl/pkg/types"
)

// mergeSchemas combines a left and right schema the way the worker's join
// operator does: join-key columns appear once (from left), any other
// column name shared by both sides is suffixed "_right" on the right-hand
// copy (spec scenario 2: `join` on `k` over two `[k,v]` inputs produces
// `[k, v, v_right]`).
func mergeSchemas(left, right types.Schema, joinCols map[string]bool) types.Schema {
	out := make(types.Schema, 0, len(left)+len(right))
	out = append(out, left...)
	for _, col := range right {
		if joinCols[col.Name] {
			continue
		}
		if left.Has(col.Name) {
			col.Name = col.Name + "_right"
		}
		out = append(out, col)
	}
	return out
}

// RegisterJoin registers the "join" combine node kind: two inputs, an "on"
// column list, right-hand duplicates suffixed.
func RegisterJoin(c *catalog.Catalog) error {
	joinSchema := func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
		if len(inputSchemas) != 2 {
			return nil, fmt.Errorf("%w: join requires exactly two inputs, got %d", models.ErrGraphStruct, len(inputSchemas))
		}
		on, err := sh.GetStringSlice(settings, "on")
		if err != nil || len(on) == 0 {
			return nil, fmt.Errorf("%w: join requires a non-empty \"on\" column list", models.ErrValidationFailed)
		}
		joinCols := make(map[string]bool, len(on))
		for _, c := range on {
			joinCols[c] = true
			if !inputSchemas[0].Has(c) || !inputSchemas[1].Has(c) {
				return nil, fmt.Errorf("%w: join column %q missing from an input", models.ErrValidationFailed, c)
			}
		}
		return mergeSchemas(inputSchemas[0], inputSchemas[1], joinCols), nil
	}

	return c.Register(catalog.NodeKind{
		ID:        "join",
		MinInputs: 2,
		MaxInputs: 2,
		Outputs:   1,
		Category:  catalog.CategoryCombine,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			how := sh.GetStringDefault(settings, "how", "inner")
			validHow := map[string]bool{"inner": true, "left": true, "right": true, "outer": true}
			if !validHow[how] {
				return []models.ValidationError{{Field: "how", Message: fmt.Sprintf("unsupported join type %q", how)}}
			}
			on, err := sh.GetStringSlice(settings, "on")
			if err != nil || len(on) == 0 {
				return []models.ValidationError{{Field: "on", Message: "at least one join column is required"}}
			}
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(joinSchema),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 2 {
				return nil, fmt.Errorf("%w: join requires exactly two input plans", models.ErrGraphStruct)
			}
			schema, err := joinSchema(settings, []types.Schema{inputPlans[0].Schema(), inputPlans[1].Schema()})
			if err != nil {
				return nil, err
			}
			return plan.NewOpaquePlan("join", settings, schema, inputPlans)
		}),
	})
}

// RegisterCrossJoin registers the "cross_join" combine node kind: a
// Cartesian product with no join key, so every name collision (not just
// non-key ones) is suffixed on the right.
func RegisterCrossJoin(c *catalog.Catalog) error {
	crossSchema := func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
		if len(inputSchemas) != 2 {
			return nil, fmt.Errorf("%w: cross_join requires exactly two inputs, got %d", models.ErrGraphStruct, len(inputSchemas))
		}
		return mergeSchemas(inputSchemas[0], inputSchemas[1], nil), nil
	}

	return c.Register(catalog.NodeKind{
		ID:        "cross_join",
		MinInputs: 2,
		MaxInputs: 2,
		Outputs:   1,
		Category:  catalog.CategoryCombine,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(crossSchema),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 2 {
				return nil, fmt.Errorf("%w: cross_join requires exactly two input plans", models.ErrGraphStruct)
			}
			schema, err := crossSchema(settings, []types.Schema{inputPlans[0].Schema(), inputPlans[1].Schema()})
			if err != nil {
				return nil, err
			}
			return plan.NewOpaquePlan("cross_join", settings, schema, inputPlans)
		}),
	})
}

// unionSchema computes the diagonal-relaxed union schema: the column set is
// the union across all inputs, in first-seen order across predecessors —
// per DESIGN.md's Open Question decision that union-edge insertion order is
// semantically significant for column alignment. Columns absent from some
// inputs become nullable in the result.
func unionSchema(inputSchemas []types.Schema) (types.Schema, error) {
	if len(inputSchemas) == 0 {
		return nil, fmt.Errorf("%w: union requires at least one input", models.ErrGraphStruct)
	}
	var out types.Schema
	seen := make(map[string]int) // name -> index in out
	presentIn := make(map[string]int)
	for _, input := range inputSchemas {
		for _, col := range input {
			if idx, ok := seen[col.Name]; ok {
				if !types.Equal(out[idx].DataType, col.DataType) {
					out[idx].DataType = types.String
					out[idx].SyncTypeName()
				}
				presentIn[col.Name]++
				continue
			}
			seen[col.Name] = len(out)
			out = append(out, col)
			presentIn[col.Name] = 1
		}
	}
	for i := range out {
		if presentIn[out[i].Name] < len(inputSchemas) {
			out[i].Nullable = true
		}
	}
	return out, nil
}

// RegisterUnion registers the "union" combine node kind: N >= 1 inputs over
// a union[i] port set, diagonal-relaxed column alignment.
func RegisterUnion(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "union",
		MinInputs: 1,
		MaxInputs: -1,
		Outputs:   1,
		Category:  catalog.CategoryCombine,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
			return unionSchema(inputSchemas)
		}),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			schemas := make([]types.Schema, len(inputPlans))
			for i, p := range inputPlans {
				schemas[i] = p.Schema()
			}
			schema, err := unionSchema(schemas)
			if err != nil {
				return nil, err
			}
			return plan.NewOpaquePlan("union", settings, schema, inputPlans)
		}),
	})
}
