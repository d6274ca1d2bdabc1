package builtin

import (
	"fmt"

	"github.com/flowkit/fctl/pkg/catalog"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/plan"
	"github.com/flowkit/fctl/pkg/types"
)

var aggregationOutputType = map[string]types.DataType{
	"count": types.Int64,
	"sum":   types.Float64,
	"mean":  types.Float64,
	"min":   types.Unknown,
	"max":   types.Unknown,
}

func groupBySchema(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
	input, err := requireSingleInput(inputSchemas, "group_by")
	if err != nil {
		return nil, err
	}
	by, err := sh.GetStringSlice(settings, "by")
	if err != nil {
		return nil, err
	}
	aggs, err := sh.GetMapSlice(settings, "aggregations")
	if err != nil {
		return nil, err
	}

	out := make(types.Schema, 0, len(by)+len(aggs))
	for _, name := range by {
		col, ok := input.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: group_by references unknown column %q", models.ErrValidationFailed, name)
		}
		out = append(out, col)
	}
	for i, agg := range aggs {
		col, _ := agg["column"].(string)
		fn, _ := agg["func"].(string)
		as, _ := agg["as"].(string)
		if as == "" {
			as = fmt.Sprintf("%s_%s", col, fn)
		}
		srcCol, hasSrc := input.Column(col)
		outType, known := aggregationOutputType[fn]
		if !known {
			return nil, fmt.Errorf("%w: aggregations[%d] has unsupported func %q", models.ErrValidationFailed, i, fn)
		}
		if outType == types.Unknown && hasSrc {
			outType = srcCol.DataType
		}
		out = append(out, types.NewColumn(as, outType, true))
	}
	return out, nil
}

// RegisterGroupBy registers the "group_by" transform node kind.
func RegisterGroupBy(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "group_by",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			if by, err := sh.GetStringSlice(settings, "by"); err != nil || len(by) == 0 {
				return []models.ValidationError{{Field: "by", Message: "at least one group-by column is required"}}
			}
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(groupBySchema),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: group_by requires exactly one input plan", models.ErrGraphStruct)
			}
			schema, err := groupBySchema(settings, []types.Schema{inputPlans[0].Schema()})
			if err != nil {
				return nil, err
			}
			return plan.NewOpaquePlan("group_by", settings, schema, inputPlans)
		}),
	})
}

// RegisterPivot registers the "pivot" transform node kind. Pivoted column
// names depend on distinct data values the coordinator cannot see without
// materializing, so static schema prediction requires the caller to
// declare the expected value columns explicitly via "value_columns" —
// otherwise the node is rejected at validation time rather than producing
// an unpredictable schema.
func RegisterPivot(c *catalog.Catalog) error {
	pivotSchema := func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
		input, err := requireSingleInput(inputSchemas, "pivot")
		if err != nil {
			return nil, err
		}
		index, err := sh.GetStringSlice(settings, "index")
		if err != nil {
			return nil, err
		}
		valueColumns, errs := columnsFromSettings(settings, "value_columns")
		if len(errs) > 0 {
			return nil, fmt.Errorf("%w: %s", models.ErrValidationFailed, errs[0].Error())
		}
		out := make(types.Schema, 0, len(index)+len(valueColumns))
		for _, name := range index {
			col, ok := input.Column(name)
			if !ok {
				return nil, fmt.Errorf("%w: pivot index references unknown column %q", models.ErrValidationFailed, name)
			}
			out = append(out, col)
		}
		out = append(out, valueColumns...)
		return out, nil
	}

	return c.Register(catalog.NodeKind{
		ID:        "pivot",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			var errs []models.ValidationError
			if _, err := sh.GetString(settings, "columns"); err != nil {
				errs = append(errs, models.ValidationError{Field: "columns", Message: err.Error()})
			}
			if _, err := sh.GetString(settings, "values"); err != nil {
				errs = append(errs, models.ValidationError{Field: "values", Message: err.Error()})
			}
			_, colErrs := columnsFromSettings(settings, "value_columns")
			errs = append(errs, colErrs...)
			return errs
		}),
		Schema: catalog.SchemaCallbackFunc(pivotSchema),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: pivot requires exactly one input plan", models.ErrGraphStruct)
			}
			schema, err := pivotSchema(settings, []types.Schema{inputPlans[0].Schema()})
			if err != nil {
				return nil, err
			}
			return plan.NewOpaquePlan("pivot", settings, schema, inputPlans)
		}),
	})
}

// RegisterUnpivot registers the "unpivot" transform node kind: melts a set
// of value columns into (variable, value) row pairs alongside id columns.
func RegisterUnpivot(c *catalog.Catalog) error {
	unpivotSchema := func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
		input, err := requireSingleInput(inputSchemas, "unpivot")
		if err != nil {
			return nil, err
		}
		idColumns, err := sh.GetStringSlice(settings, "id_columns")
		if err != nil {
			return nil, err
		}
		variableName := sh.GetStringDefault(settings, "variable_name", "variable")
		valueName := sh.GetStringDefault(settings, "value_name", "value")

		out := make(types.Schema, 0, len(idColumns)+2)
		for _, name := range idColumns {
			col, ok := input.Column(name)
			if !ok {
				return nil, fmt.Errorf("%w: unpivot references unknown id column %q", models.ErrValidationFailed, name)
			}
			out = append(out, col)
		}
		out = append(out, types.NewColumn(variableName, types.String, false))
		out = append(out, types.NewColumn(valueName, types.String, true))
		return out, nil
	}

	return c.Register(catalog.NodeKind{
		ID:        "unpivot",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			if _, err := sh.GetStringSlice(settings, "id_columns"); err != nil {
				return []models.ValidationError{{Field: "id_columns", Message: err.Error()}}
			}
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(unpivotSchema),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: unpivot requires exactly one input plan", models.ErrGraphStruct)
			}
			schema, err := unpivotSchema(settings, []types.Schema{inputPlans[0].Schema()})
			if err != nil {
				return nil, err
			}
			return plan.NewOpaquePlan("unpivot", settings, schema, inputPlans)
		}),
	})
}
