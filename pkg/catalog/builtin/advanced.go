package builtin

import (
	"fmt"

	"github.com/flowkit/fctl/pkg/catalog"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/plan"
	"github.com/flowkit/fctl/pkg/types"
)

// RegisterGraphSolver registers the "graph_solver" transform node kind: a
// domain-specific network/graph algorithm (shortest path, connected
// components, etc.) over input rows. Like pivot, its output column set
// depends on the algorithm chosen, so it is declared explicitly via
// "output_schema" for static prediction.
func RegisterGraphSolver(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "graph_solver",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			var errs []models.ValidationError
			if _, err := sh.GetString(settings, "algorithm"); err != nil {
				errs = append(errs, models.ValidationError{Field: "algorithm", Message: err.Error()})
			}
			_, schemaErrs := columnsFromSettings(settings, "output_schema")
			errs = append(errs, schemaErrs...)
			return errs
		}),
		Schema: catalog.SchemaCallbackFunc(func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
			schema, errs := columnsFromSettings(settings, "output_schema")
			if len(errs) > 0 {
				return nil, fmt.Errorf("%w: %s", models.ErrValidationFailed, errs[0].Error())
			}
			return schema, nil
		}),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: graph_solver requires exactly one input plan", models.ErrGraphStruct)
			}
			schema, errs := columnsFromSettings(settings, "output_schema")
			if len(errs) > 0 {
				return nil, fmt.Errorf("%w: %s", models.ErrValidationFailed, errs[0].Error())
			}
			return plan.NewOpaquePlan("graph_solver", settings, schema, inputPlans)
		}),
	})
}

// RegisterFuzzyMatch registers the "fuzzy_match" combine node kind: joins
// two inputs on approximate string similarity, appending a score column.
func RegisterFuzzyMatch(c *catalog.Catalog) error {
	fuzzySchema := func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
		if len(inputSchemas) != 2 {
			return nil, fmt.Errorf("%w: fuzzy_match requires exactly two inputs, got %d", models.ErrGraphStruct, len(inputSchemas))
		}
		outputColumn := sh.GetStringDefault(settings, "output_column", "match_score")
		out := mergeSchemas(inputSchemas[0], inputSchemas[1], nil)
		out = append(out, types.NewColumn(outputColumn, types.Float64, false))
		return out, nil
	}

	return c.Register(catalog.NodeKind{
		ID:        "fuzzy_match",
		MinInputs: 2,
		MaxInputs: 2,
		Outputs:   1,
		Category:  catalog.CategoryCombine,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			var errs []models.ValidationError
			if _, err := sh.GetString(settings, "left_on"); err != nil {
				errs = append(errs, models.ValidationError{Field: "left_on", Message: err.Error()})
			}
			if _, err := sh.GetString(settings, "right_on"); err != nil {
				errs = append(errs, models.ValidationError{Field: "right_on", Message: err.Error()})
			}
			return errs
		}),
		Schema: catalog.SchemaCallbackFunc(fuzzySchema),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 2 {
				return nil, fmt.Errorf("%w: fuzzy_match requires exactly two input plans", models.ErrGraphStruct)
			}
			schema, err := fuzzySchema(settings, []types.Schema{inputPlans[0].Schema(), inputPlans[1].Schema()})
			if err != nil {
				return nil, err
			}
			return plan.NewOpaquePlan("fuzzy_match", settings, schema, inputPlans)
		}),
	})
}
