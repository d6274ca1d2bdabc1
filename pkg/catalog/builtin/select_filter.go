package builtin

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/flowkit/fctl/pkg/catalog"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/plan"
	"github.com/flowkit/fctl/pkg/types"
)

// exprEnvFromSchema builds an expr-lang environment with one entry per
// input column, typed loosely as `any` since expr only needs the name set
// to resolve identifiers at compile time — the dataframe runtime on the
// worker side performs the real, typed evaluation.
func exprEnvFromSchema(schema types.Schema) map[string]interface{} {
	env := make(map[string]interface{}, len(schema))
	for _, col := range schema {
		env[col.Name] = nil
	}
	return env
}

func requireSingleInput(inputSchemas []types.Schema, kind string) (types.Schema, error) {
	if len(inputSchemas) != 1 {
		return nil, fmt.Errorf("%w: %s requires exactly one input, got %d", models.ErrGraphStruct, kind, len(inputSchemas))
	}
	return inputSchemas[0], nil
}

// RegisterFilter registers the "filter" transform node kind: a row
// predicate evaluated per row by the worker's runtime; the coordinator only
// validates the expression compiles and the output schema is unchanged.
func RegisterFilter(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "filter",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			predicate, err := sh.GetString(settings, "predicate")
			if err != nil {
				return []models.ValidationError{{Field: "predicate", Message: err.Error()}}
			}
			if _, err := expr.Compile(predicate); err != nil {
				return []models.ValidationError{{Field: "predicate", Message: err.Error()}}
			}
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
			return requireSingleInput(inputSchemas, "filter")
		}),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: filter requires exactly one input plan", models.ErrGraphStruct)
			}
			return plan.NewOpaquePlan("filter", settings, inputPlans[0].Schema(), inputPlans)
		}),
	})
}

// RegisterSelect registers the "select" transform node kind: a fixed,
// ordered column projection that fails if a configured column is absent.
func RegisterSelect(c *catalog.Catalog) error {
	selectSchema := func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
		input, err := requireSingleInput(inputSchemas, "select")
		if err != nil {
			return nil, err
		}
		columns, err := sh.GetStringSlice(settings, "columns")
		if err != nil {
			return nil, err
		}
		out := make(types.Schema, 0, len(columns))
		for _, name := range columns {
			col, ok := input.Column(name)
			if !ok {
				return nil, fmt.Errorf("%w: select references unknown column %q", models.ErrValidationFailed, name)
			}
			out = append(out, col)
		}
		return out, nil
	}

	return c.Register(catalog.NodeKind{
		ID:        "select",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			columns, err := sh.GetStringSlice(settings, "columns")
			if err != nil {
				return []models.ValidationError{{Field: "columns", Message: err.Error()}}
			}
			if len(columns) == 0 {
				return []models.ValidationError{{Field: "columns", Message: "at least one column is required"}}
			}
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(selectSchema),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: select requires exactly one input plan", models.ErrGraphStruct)
			}
			schema, err := selectSchema(settings, []types.Schema{inputPlans[0].Schema()})
			if err != nil {
				return nil, err
			}
			return plan.NewOpaquePlan("select", settings, schema, inputPlans)
		}),
	})
}

// RegisterSort registers the "sort" transform node kind: row reordering
// only, the output schema is unchanged. "by" is the ordered list of sort
// columns; the optional parallel "descending" bool list (spec.md §8
// Scenario 1's `sort(by=value desc)`) selects each column's direction by
// index — a shorter or absent list defaults the remaining columns to
// ascending.
func RegisterSort(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "sort",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			by, err := sh.GetStringSlice(settings, "by")
			if err != nil || len(by) == 0 {
				return []models.ValidationError{{Field: "by", Message: "at least one sort column is required"}}
			}
			if _, present := settings["descending"]; present {
				descending, err := sh.GetBoolSlice(settings, "descending")
				if err != nil {
					return []models.ValidationError{{Field: "descending", Message: err.Error()}}
				}
				if len(descending) > len(by) {
					return []models.ValidationError{{Field: "descending", Message: "descending must not have more entries than by"}}
				}
			}
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
			return requireSingleInput(inputSchemas, "sort")
		}),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: sort requires exactly one input plan", models.ErrGraphStruct)
			}
			return plan.NewOpaquePlan("sort", settings, inputPlans[0].Schema(), inputPlans)
		}),
	})
}

// RegisterUnique registers the "unique" transform node kind: row
// deduplication, optionally scoped to a column subset; schema is unchanged.
func RegisterUnique(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "unique",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
			return requireSingleInput(inputSchemas, "unique")
		}),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: unique requires exactly one input plan", models.ErrGraphStruct)
			}
			return plan.NewOpaquePlan("unique", settings, inputPlans[0].Schema(), inputPlans)
		}),
	})
}

// RegisterSample registers the "sample" transform node kind: a row subset
// (by count or fraction); schema is unchanged.
func RegisterSample(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "sample",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			_, hasN := settings["n"]
			_, hasFraction := settings["fraction"]
			if !hasN && !hasFraction {
				return []models.ValidationError{{Field: "n", Message: "either n or fraction is required"}}
			}
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
			return requireSingleInput(inputSchemas, "sample")
		}),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: sample requires exactly one input plan", models.ErrGraphStruct)
			}
			return plan.NewOpaquePlan("sample", settings, inputPlans[0].Schema(), inputPlans)
		}),
	})
}
