package builtin

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/flowkit/fctl/pkg/catalog"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/plan"
	"github.com/flowkit/fctl/pkg/types"
)

func formulaSchema(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
	input, err := requireSingleInput(inputSchemas, "formula")
	if err != nil {
		return nil, err
	}
	formulas, err := sh.GetMapSlice(settings, "formulas")
	if err != nil {
		return nil, err
	}
	out := input.Clone()
	for i, f := range formulas {
		name, _ := f["name"].(string)
		typeName, _ := f["data_type"].(string)
		if name == "" {
			return nil, fmt.Errorf("%w: formulas[%d].name is required", models.ErrValidationFailed, i)
		}
		if typeName == "" {
			typeName = "Float64"
		}
		dt, err := types.ParseType(typeName)
		if err != nil {
			return nil, fmt.Errorf("%w: formulas[%d].data_type: %s", models.ErrValidationFailed, i, err)
		}
		if out.Has(name) {
			// Redefining an existing column narrows rather than appends.
			for j, col := range out {
				if col.Name == name {
					out[j] = types.NewColumn(name, dt, true)
				}
			}
			continue
		}
		out = append(out, types.NewColumn(name, dt, true))
	}
	return out, nil
}

// RegisterFormula registers the "formula" transform node kind: one or more
// named columns computed by an expr-lang expression (the closest available
// stand-in for the source's user-formula evaluator; the worker's runtime
// does the real typed evaluation, this package only validates expressions
// parse against the input column names).
func RegisterFormula(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "formula",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			formulas, err := sh.GetMapSlice(settings, "formulas")
			if err != nil || len(formulas) == 0 {
				return []models.ValidationError{{Field: "formulas", Message: "at least one formula is required"}}
			}
			var errs []models.ValidationError
			for i, f := range formulas {
				expression, _ := f["expression"].(string)
				if expression == "" {
					errs = append(errs, models.ValidationError{Field: fmt.Sprintf("formulas[%d].expression", i), Message: "expression is required"})
					continue
				}
				if _, err := expr.Compile(expression); err != nil {
					errs = append(errs, models.ValidationError{Field: fmt.Sprintf("formulas[%d].expression", i), Message: err.Error()})
				}
			}
			return errs
		}),
		Schema: catalog.SchemaCallbackFunc(formulaSchema),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: formula requires exactly one input plan", models.ErrGraphStruct)
			}
			schema, err := formulaSchema(settings, []types.Schema{inputPlans[0].Schema()})
			if err != nil {
				return nil, err
			}
			return plan.NewOpaquePlan("formula", settings, schema, inputPlans)
		}),
	})
}

// RegisterRecordID registers the "record_id" transform node kind: appends
// a monotonic Int64 identifier column.
func RegisterRecordID(c *catalog.Catalog) error {
	recordIDSchema := func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
		input, err := requireSingleInput(inputSchemas, "record_id")
		if err != nil {
			return nil, err
		}
		name := sh.GetStringDefault(settings, "name", "record_id")
		if input.Has(name) {
			return nil, fmt.Errorf("%w: record_id column %q already exists in input", models.ErrValidationFailed, name)
		}
		out := input.Clone()
		out = append(out, types.NewColumn(name, types.Int64, false))
		return out, nil
	}

	return c.Register(catalog.NodeKind{
		ID:        "record_id",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(recordIDSchema),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: record_id requires exactly one input plan", models.ErrGraphStruct)
			}
			schema, err := recordIDSchema(settings, []types.Schema{inputPlans[0].Schema()})
			if err != nil {
				return nil, err
			}
			return plan.NewOpaquePlan("record_id", settings, schema, inputPlans)
		}),
	})
}

// RegisterTextToRows registers the "text_to_rows" transform node kind:
// explodes a delimited string column into one row per element. Column set
// is unchanged; only row count changes.
func RegisterTextToRows(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "text_to_rows",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			if _, err := sh.GetString(settings, "column"); err != nil {
				return []models.ValidationError{{Field: "column", Message: err.Error()}}
			}
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
			input, err := requireSingleInput(inputSchemas, "text_to_rows")
			if err != nil {
				return nil, err
			}
			column, _ := sh.GetString(settings, "column")
			if !input.Has(column) {
				return nil, fmt.Errorf("%w: text_to_rows references unknown column %q", models.ErrValidationFailed, column)
			}
			return input, nil
		}),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: text_to_rows requires exactly one input plan", models.ErrGraphStruct)
			}
			return plan.NewOpaquePlan("text_to_rows", settings, inputPlans[0].Schema(), inputPlans)
		}),
	})
}

// RegisterPolarsCode registers the "polars_code" escape-hatch node kind:
// user-authored code whose output schema cannot be inferred statically.
// Per spec §4.2, a custom-code kind "falls back to a sandboxed evaluator
// that produces both a predicted schema ... and a plan"; lacking an
// embedded dataframe runtime, the declared "output_schema" setting plays
// the role of that dry run's result, and expr-lang (the only embedded
// expression evaluator in the stack) validates that the code at least
// parses as an expression pipeline.
func RegisterPolarsCode(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "polars_code",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryTransform,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			var errs []models.ValidationError
			code, err := sh.GetString(settings, "code")
			if err != nil {
				errs = append(errs, models.ValidationError{Field: "code", Message: err.Error()})
			} else if _, cerr := expr.Compile(code); cerr != nil {
				errs = append(errs, models.ValidationError{Field: "code", Message: cerr.Error()})
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
				return nil, fmt.Errorf("%w: polars_code requires exactly one input plan", models.ErrGraphStruct)
			}
			schema, errs := columnsFromSettings(settings, "output_schema")
			if len(errs) > 0 {
				return nil, fmt.Errorf("%w: %s", models.ErrValidationFailed, errs[0].Error())
			}
			return plan.NewOpaquePlan("polars_code", settings, schema, inputPlans)
		}),
	})
}
