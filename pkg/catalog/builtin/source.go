package builtin

import (
	"fmt"

	"github.com/flowkit/fctl/pkg/catalog"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/plan"
	"github.com/flowkit/fctl/pkg/types"
)

// columnsFromSettings decodes a "columns" setting — a list of
// {name, data_type, nullable?} maps — into a Schema. Shared by every kind
// that declares its output schema explicitly rather than deriving it from
// inputs (read, polars_code, graph_solver).
func columnsFromSettings(settings map[string]interface{}, key string) (types.Schema, []models.ValidationError) {
	raw, err := sh.GetMapSlice(settings, key)
	if err != nil {
		return nil, []models.ValidationError{{Field: key, Message: err.Error()}}
	}
	var errs []models.ValidationError
	schema := make(types.Schema, 0, len(raw))
	for i, col := range raw {
		name, _ := col["name"].(string)
		typeName, _ := col["data_type"].(string)
		nullable, _ := col["nullable"].(bool)
		if name == "" {
			errs = append(errs, models.ValidationError{Field: fmt.Sprintf("%s[%d].name", key, i), Message: "column name is required"})
			continue
		}
		dt, err := types.ParseType(typeName)
		if err != nil {
			errs = append(errs, models.ValidationError{Field: fmt.Sprintf("%s[%d].data_type", key, i), Message: err.Error()})
			continue
		}
		schema = append(schema, types.NewColumn(name, dt, nullable))
	}
	if err := schema.Validate(); err != nil {
		errs = append(errs, models.ValidationError{Field: key, Message: err.Error()})
	}
	return schema, errs
}

// RegisterRead registers the "read" source node kind: no inputs, an
// explicitly declared output schema (spec scenario 1's
// `read(csv "a.csv", columns [id:Int64, ...])`).
func RegisterRead(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "read",
		MinInputs: 0,
		MaxInputs: 0,
		Outputs:   1,
		Category:  catalog.CategorySource,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			var errs []models.ValidationError
			if _, err := sh.GetString(settings, "path"); err != nil {
				errs = append(errs, models.ValidationError{Field: "path", Message: err.Error()})
			}
			_, colErrs := columnsFromSettings(settings, "columns")
			errs = append(errs, colErrs...)
			return errs
		}),
		Schema: catalog.SchemaCallbackFunc(func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
			schema, errs := columnsFromSettings(settings, "columns")
			if len(errs) > 0 {
				return nil, fmt.Errorf("%w: %s", models.ErrValidationFailed, errs[0].Error())
			}
			return schema, nil
		}),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			schema, errs := columnsFromSettings(settings, "columns")
			if len(errs) > 0 {
				return nil, fmt.Errorf("%w: %s", models.ErrValidationFailed, errs[0].Error())
			}
			return plan.NewOpaquePlan("read", settings, schema, nil)
		}),
	})
}
