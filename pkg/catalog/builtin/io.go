package builtin

import (
	"fmt"

	"github.com/flowkit/fctl/pkg/catalog"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/plan"
	"github.com/flowkit/fctl/pkg/types"
)

// RegisterWrite registers the "write" output node kind. It forwards its
// input unchanged downstream — write is not transactional (spec §7: a
// partially written output on failure is not rolled back) and exists
// primarily for its side effect on an external destination.
func RegisterWrite(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "write",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryOutput,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			var errs []models.ValidationError
			if _, err := sh.GetString(settings, "path"); err != nil {
				errs = append(errs, models.ValidationError{Field: "path", Message: err.Error()})
			}
			if _, err := sh.GetString(settings, "format"); err != nil {
				errs = append(errs, models.ValidationError{Field: "format", Message: err.Error()})
			}
			return errs
		}),
		Schema: catalog.SchemaCallbackFunc(func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
			return requireSingleInput(inputSchemas, "write")
		}),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: write requires exactly one input plan", models.ErrGraphStruct)
			}
			return plan.NewOpaquePlan("write", settings, inputPlans[0].Schema(), inputPlans)
		}),
	})
}

// RegisterExplore registers the "explore" node kind: a no-op passthrough
// used purely to request materialization and sampling of an intermediate
// result for interactive preview (always treated like a terminal target in
// Development mode).
func RegisterExplore(c *catalog.Catalog) error {
	return c.Register(catalog.NodeKind{
		ID:        "explore",
		MinInputs: 1,
		MaxInputs: 1,
		Outputs:   1,
		Category:  catalog.CategoryOutput,
		Validator: catalog.SettingsValidatorFunc(func(settings map[string]interface{}) []models.ValidationError {
			return nil
		}),
		Schema: catalog.SchemaCallbackFunc(func(settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error) {
			return requireSingleInput(inputSchemas, "explore")
		}),
		PlanBuilder: catalog.PlanBuilderFunc(func(settings map[string]interface{}, inputPlans []plan.LazyPlan, rctx plan.RuntimeContext) (plan.LazyPlan, error) {
			if len(inputPlans) != 1 {
				return nil, fmt.Errorf("%w: explore requires exactly one input plan", models.ErrGraphStruct)
			}
			return plan.NewOpaquePlan("explore", settings, inputPlans[0].Schema(), inputPlans)
		}),
	})
}
