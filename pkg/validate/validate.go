// Package validate implements the Output-Field Validator (C9): a node's
// declarative contract on its output schema, applied to the worker's actual
// result after execution but before the Cache accepts it (spec §4.9).
package validate

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/flowkit/fctl/pkg/flowgraph"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/types"
)

// Apply enforces cfg against result and returns the validated result. A nil
// or disabled config is a no-op: the actual result passes through unchanged.
func Apply(cfg *flowgraph.OutputFieldConfig, result types.Result) (types.Result, error) {
	if cfg == nil || !cfg.Enabled {
		return result, nil
	}
	switch cfg.VMBehavior {
	case flowgraph.VMSelectOnly:
		return selectOnly(cfg, result)
	case flowgraph.VMAddMissing:
		return addMissing(cfg, result)
	case flowgraph.VMRaiseOnMissing:
		return raiseOnMissing(cfg, result)
	default:
		return types.Result{}, fmt.Errorf("%w: unknown vm_behavior %q", models.ErrValidationFailed, cfg.VMBehavior)
	}
}

// selectOnly keeps exactly the configured fields, in configured order,
// failing if any is absent; extra actual columns are dropped silently.
func selectOnly(cfg *flowgraph.OutputFieldConfig, result types.Result) (types.Result, error) {
	outSchema := make(types.Schema, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		col, ok := result.Schema.Column(f.Name)
		if !ok {
			return types.Result{}, fmt.Errorf("%w: select_only requires field %q, absent from actual schema", models.ErrValidationFailed, f.Name)
		}
		outSchema = append(outSchema, col)
	}

	outRows := make([]types.Row, len(result.Rows))
	for i, row := range result.Rows {
		nr := make(types.Row, len(cfg.Fields))
		for _, f := range cfg.Fields {
			nr[f.Name] = row[f.Name]
		}
		outRows[i] = nr
	}
	return types.Result{Schema: outSchema, Rows: outRows}, nil
}

// addMissing keeps every actual column and appends one column per
// configured field absent from the actual schema, populated by evaluating
// the field's default_expression per row.
func addMissing(cfg *flowgraph.OutputFieldConfig, result types.Result) (types.Result, error) {
	outSchema := result.Schema.Clone()

	var toAdd []flowgraph.OutputField
	compiled := make(map[string]*vm.Program)
	for _, f := range cfg.Fields {
		if outSchema.Has(f.Name) {
			continue
		}
		dt, err := types.ParseType(f.DataType)
		if err != nil {
			return types.Result{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		program, err := expr.Compile(f.DefaultExpr)
		if err != nil {
			return types.Result{}, fmt.Errorf("field %q default_expression: %w", f.Name, err)
		}
		outSchema = append(outSchema, types.NewColumn(f.Name, dt, true))
		toAdd = append(toAdd, f)
		compiled[f.Name] = program
	}

	outRows := make([]types.Row, len(result.Rows))
	for i, row := range result.Rows {
		nr := make(types.Row, len(row)+len(toAdd))
		for k, v := range row {
			nr[k] = v
		}
		for _, f := range toAdd {
			val, err := expr.Run(compiled[f.Name], map[string]interface{}(row))
			if err != nil {
				return types.Result{}, fmt.Errorf("evaluate default for %q: %w", f.Name, err)
			}
			nr[f.Name] = val
		}
		outRows[i] = nr
	}
	return types.Result{Schema: outSchema, Rows: outRows}, nil
}

// raiseOnMissing fails if any configured field is absent, or present with a
// type not assignable to the configured type per the registry's widening
// rules.
func raiseOnMissing(cfg *flowgraph.OutputFieldConfig, result types.Result) (types.Result, error) {
	for _, f := range cfg.Fields {
		col, ok := result.Schema.Column(f.Name)
		if !ok {
			return types.Result{}, fmt.Errorf("%w: raise_on_missing: field %q absent from actual schema", models.ErrValidationFailed, f.Name)
		}
		dt, err := types.ParseType(f.DataType)
		if err != nil {
			return types.Result{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if !types.IsAssignable(col.DataType, dt) {
			return types.Result{}, fmt.Errorf("%w: field %q has type %s, not assignable to %s",
				models.ErrValidationFailed, f.Name, types.FormatType(col.DataType), types.FormatType(dt))
		}
	}
	return result, nil
}
