// Package runtime provides the worker's default, minimal implementation of
// the "opaque lazy query engine" the coordinator never inspects (spec.md
// §1 lists the dataframe runtime itself as out of scope — it treats it as
// a black box reached only through plan_blob). This package is that black
// box's simplest possible tenant: it understands the JSON envelope
// pkg/plan.NewOpaquePlan emits ({op, settings, inputs}) well enough to
// execute the read/filter/select/sort/unique/sample node kinds over CSV
// files, so the worker protocol (C8) has something real to submit,
// execute, and sample against in tests and local development. A
// production deployment swaps this for an actual columnar engine behind
// the same Runtime interface.
package runtime

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/expr-lang/expr"

	"github.com/flowkit/fctl/pkg/types"
)

// Runtime executes an opaque plan blob into a materialized result. The
// worker server depends on this interface, not a concrete engine.
type Runtime interface {
	Run(ctx context.Context, planBlob []byte) (types.Schema, []types.Row, error)
}

// envelope mirrors pkg/plan's wire shape; duplicated here rather than
// imported because this package must stay ignorant of pkg/plan's LazyPlan
// abstraction — it only ever sees the bytes the coordinator already
// treats as opaque.
type envelope struct {
	Op       string                 `json:"op"`
	Settings map[string]interface{} `json:"settings"`
	Inputs   []json.RawMessage      `json:"inputs"`
}

// Engine is the reference Runtime. It is intentionally small: enough node
// kinds to exercise the worker protocol end to end, not a general-purpose
// dataframe engine.
type Engine struct{}

// NewEngine constructs the reference runtime.
func NewEngine() *Engine { return &Engine{} }

// Run decodes and recursively evaluates the envelope tree.
func (e *Engine) Run(ctx context.Context, planBlob []byte) (types.Schema, []types.Row, error) {
	return e.eval(ctx, planBlob)
}

func (e *Engine) eval(ctx context.Context, blob []byte) (types.Schema, []types.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, nil, fmt.Errorf("decode plan envelope: %w", err)
	}

	inputs := make([]struct {
		schema types.Schema
		rows   []types.Row
	}, len(env.Inputs))
	for i, raw := range env.Inputs {
		schema, rows, err := e.eval(ctx, raw)
		if err != nil {
			return nil, nil, err
		}
		inputs[i].schema = schema
		inputs[i].rows = rows
	}

	switch env.Op {
	case "read":
		return readCSV(env.Settings)
	case "filter":
		return filterRows(env.Settings, inputs[0].schema, inputs[0].rows)
	case "select":
		return selectColumns(env.Settings, inputs[0].schema, inputs[0].rows)
	case "sort":
		return sortRows(env.Settings, inputs[0].schema, inputs[0].rows)
	case "unique":
		return uniqueRows(env.Settings, inputs[0].schema, inputs[0].rows)
	case "sample":
		return sampleRows(env.Settings, inputs[0].schema, inputs[0].rows)
	default:
		// Every other node kind is treated as a structural pass-through of
		// its first input; kinds whose settings genuinely change row
		// shape (join, group_by, pivot, ...) belong to the real engine
		// this reference implementation stands in for.
		if len(inputs) == 0 {
			return nil, nil, fmt.Errorf("reference runtime: unsupported source op %q", env.Op)
		}
		return inputs[0].schema, inputs[0].rows, nil
	}
}

func readCSV(settings map[string]interface{}) (types.Schema, []types.Row, error) {
	path, _ := settings["path"].(string)
	schema, err := columnsFromSettings(settings)
	if err != nil {
		return nil, nil, err
	}
	if path == "" {
		return schema, nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return schema, nil, nil
	}

	var rows []types.Row
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		row := make(types.Row, len(header))
		for i, col := range header {
			if i >= len(record) {
				continue
			}
			row[col] = coerce(schema, col, record[i])
		}
		rows = append(rows, row)
	}
	return schema, rows, nil
}

func coerce(schema types.Schema, name, raw string) interface{} {
	col, ok := schema.Column(name)
	if !ok {
		return raw
	}
	switch col.DataType.Kind {
	case types.KindInt8, types.KindInt16, types.KindInt32, types.KindInt64,
		types.KindUInt8, types.KindUInt16, types.KindUInt32, types.KindUInt64:
		var i int64
		if _, err := fmt.Sscanf(raw, "%d", &i); err == nil {
			return i
		}
	case types.KindFloat32, types.KindFloat64:
		var f float64
		if _, err := fmt.Sscanf(raw, "%g", &f); err == nil {
			return f
		}
	case types.KindBoolean:
		return raw == "true" || raw == "1"
	}
	return raw
}

func columnsFromSettings(settings map[string]interface{}) (types.Schema, error) {
	raw, ok := settings["columns"].([]interface{})
	if !ok {
		return nil, nil
	}
	schema := make(types.Schema, 0, len(raw))
	for _, c := range raw {
		m, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		typeName, _ := m["data_type"].(string)
		nullable, _ := m["nullable"].(bool)
		dt, err := types.ParseType(typeName)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		schema = append(schema, types.NewColumn(name, dt, nullable))
	}
	return schema, nil
}

func filterRows(settings map[string]interface{}, schema types.Schema, rows []types.Row) (types.Schema, []types.Row, error) {
	predicate, _ := settings["predicate"].(string)
	program, err := expr.Compile(predicate)
	if err != nil {
		return nil, nil, fmt.Errorf("compile predicate: %w", err)
	}
	out := make([]types.Row, 0, len(rows))
	for _, row := range rows {
		env := make(map[string]interface{}, len(row))
		for k, v := range row {
			env[k] = v
		}
		result, err := expr.Run(program, env)
		if err != nil {
			return nil, nil, fmt.Errorf("evaluate predicate: %w", err)
		}
		if keep, _ := result.(bool); keep {
			out = append(out, row)
		}
	}
	return schema, out, nil
}

func selectColumns(settings map[string]interface{}, schema types.Schema, rows []types.Row) (types.Schema, []types.Row, error) {
	raw, _ := settings["columns"].([]interface{})
	names := make([]string, 0, len(raw))
	for _, c := range raw {
		if s, ok := c.(string); ok {
			names = append(names, s)
		}
	}
	out := make(types.Schema, 0, len(names))
	for _, name := range names {
		col, ok := schema.Column(name)
		if !ok {
			return nil, nil, fmt.Errorf("select: unknown column %q", name)
		}
		out = append(out, col)
	}
	outRows := make([]types.Row, len(rows))
	for i, row := range rows {
		nr := make(types.Row, len(names))
		for _, name := range names {
			nr[name] = row[name]
		}
		outRows[i] = nr
	}
	return out, outRows, nil
}

func sortRows(settings map[string]interface{}, schema types.Schema, rows []types.Row) (types.Schema, []types.Row, error) {
	raw, _ := settings["by"].([]interface{})
	by := make([]string, 0, len(raw))
	for _, c := range raw {
		if s, ok := c.(string); ok {
			by = append(by, s)
		}
	}
	descending := sortDirections(settings, len(by))

	out := make([]types.Row, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		for k, col := range by {
			vi, vj := fmt.Sprint(out[i][col]), fmt.Sprint(out[j][col])
			if vi == vj {
				continue
			}
			if descending[k] {
				return vi > vj
			}
			return vi < vj
		}
		return false
	})
	return schema, out, nil
}

// sortDirections reads the "descending" setting into a fixed-length bool
// slice aligned with "by" by index; entries beyond the provided list (or
// the whole list, if absent) default to ascending.
func sortDirections(settings map[string]interface{}, n int) []bool {
	out := make([]bool, n)
	raw, _ := settings["descending"].([]interface{})
	for i, v := range raw {
		if i >= n {
			break
		}
		if b, ok := v.(bool); ok {
			out[i] = b
		}
	}
	return out
}

func uniqueRows(settings map[string]interface{}, schema types.Schema, rows []types.Row) (types.Schema, []types.Row, error) {
	seen := make(map[string]struct{}, len(rows))
	out := make([]types.Row, 0, len(rows))
	for _, row := range rows {
		key := fmt.Sprint(row)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return schema, out, nil
}

func sampleRows(settings map[string]interface{}, schema types.Schema, rows []types.Row) (types.Schema, []types.Row, error) {
	n := len(rows)
	if raw, ok := settings["n"]; ok {
		if f, ok := raw.(float64); ok {
			n = int(f)
		}
	}
	if n > len(rows) {
		n = len(rows)
	}
	return schema, rows[:n], nil
}
