package builtin

import "github.com/flowkit/fctl/pkg/catalog"

// RegisterBuiltins registers the closed catalog of node kinds described in
// spec §3: read, filter, select, sort, unique, sample, join, cross_join,
// union, group_by, pivot, unpivot, formula, record_id, text_to_rows,
// polars_code, graph_solver, fuzzy_match, write, explore.
func RegisterBuiltins(c *catalog.Catalog) error {
	registrars := []func(*catalog.Catalog) error{
		RegisterRead,
		RegisterFilter,
		RegisterSelect,
		RegisterSort,
		RegisterUnique,
		RegisterSample,
		RegisterJoin,
		RegisterCrossJoin,
		RegisterUnion,
		RegisterGroupBy,
		RegisterPivot,
		RegisterUnpivot,
		RegisterFormula,
		RegisterRecordID,
		RegisterTextToRows,
		RegisterPolarsCode,
		RegisterGraphSolver,
		RegisterFuzzyMatch,
		RegisterWrite,
		RegisterExplore,
	}

	for _, register := range registrars {
		if err := register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegisterBuiltins registers the built-in catalog and panics on error;
// a convenience for process initialization code (cmd/coordinator, cmd/worker).
func MustRegisterBuiltins(c *catalog.Catalog) {
	if err := RegisterBuiltins(c); err != nil {
		panic("failed to register built-in node kinds: " + err.Error())
	}
}
