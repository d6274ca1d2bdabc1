package persistence

import "fmt"

// Migration upgrades a raw document (decoded generically, before the
// strict Document/DocumentNode binding) from one version to the next.
// Only a direct hook is applied: loading a "1.0" document when
// CurrentVersion is "2.0" needs a "1.0"->"2.0" hook; hooks are not chained
// through intermediate versions.
type Migration func(raw map[string]interface{}) (map[string]interface{}, error)

// MigrationRegistry holds hooks keyed by (from, to) version pairs.
type MigrationRegistry struct {
	hooks map[versionPair]Migration
}

type versionPair struct {
	from, to string
}

// NewMigrationRegistry builds an empty registry.
func NewMigrationRegistry() *MigrationRegistry {
	return &MigrationRegistry{hooks: make(map[versionPair]Migration)}
}

// Register adds a hook for the exact (from, to) version pair.
func (r *MigrationRegistry) Register(from, to string, m Migration) {
	r.hooks[versionPair{from, to}] = m
}

// Migrate applies the registered hook for (from, to) if one exists. A
// missing hook is an error: spec.md requires every version mismatch to
// either migrate or fail the load, never silently pass through.
func (r *MigrationRegistry) Migrate(from, to string, raw map[string]interface{}) (map[string]interface{}, error) {
	if from == to {
		return raw, nil
	}
	hook, ok := r.hooks[versionPair{from, to}]
	if !ok {
		return nil, fmt.Errorf("no migration registered for version %q -> %q", from, to)
	}
	return hook(raw)
}

// defaultRegistry is populated with the migrations this package ships
// with. Callers needing custom migrations construct their own
// MigrationRegistry and pass it to NewStore via WithMigrations.
func defaultRegistry() *MigrationRegistry {
	r := NewMigrationRegistry()
	// "1.0" predates flow_settings.execution_location and
	// output_field_config; both default safely (Local, disabled) so the
	// migration only needs to stamp the version forward.
	r.Register("1.0", CurrentVersion, func(raw map[string]interface{}) (map[string]interface{}, error) {
		raw["version"] = CurrentVersion
		if settings, ok := raw["flow_settings"].(map[string]interface{}); ok {
			if _, ok := settings["execution_location"]; !ok {
				settings["execution_location"] = "Local"
			}
		}
		return raw, nil
	})
	return r
}
