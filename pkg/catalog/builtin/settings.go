// Package builtin registers the closed set of node kinds the catalog ships
// with (spec §3's NodeKind enumeration). One file groups each family of
// related kinds, following the teacher's pkg/executor/builtin layout: a
// register.go entry point plus one file per concern.
package builtin

import "fmt"

// settingsHelper mirrors the teacher's BaseExecutor config-access helpers
// (pkg/executor/executor.go), adapted from `any` node config to node
// settings maps.
type settingsHelper struct{}

func (settingsHelper) GetString(settings map[string]interface{}, key string) (string, error) {
	val, ok := settings[key]
	if !ok {
		return "", fmt.Errorf("field not found: %s", key)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("field %s is not a string", key)
	}
	return str, nil
}

func (settingsHelper) GetStringDefault(settings map[string]interface{}, key, def string) string {
	val, ok := settings[key]
	if !ok {
		return def
	}
	str, ok := val.(string)
	if !ok {
		return def
	}
	return str
}

func (settingsHelper) GetInt(settings map[string]interface{}, key string) (int, error) {
	val, ok := settings[key]
	if !ok {
		return 0, fmt.Errorf("field not found: %s", key)
	}
	switch v := val.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("field %s is not a number", key)
	}
}

func (settingsHelper) GetIntDefault(settings map[string]interface{}, key string, def int) int {
	val, ok := settings[key]
	if !ok {
		return def
	}
	switch v := val.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func (settingsHelper) GetBoolDefault(settings map[string]interface{}, key string, def bool) bool {
	val, ok := settings[key]
	if !ok {
		return def
	}
	b, ok := val.(bool)
	if !ok {
		return def
	}
	return b
}

func (settingsHelper) GetStringSlice(settings map[string]interface{}, key string) ([]string, error) {
	val, ok := settings[key]
	if !ok {
		return nil, fmt.Errorf("field not found: %s", key)
	}
	items, ok := val.([]interface{})
	if !ok {
		if strs, ok := val.([]string); ok {
			return strs, nil
		}
		return nil, fmt.Errorf("field %s is not a list", key)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fmt.Errorf("field %s must be a list of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func (settingsHelper) GetBoolSlice(settings map[string]interface{}, key string) ([]bool, error) {
	val, ok := settings[key]
	if !ok {
		return nil, nil
	}
	items, ok := val.([]interface{})
	if !ok {
		if bools, ok := val.([]bool); ok {
			return bools, nil
		}
		return nil, fmt.Errorf("field %s is not a list", key)
	}
	out := make([]bool, 0, len(items))
	for _, it := range items {
		b, ok := it.(bool)
		if !ok {
			return nil, fmt.Errorf("field %s must be a list of booleans", key)
		}
		out = append(out, b)
	}
	return out, nil
}

// GetMapSlice retrieves a list-of-maps setting (e.g. output field specs).
func (settingsHelper) GetMapSlice(settings map[string]interface{}, key string) ([]map[string]interface{}, error) {
	val, ok := settings[key]
	if !ok {
		return nil, fmt.Errorf("field not found: %s", key)
	}
	items, ok := val.([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %s is not a list", key)
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %s must be a list of objects", key)
		}
		out = append(out, m)
	}
	return out, nil
}

var sh = settingsHelper{}
