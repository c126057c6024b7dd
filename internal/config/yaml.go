package config

import (
	"encoding/json"
	"fmt"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes converts YAML input into JSON bytes so the single strict
// JSON decoder can own field validation regardless of the on-disk format.
func coerceToJSONBytes(raw []byte) ([]byte, error) {
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	tree = normalizeYAML(tree)
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode yaml tree: %w", err)
	}
	return out, nil
}

// normalizeYAML rewrites map[any]any nodes (legacy yaml decoders) into
// map[string]any so json.Marshal accepts the tree.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return m
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}
