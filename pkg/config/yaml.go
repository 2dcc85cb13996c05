package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// decodeYAML parses raw as YAML and normalizes the result to the same
// map[string]any / json.Number shape decodeStrictJSON produces, so
// deepMergeDeterministic and canonicalJSON treat a YAML layer identically to
// a JSON layer regardless of which one a tier's file happens to use.
func decodeYAML(raw []byte) (map[string]any, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedYAML, err)
	}
	if v == nil {
		return map[string]any{}, nil
	}
	norm, err := normalizeYAMLValue(v)
	if err != nil {
		return nil, err
	}
	m, ok := norm.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}

// normalizeYAMLValue walks a yaml.v3-decoded value tree, converting it to the
// types decodeStrictJSON would have produced: map[string]any keys (yaml.v3
// already decodes mapping nodes this way when the target is `any`, unlike
// yaml.v2's map[interface{}]interface{}), []any for sequences, and
// json.Number for numeric scalars so canonicalJSON's number handling stays
// format-agnostic.
func normalizeYAMLValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			nv, err := normalizeYAMLValue(val)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string map key %v", ErrUnsupportedYAML, k)
			}
			nv, err := normalizeYAMLValue(val)
			if err != nil {
				return nil, err
			}
			out[ks] = nv
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(x))
		for _, val := range x {
			nv, err := normalizeYAMLValue(val)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	case int:
		return json.Number(fmt.Sprintf("%d", x)), nil
	case int64:
		return json.Number(fmt.Sprintf("%d", x)), nil
	case uint64:
		return json.Number(fmt.Sprintf("%d", x)), nil
	case float64:
		return json.Number(fmt.Sprintf("%v", x)), nil
	default:
		// string, bool, nil pass through unchanged.
		return x, nil
	}
}
