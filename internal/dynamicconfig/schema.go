package dynamicconfig

import (
	"fmt"
	"strings"

	"github.com/niyusum/luminescence-sub000/internal/errors"
)

// FieldSpec is either a concrete Go type (string, float64, bool, []any, ...)
// checked with a type assertion, or a nested *Schema for recursive
// validation — mirroring the original's SchemaField = type | ConfigSchema
// union (src/core/config/validator.py).
type FieldSpec any

// Schema describes the shape of one configuration namespace. Fields absent
// from a value are allowed (sparse overlays are normal — a YAML file only
// sets the keys it cares about); AllowExtra controls whether unrecognized
// keys are rejected.
type Schema struct {
	Fields     map[string]FieldSpec
	AllowExtra bool
}

// Validate checks value (expected to be a map[string]any) against s,
// returning a ConfigValidation domain error with a dotted path on the
// first (or combined, for unknown keys) mismatch.
func (s *Schema) Validate(value any, path string) error {
	m, ok := value.(map[string]any)
	if !ok {
		return errors.ConfigValidation(pathOrRoot(path), "expected an object")
	}

	for key, spec := range s.Fields {
		raw, present := m[key]
		if !present {
			continue // sparse config is allowed
		}
		fullPath := joinPath(path, key)

		if nested, ok := spec.(*Schema); ok {
			if err := nested.Validate(raw, fullPath); err != nil {
				return err
			}
			continue
		}

		if err := checkType(spec, raw, fullPath); err != nil {
			return err
		}
	}

	if !s.AllowExtra {
		var unknown []string
		for key := range m {
			if _, known := s.Fields[key]; !known {
				unknown = append(unknown, key)
			}
		}
		if len(unknown) > 0 {
			return errors.ConfigValidation(pathOrRoot(path),
				fmt.Sprintf("unknown keys: %s", strings.Join(unknown, ", ")))
		}
	}
	return nil
}

func checkType(spec FieldSpec, raw any, fullPath string) error {
	switch expected := spec.(type) {
	case float64:
		if _, ok := raw.(int); ok {
			return nil // int -> float coercion, matching the original validator
		}
		if _, ok := raw.(float64); !ok {
			return errors.ConfigValidation(fullPath, fmt.Sprintf("expected float64, got %T", raw))
		}
	case string:
		if _, ok := raw.(string); !ok {
			return errors.ConfigValidation(fullPath, fmt.Sprintf("expected string, got %T", raw))
		}
	case bool:
		if _, ok := raw.(bool); !ok {
			return errors.ConfigValidation(fullPath, fmt.Sprintf("expected bool, got %T", raw))
		}
	case int:
		if _, ok := raw.(int); !ok {
			return errors.ConfigValidation(fullPath, fmt.Sprintf("expected int, got %T", raw))
		}
	case []any:
		if _, ok := raw.([]any); !ok {
			return errors.ConfigValidation(fullPath, fmt.Sprintf("expected list, got %T", raw))
		}
	default:
		_ = expected
	}
	return nil
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func pathOrRoot(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
