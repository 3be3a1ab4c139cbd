package dynamicconfig

import "strings"

// lookupDotPath walks a "a.b.c"-style path through nested
// map[string]any values, mirroring ConfigManager.get()'s dict-walk.
func lookupDotPath(tree map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = tree
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, present := m[part]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// setDotPath writes value at the dot-path location in tree, creating
// intermediate maps as needed, mirroring ConfigManager.set()'s nested
// value construction for multi-segment keys.
func setDotPath(tree map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := tree
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
}

// deepMerge overlays src onto dst in place, recursing into shared nested
// maps and otherwise letting src win — the same "later file wins" rule the
// original's recursive glob load relies on.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// normalizeYAMLMap converts a yaml.v3-decoded map (which may nest
// map[string]interface{} already, but defends against map[any]any leaking
// in from older-style documents) into the plain map[string]any tree the
// rest of this package assumes.
func normalizeYAMLMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeYAMLMap(val)
	case map[any]any:
		converted := make(map[string]any, len(val))
		for k, vv := range val {
			converted[toString(k)] = normalizeYAMLValue(vv)
		}
		return converted
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeYAMLValue(vv)
		}
		return out
	default:
		return v
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
