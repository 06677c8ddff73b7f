// Package confmap merges nested configuration trees as decoded from YAML.
package confmap

// Merge returns a new tree equal to a with every key of b overlaid.
// When a key holds a mapping on both sides the merge recurses, otherwise
// b's value wins, even when the types differ. Neither input is mutated;
// nested containers are copied into the result.
func Merge(a, b map[string]any) map[string]any {
	result := make(map[string]any, len(a)+len(b))
	for key, value := range a {
		result[key] = deepCopy(value)
	}

	for key, value := range b {
		existing, ok := result[key]
		if ok {
			existingMap, existingIsMap := existing.(map[string]any)
			overlayMap, overlayIsMap := value.(map[string]any)
			if existingIsMap && overlayIsMap {
				result[key] = Merge(existingMap, overlayMap)
				continue
			}
		}
		result[key] = deepCopy(value)
	}

	return result
}

// Clone returns a deep copy of m. Callers use it to build per-iteration
// variable scaffolds that must not alias each other.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	result := make(map[string]any, len(m))
	for key, value := range m {
		result[key] = deepCopy(value)
	}
	return result
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, item := range v {
			result[key] = deepCopy(item)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = deepCopy(item)
		}
		return result
	case []string:
		result := make([]string, len(v))
		copy(result, v)
		return result
	default:
		// scalars are immutable
		return value
	}
}
