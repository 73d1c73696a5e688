package models

// CloneValue deep-copies a generic value tree made of maps, slices and
// scalars. Byte slices are copied; other scalars are returned as-is.
func CloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}
