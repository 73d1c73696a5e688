package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Undefined is what an unresolved path stringifies to in search mode.
const Undefined = "undefined"

// Resolve walks v along a dot-separated path. Numeric segments index into
// sequences and are also tried as map keys; other segments only index
// maps. The second result is false when any segment is missing.
func Resolve(v interface{}, path string) (interface{}, bool) {
	if path == "" {
		return v, true
	}
	return resolve(v, strings.Split(path, "."))
}

func resolve(v interface{}, segments []string) (interface{}, bool) {
	if len(segments) == 0 {
		return v, true
	}

	seg := segments[0]
	if seg == "" {
		return nil, false
	}

	switch t := v.(type) {
	case map[string]interface{}:
		next, ok := t[seg]
		if !ok {
			return nil, false
		}
		return resolve(next, segments[1:])
	case []interface{}:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(t) {
			return nil, false
		}
		return resolve(t[idx], segments[1:])
	default:
		return nil, false
	}
}

// Stringify renders a resolved value as plain text for pattern matching.
// Scalars render as their literal text and composites as compact JSON.
func Stringify(v interface{}, present bool) string {
	if !present {
		return Undefined
	}

	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
