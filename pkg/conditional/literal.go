// Package conditional evaluates step conditions against the accumulated state of a run.
package conditional

import (
	"fmt"
	"strconv"
	"strings"
)

// literal resolves conditions that need no expression engine: empty strings and
// boolean literals. ok is false when expr must be handed to the compiler.
func literal(expr string) (value bool, ok bool) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return true, true
	}

	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return false, false
	}

	return parsed, true
}

// truthy converts a CEL result into a boolean.
func truthy(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	case string:
		if v == "" {
			return false, nil
		}

		result, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", v, err)
		}

		return result, nil
	case int64:
		return v != 0, nil
	case uint64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
}
