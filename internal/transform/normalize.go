package transform

import (
	"fmt"
	"strings"

	"github.com/webylead/leadrelay/internal/domain"
)

// internalPrefix marks intake-source bookkeeping keys that never reach
// endpoints (tokens, honeypots).
const internalPrefix = "__"

// Normalize converts a raw intake record into canonical fields. Intake
// sources deliver loosely-typed data: values may be scalars or lists, and
// the whole record may be wrapped in a "data" container. Keys with the
// internal prefix are dropped.
func Normalize(raw map[string]any) domain.Fields {
	if inner, ok := raw["data"].(map[string]any); ok {
		raw = inner
	}

	fields := make(domain.Fields, len(raw))
	for key, value := range raw {
		if strings.HasPrefix(key, internalPrefix) {
			continue
		}
		fields[key] = coerce(value)
	}
	return fields
}

func coerce(value any) domain.Value {
	switch v := value.(type) {
	case nil:
		return domain.String("")
	case string:
		return domain.String(v)
	case []string:
		return domain.List(v...)
	case []any:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = scalarString(item)
		}
		return domain.List(items...)
	default:
		return domain.String(scalarString(v))
	}
}

func scalarString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case float64:
		// JSON numbers decode as float64; render integers without a
		// trailing ".0" so numeric form fields survive intact.
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%v", s)
	default:
		return fmt.Sprintf("%v", s)
	}
}
