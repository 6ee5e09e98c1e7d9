package variables

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/rendis/rigflow/pkg/schema"
)

// Coerce converts v to the Go representation of t: string, int64, float64,
// bool, time.Time, or the value itself for Object.
func Coerce(t schema.VariableType, v any) (any, error) {
	if s, ok := v.(string); ok && t != schema.VariableTypeString && t != schema.VariableTypeObject {
		v = strings.TrimSpace(s)
	}
	switch t {
	case schema.VariableTypeString:
		return cast.ToStringE(v)
	case schema.VariableTypeInteger:
		if s, ok := v.(string); ok {
			return parseInteger(s)
		}
		if f, ok := v.(float64); ok && f != float64(int64(f)) {
			return nil, fmt.Errorf("%v is not an integer", v)
		}
		n, err := cast.ToInt64E(v)
		if err != nil {
			// Accept "12.0" style text for integers.
			if f, ferr := cast.ToFloat64E(v); ferr == nil && f == float64(int64(f)) {
				return int64(f), nil
			}
			return nil, err
		}
		return n, nil
	case schema.VariableTypeDouble:
		return cast.ToFloat64E(v)
	case schema.VariableTypeBoolean:
		return cast.ToBoolE(v)
	case schema.VariableTypeDateTime:
		tm, err := cast.ToTimeE(v)
		if err != nil {
			return nil, err
		}
		return tm.UTC(), nil
	case schema.VariableTypeObject:
		return deepCopy(v), nil
	default:
		return nil, fmt.Errorf("unknown variable type %q", t)
	}
}

// parseInteger reads decimal text only; "010" is ten and "0x1F" is rejected.
// Whole-number text such as "12.0" is accepted.
func parseInteger(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) || strings.ContainsAny(s, "xXpP") {
		return 0, fmt.Errorf("%q is not a decimal integer", s)
	}
	return int64(f), nil
}

// InferType picks a variable type for a value that has none declared.
func InferType(v any) schema.VariableType {
	switch val := v.(type) {
	case string:
		return schema.VariableTypeString
	case bool:
		return schema.VariableTypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return schema.VariableTypeInteger
	case float32:
		return schema.VariableTypeDouble
	case float64:
		if val == float64(int64(val)) && val < 1e15 && val > -1e15 {
			return schema.VariableTypeInteger
		}
		return schema.VariableTypeDouble
	case time.Time:
		return schema.VariableTypeDateTime
	default:
		return schema.VariableTypeObject
	}
}

// DisplayText renders a coerced value for operators.
func DisplayText(t schema.VariableType, v any) string {
	if v == nil {
		return ""
	}
	switch t {
	case schema.VariableTypeDateTime:
		if tm, ok := v.(time.Time); ok {
			return tm.Format(time.RFC3339)
		}
	case schema.VariableTypeDouble:
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	case schema.VariableTypeObject:
		raw, err := json.Marshal(v)
		if err == nil {
			return string(raw)
		}
	}
	return cast.ToString(v)
}

// deepCopy recursively copies maps and slices; scalars are returned as is.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, item := range val {
			cp[k] = deepCopy(item)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopy(item)
		}
		return cp
	default:
		return v
	}
}

func copyVariable(v *schema.Variable) schema.Variable {
	out := *v
	out.Value = deepCopy(v.Value)
	if v.History != nil {
		out.History = make([]schema.HistoryEntry, len(v.History))
		for i, h := range v.History {
			h.OldValue = deepCopy(h.OldValue)
			h.NewValue = deepCopy(h.NewValue)
			out.History[i] = h
		}
	}
	return out
}
