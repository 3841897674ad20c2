package queryir

import (
	"fmt"
	"sort"
	"time"
)

// canonLiteral renders a literal value into a stable textual form. Times
// are normalized to a UTC millisecond instant so that two time.Time values
// representing the same instant (even as distinct objects, with distinct
// monotonic readings or locations) fingerprint identically.
func canonLiteral(v any) string {
	switch t := v.(type) {
	case time.Time:
		return "t:" + fmt.Sprintf("%d", t.UTC().UnixMilli())
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = canonLiteral(e)
		}
		return "list:[" + joinComma(parts) + "]"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// InstantMillis extracts a comparable millisecond instant from a
// time.Time literal value. ok is false for every other dynamic type
// (e.g. []any, nil).
func InstantMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().UnixMilli(), true
	default:
		return 0, false
	}
}

// NumericValue extracts a float64 for comparison purposes, covering every
// integer/float width plus time.Time (compared by millisecond instant).
func NumericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case time.Time:
		return float64(t.UTC().UnixMilli()), true
	default:
		return 0, false
	}
}

// SortableLiterals sorts a slice of literal values using NumericValue when
// possible, falling back to string comparison. The predicate algebra uses
// it for set operations over IN lists; fingerprinting keeps list order.
func SortableLiterals(values []any) []any {
	out := append([]any(nil), values...)
	sort.Slice(out, func(i, j int) bool {
		ni, oki := NumericValue(out[i])
		nj, okj := NumericValue(out[j])
		if oki && okj {
			return ni < nj
		}
		return fmt.Sprintf("%v", out[i]) < fmt.Sprintf("%v", out[j])
	})
	return out
}
