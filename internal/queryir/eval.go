package queryir

import (
	"fmt"
	"reflect"
	"strings"
)

// Eval evaluates e against row. row is either a query's natural (unjoined)
// row shape or, for a query with joins, a map[string]any keyed by source
// alias. Both the compiler (building filter/having/select operators) and a
// Collection (testing a subscription's whereExpression against a candidate
// row, spec §4.H.3/§4.I) share this one evaluator rather than each
// hand-rolling their own expression walker.
func Eval(e Expr, row any) any {
	switch t := e.(type) {
	case Literal:
		return t.Value
	case Ref:
		return evalRef(t.Path, row)
	case FuncCall:
		return evalFunc(t, row)
	case AggregateCall:
		return nil
	default:
		return nil
	}
}

func evalRef(path []string, row any) any {
	if len(path) == 0 {
		return nil
	}
	cur := GetField(row, path[0])
	for _, seg := range path[1:] {
		cur = GetField(cur, seg)
	}
	return cur
}

// GetField reads a named field off row, which may be a map[string]any, a
// struct (matched by exact or title-cased field name), or a pointer/
// interface wrapping either.
func GetField(row any, name string) any {
	if row == nil {
		return nil
	}
	if m, ok := row.(map[string]any); ok {
		return m[name]
	}
	v := reflect.ValueOf(row)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		mv := v.MapIndex(reflect.ValueOf(name))
		if !mv.IsValid() {
			return nil
		}
		return mv.Interface()
	case reflect.Struct:
		if fv := v.FieldByName(name); fv.IsValid() {
			return fv.Interface()
		}
		title := strings.ToUpper(name[:1]) + name[1:]
		if fv := v.FieldByName(title); fv.IsValid() {
			return fv.Interface()
		}
	}
	return nil
}

// Truthy applies the engine's boolean-coercion rule: nil is false, bool
// passes through, everything else is true.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func evalFunc(fc FuncCall, row any) any {
	args := make([]any, len(fc.Args))
	for i, a := range fc.Args {
		args[i] = Eval(a, row)
	}
	switch fc.Name {
	case "eq":
		return looseEqual(args[0], args[1])
	case "neq":
		return !looseEqual(args[0], args[1])
	case "gt":
		c, ok := compareValues(args[0], args[1])
		return ok && c > 0
	case "gte":
		c, ok := compareValues(args[0], args[1])
		return ok && c >= 0
	case "lt":
		c, ok := compareValues(args[0], args[1])
		return ok && c < 0
	case "lte":
		c, ok := compareValues(args[0], args[1])
		return ok && c <= 0
	case "and":
		for _, a := range args {
			if !Truthy(a) {
				return false
			}
		}
		return true
	case "or":
		for _, a := range args {
			if Truthy(a) {
				return true
			}
		}
		return false
	case "not":
		return !Truthy(args[0])
	case "in":
		list, _ := args[1].([]any)
		for _, v := range list {
			if looseEqual(args[0], v) {
				return true
			}
		}
		return false
	default:
		return nil
	}
}

func looseEqual(a, b any) bool {
	if fa, ok := NumericValue(a); ok {
		if fb, ok := NumericValue(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareValues orders a and b; ok is false when neither a numeric nor a
// string comparison applies (e.g. either side is nil) — spec §4.A "null
// comparisons are never true".
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := NumericValue(a); ok {
		if fb, ok := NumericValue(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}
