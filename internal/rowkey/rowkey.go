// Package rowkey defines the primary-key representation shared by every
// layer of the engine: collections, the differential operators, and the
// predicate algebra all key rows the same way.
//
// A Key compares by value, never by object identity. Primitive keys
// (string, every integer width, bool) and deterministic tuples of
// primitives are both supported by canonicalizing to a single comparable
// Go value: a string for primitives, or a delimited encoding for tuples.
// This keeps Key usable directly as a Go map key while still supporting
// composite tuple identities.
package rowkey

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is a stable, comparable identity for a row. Two Keys are equal iff
// they were built from equal values, regardless of how those values were
// boxed on the way in.
type Key string

// Of canonicalizes a single primitive or a tuple of primitives into a Key.
// Supported primitive kinds: string, bool, and the signed/unsigned/float
// integer family (compared after normalizing to their decimal form so that
// int64(5) and float64(5) collide the way a wire-level key would).
func Of(parts ...any) Key {
	if len(parts) == 1 {
		return Key(encodePart(parts[0]))
	}
	enc := make([]string, len(parts))
	for i, p := range parts {
		enc[i] = escapeSep(encodePart(p))
	}
	return Key(strings.Join(enc, "\x1f"))
}

// Composite builds a join-output key from two source keys, rendering the
// pair deterministically so equal (left, right) pairs always collide.
func Composite(left, right Key) Key {
	return Key(string(left) + "\x1e" + string(right))
}

func escapeSep(s string) string {
	return strings.ReplaceAll(s, "\x1f", "\x1f\x1f")
}

func encodePart(p any) string {
	switch v := p.(type) {
	case Key:
		return string(v)
	case string:
		return "s:" + v
	case bool:
		if v {
			return "b:1"
		}
		return "b:0"
	case int:
		return "i:" + strconv.FormatInt(int64(v), 10)
	case int8:
		return "i:" + strconv.FormatInt(int64(v), 10)
	case int16:
		return "i:" + strconv.FormatInt(int64(v), 10)
	case int32:
		return "i:" + strconv.FormatInt(int64(v), 10)
	case int64:
		return "i:" + strconv.FormatInt(v, 10)
	case uint:
		return "i:" + strconv.FormatUint(uint64(v), 10)
	case uint8:
		return "i:" + strconv.FormatUint(uint64(v), 10)
	case uint16:
		return "i:" + strconv.FormatUint(uint64(v), 10)
	case uint32:
		return "i:" + strconv.FormatUint(uint64(v), 10)
	case uint64:
		return "i:" + strconv.FormatUint(v, 10)
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	case nil:
		return "n:"
	default:
		return fmt.Sprintf("x:%v", v)
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return "i:" + strconv.FormatInt(int64(f), 10)
	}
	return "f:" + strconv.FormatFloat(f, 'g', -1, 64)
}

// String returns the canonical encoding, primarily for debugging.
func (k Key) String() string { return string(k) }
