package relation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Value kinds
// --------------------------------------------------------------------------

// Kind is the type of a column. A column holds values of exactly one kind
// (or nil for null).
type Kind uint8

const (
	KindNull   Kind = iota // no non-null value seen yet
	KindInt                // int64
	KindFloat              // float64
	KindString             // string
	KindBool               // bool
	KindTime               // time.Time (UTC)
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int64"
	case KindFloat:
		return "float64"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "null":
		return KindNull, nil
	case "int64":
		return KindInt, nil
	case "float64":
		return KindFloat, nil
	case "string":
		return KindString, nil
	case "bool":
		return KindBool, nil
	case "datetime":
		return KindTime, nil
	default:
		return KindNull, fmt.Errorf("unknown kind %q", s)
	}
}

// --------------------------------------------------------------------------
// Normalization
// --------------------------------------------------------------------------

// Normalize converts an arbitrary Go value into the canonical representation
// used by relations: int64, float64, string, bool, time.Time (UTC) or nil.
// NaN floats are treated as null.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int64:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float64:
		if math.IsNaN(x) {
			return nil
		}
		return x
	case float32:
		if math.IsNaN(float64(x)) {
			return nil
		}
		return float64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return x
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	case fmt.Stringer:
		// decimals and other engine specific number types
		s := x.String()
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	default:
		return fmt.Sprint(x)
	}
}

// KindOf returns the kind of a normalized value.
func KindOf(v any) Kind {
	switch v.(type) {
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case string:
		return KindString
	case bool:
		return KindBool
	case time.Time:
		return KindTime
	default:
		return KindNull
	}
}

// unify returns the narrowest kind able to hold values of both a and b.
func unify(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case a == KindNull:
		return b
	case b == KindNull:
		return a
	case (a == KindInt && b == KindFloat) || (a == KindFloat && b == KindInt):
		return KindFloat
	default:
		return KindString
	}
}

// convert casts a normalized value to kind k. Callers only convert towards
// a kind produced by unify, so the conversion never loses the value itself.
func convert(v any, k Kind) any {
	if v == nil {
		return nil
	}
	switch k {
	case KindFloat:
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	case KindString:
		if _, ok := v.(string); !ok {
			return FormatValue(v)
		}
	}
	return v
}

// FormatValue renders a normalized value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// compareValues orders two normalized values. Nulls sort first; values of
// different kinds are ordered by kind.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		// numbers compare across int and float
		if (ka == KindInt || ka == KindFloat) && (kb == KindInt || kb == KindFloat) {
			return cmpFloat(toFloat(a), toFloat(b))
		}
		return int(ka) - int(kb)
	}
	switch x := a.(type) {
	case int64:
		y := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case float64:
		return cmpFloat(x, b.(float64))
	case string:
		return strings.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return 0
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

// --------------------------------------------------------------------------
// Time coercion
// --------------------------------------------------------------------------

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses the textual timestamp formats accepted on the wire.
// Timestamps without zone are taken as UTC; the result is always UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as timestamp", s)
}

// ToTime converts a normalized value into a timestamp. Strings are parsed,
// numbers are epoch milliseconds.
func ToTime(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return x.UTC(), nil
	case string:
		if x == "" {
			return nil, nil
		}
		return ParseTime(x)
	case int64:
		return time.UnixMilli(x).UTC(), nil
	case float64:
		return time.UnixMilli(int64(x)).UTC(), nil
	default:
		return nil, fmt.Errorf("cannot convert %v (%T) to timestamp", v, v)
	}
}

// IsTimeName reports whether a column name marks a timestamp column:
// it contains "date" or "time", case-insensitive.
func IsTimeName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "date") || strings.Contains(lower, "time")
}
