package container

import (
	"math"
	"reflect"

	"github.com/wippyai/carrica/errors"
)

// Canonical converts a host value into a storable Value. Every Go numeric
// kind becomes float64. Composite values are rejected.
func Canonical(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return x, nil
	case bool:
		return x, nil
	case string:
		return x, nil
	case Ref:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case float32:
		return float64(x), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	}

	return nil, errors.New(errors.PhaseMarshal, errors.KindUnsupported).
		Category(errors.CategoryMarshal).
		GoType(rv.Type().String()).
		Detail("value cannot be stored in a shared container").
		Build()
}

// Equal reports host side value equality: same type and same value.
// References are equal when they address the same live cell.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case Ref:
		y, ok := b.(Ref)
		return ok && x == y
	}
	return false
}

// ValidKey reports whether v may be used as a table key: a string or a
// number that is not NaN.
func ValidKey(v Value) bool {
	switch x := v.(type) {
	case string:
		return true
	case float64:
		return !math.IsNaN(x)
	}
	return false
}

// compare orders numbers before strings; other types are not ordered.
func compare(a, b Value) (int, bool) {
	switch x := a.(type) {
	case float64:
		switch y := b.(type) {
		case float64:
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		case string:
			return -1, true
		}
	case string:
		switch y := b.(type) {
		case float64:
			return 1, true
		case string:
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

func refsOf(vs ...Value) []Ref {
	var out []Ref
	for _, v := range vs {
		if r, ok := v.(Ref); ok && !r.IsZero() {
			out = append(out, r)
		}
	}
	return out
}
