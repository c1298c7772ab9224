package stattree

import (
	"fmt"
	"reflect"
)

// Producer is a value computed lazily each time a snapshot is rendered.
type Producer func() any

// Evaluate returns v with any producer invoked.
func Evaluate(v any) any {
	switch f := v.(type) {
	case Producer:
		return f()
	case func() any:
		return f()
	}
	return v
}

// toInt64 converts numeric values to int64, truncating floats.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// addNumbers returns a+b, staying integral while both operands are.
// Nil and non-numeric operands count as zero.
func addNumbers(a, b any) any {
	if integral(a) && integral(b) {
		x, _ := toInt64(a)
		y, _ := toInt64(b)
		return x + y
	}
	x, _ := toFloat64(a)
	y, _ := toFloat64(b)
	return x + y
}

// subNumbers returns a-b with the same typing rule as addNumbers.
func subNumbers(a, b any) any {
	if integral(a) && integral(b) {
		x, _ := toInt64(a)
		y, _ := toInt64(b)
		return x - y
	}
	x, _ := toFloat64(a)
	y, _ := toFloat64(b)
	return x - y
}

func integral(v any) bool {
	if _, ok := toFloat64(v); !ok {
		return true
	}
	return isInteger(v)
}

// isZero reports whether v is its type's zero value. Nil, empty strings
// and zero numbers are zero.
func isZero(v any) bool {
	if v == nil {
		return true
	}
	switch x := v.(type) {
	case string:
		return x == ""
	case bool:
		return !x
	case float32:
		return x == 0
	case float64:
		return x == 0
	}
	if i, ok := toInt64(v); ok {
		return i == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}

// keyOf renders v as a tree key.
func keyOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// isComparable reports whether v can be used as a map key. Interface
// fields are checked by their dynamic values.
func isComparable(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.IsValid() && rv.Comparable()
}
