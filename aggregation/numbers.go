package aggregation

import (
	"fmt"
	"strings"

	"github.com/facette/natsort"
)

// number converts v to float64, reporting whether it is an integer.
func number(v any) (f float64, integral, ok bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true, true
	case int8:
		return float64(x), true, true
	case int16:
		return float64(x), true, true
	case int32:
		return float64(x), true, true
	case int64:
		return float64(x), true, true
	case uint:
		return float64(x), true, true
	case uint8:
		return float64(x), true, true
	case uint16:
		return float64(x), true, true
	case uint32:
		return float64(x), true, true
	case uint64:
		return float64(x), true, true
	case float32:
		return float64(x), false, true
	case float64:
		return x, false, true
	}
	return 0, false, false
}

// total is a running sum that stays an integer while every addend is one.
type total struct {
	i       int64
	f       float64
	inexact bool
}

func (t *total) add(v any) bool {
	f, integral, ok := number(v)
	if !ok {
		return false
	}
	t.f += f
	if integral && !t.inexact {
		t.i += int64(f)
	} else {
		t.inexact = true
	}
	return true
}

func (t *total) value() any {
	if t.inexact {
		return t.f
	}
	return t.i
}

// product multiplies two numbers, keeping integers integral.
func product(a, b any) (any, bool) {
	fa, ia, ok := number(a)
	if !ok {
		return nil, false
	}
	fb, ib, ok := number(b)
	if !ok {
		return nil, false
	}
	if ia && ib {
		return int64(fa) * int64(fb), true
	}
	return fa * fb, true
}

// compareValues orders numbers numerically before everything else, which
// is ordered naturally by its string form.
func compareValues(a, b any) int {
	fa, _, na := number(a)
	fb, _, nb := number(b)
	switch {
	case na && nb:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case na:
		return -1
	case nb:
		return 1
	}
	return compareNatural(fmt.Sprint(a), fmt.Sprint(b))
}

func compareNatural(a, b string) int {
	switch {
	case a == b:
		return 0
	case natsort.Compare(a, b):
		return -1
	case natsort.Compare(b, a):
		return 1
	}
	return strings.Compare(a, b)
}
