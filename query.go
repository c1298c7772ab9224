package stattree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
)

// Longer operators come first so ">=" is never read as ">".
var queryOperator = regexp.MustCompile(`>=|<=|==|!=|>|<|=`)

// Filter returns the entries of t matching query. A query is either a key,
// or a key, an operator (>=, >, <=, <, =, ==, !=) and a literal. Entries
// whose key matches are kept whole; other subtrees are searched
// recursively and kept if anything inside them matches. The literal is
// converted to the type of each candidate value, and a value it cannot be
// converted to is excluded.
func Filter(t *Tree, query string) (*Tree, error) {
	q, err := parseQuery(query)
	if err != nil {
		return nil, err
	}
	return q.apply(t), nil
}

type filterQuery struct {
	key     string
	op      string
	literal string
}

func parseQuery(query string) (filterQuery, error) {
	loc := queryOperator.FindStringIndex(query)
	if loc == nil {
		key := strings.TrimSpace(query)
		if key == "" {
			return filterQuery{}, fmt.Errorf("%w: empty key", ErrInvalidQuery)
		}
		return filterQuery{key: key}, nil
	}
	q := filterQuery{
		key:     strings.TrimSpace(query[:loc[0]]),
		op:      query[loc[0]:loc[1]],
		literal: strings.TrimSpace(query[loc[1]:]),
	}
	if q.key == "" {
		return filterQuery{}, fmt.Errorf("%w: %q has no key", ErrInvalidQuery, query)
	}
	if queryOperator.MatchString(q.literal) {
		return filterQuery{}, fmt.Errorf("%w: %q has more than one operator", ErrInvalidQuery, query)
	}
	return q, nil
}

func (q filterQuery) apply(t *Tree) *Tree {
	out := NewTree()
	t.Range(func(key string, v any) bool {
		v = Evaluate(v)
		if key == q.key {
			if q.op == "" || q.matches(v) {
				out.Set(key, v)
			}
			return true
		}
		var sub *Tree
		switch x := v.(type) {
		case *Tree:
			sub = x
		case map[string]any:
			sub = TreeFromMap(x)
		default:
			return true
		}
		if child := q.apply(sub); child.Len() > 0 {
			out.Set(key, child)
		}
		return true
	})
	return out
}

func (q filterQuery) matches(v any) bool {
	switch x := v.(type) {
	case string:
		return compareOrdered(x, q.literal, q.op)
	case bool:
		b, err := strconv.ParseBool(q.literal)
		if err != nil {
			return false
		}
		switch q.op {
		case "=", "==":
			return x == b
		case "!=":
			return x != b
		}
		return false
	case float32, float64:
		f, err := strconv.ParseFloat(q.literal, 64)
		if err != nil {
			return false
		}
		xf, _ := toFloat64(x)
		return compareOrdered(xf, f, q.op)
	}
	if xi, ok := toInt64(v); ok {
		n, err := strconv.ParseInt(q.literal, 10, 64)
		if err != nil {
			return false
		}
		return compareOrdered(xi, n, q.op)
	}
	return false
}

func compareOrdered[T int64 | float64 | string](a, b T, op string) bool {
	switch op {
	case ">=":
		return a >= b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case "<":
		return a < b
	case "=", "==":
		return a == b
	case "!=":
		return a != b
	}
	return false
}
