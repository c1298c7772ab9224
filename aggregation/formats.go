package aggregation

import (
	"github.com/nikiz24/stattree"
)

// Format extracts the count and value an aggregator needs from one source
// datum.
type Format interface {
	Count(data any) (any, bool)
	Value(data any) (any, bool)
}

// Formats understood by the aggregators.
var (
	// Default reads the count and average fields of a datum.
	Default Format = fieldFormat{count: []any{"count"}, value: []any{"average"}}

	// Direct uses the datum itself as the value, with a count of one.
	Direct Format = directFormat{}

	// Timer reads a timer datum's rate count and median duration.
	Timer Format = fieldFormat{kind: "timer", count: []any{"rate", "count"}, value: []any{"duration", "median"}}

	// TimerMean reads a timer datum's rate count and mean duration.
	TimerMean Format = fieldFormat{kind: "timer", count: []any{"rate", "count"}, value: []any{"duration", "mean"}}

	// Counter reads a counter datum's count as both count and value.
	Counter Format = fieldFormat{kind: "counter", count: []any{"count"}, value: []any{"count"}}

	// Meter reads a meter datum's count and mean rate.
	Meter Format = fieldFormat{kind: "meter", count: []any{"count"}, value: []any{"mean"}}

	// Gauge reads a gauge datum's value. Gauges carry no count.
	Gauge Format = fieldFormat{kind: "gauge", value: []any{"value"}}
)

var formatsByName = map[string]Format{
	"":           Default,
	"default":    Default,
	"direct":     Direct,
	"timer":      Timer,
	"timer_mean": TimerMean,
	"counter":    Counter,
	"meter":      Meter,
	"gauge":      Gauge,
}

// FormatByName returns the format called name, as used in spec files.
func FormatByName(name string) (Format, bool) {
	f, ok := formatsByName[name]
	return f, ok
}

type directFormat struct{}

func (directFormat) Count(any) (any, bool) { return int64(1), true }

func (directFormat) Value(data any) (any, bool) { return data, data != nil }

// fieldFormat reads fields of a structured datum whose "type" field, when
// kind is set, must equal kind.
type fieldFormat struct {
	kind  string
	count []any
	value []any
}

func (f fieldFormat) Count(data any) (any, bool) {
	return f.lookup(data, f.count)
}

func (f fieldFormat) Value(data any) (any, bool) {
	return f.lookup(data, f.value)
}

func (f fieldFormat) lookup(data any, keys []any) (any, bool) {
	if keys == nil {
		return nil, false
	}
	if f.kind != "" {
		kind, _ := stattree.Lookup(data, "type")
		if kind != f.kind {
			return nil, false
		}
	}
	return stattree.Lookup(data, keys...)
}

func formatOrDefault(f Format) Format {
	if f == nil {
		return Default
	}
	return f
}
