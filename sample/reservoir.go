// Package sample provides bounded random samples of unbounded value streams
// and exponentially weighted moving averages.
//
// Reservoirs answer cheap distributional questions (mean, standard deviation,
// percentiles) over a fixed-capacity sample while tracking the exact minimum
// and maximum of everything they have seen. They are safe for concurrent use.
package sample

import (
	"math"
	"math/rand/v2"
	"sort"
)

// DefaultSize is the reservoir capacity used when none is given. It offers a
// 99.9% confidence level with a 5% margin of error for normal distributions.
const DefaultSize = 1028

// Reservoir is a bounded random sample of a value stream.
type Reservoir interface {
	// Update adds a value to the stream.
	Update(value float64)

	// Size returns the number of values currently held, never more than the capacity.
	Size() int

	// Count returns the number of values seen since creation or the last Clear.
	Count() int64

	// Min returns the exact minimum of every value seen, +Inf when empty.
	Min() float64

	// Max returns the exact maximum of every value seen, -Inf when empty.
	Max() float64

	// Mean returns the sample mean, NaN when empty.
	Mean() float64

	// StdDev returns the sample standard deviation, NaN with fewer than two values.
	StdDev() float64

	// Percentiles returns the interpolated values at each p in [0, 1].
	Percentiles(ps ...float64) []float64

	// Values returns a copy of the sampled values.
	Values() []float64

	// Clear drops every sampled value.
	Clear()
}

// Option configures a reservoir.
type Option func(*options)

type options struct {
	rng *rand.Rand
}

// WithRand makes the reservoir draw from r instead of the global source.
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.rng = r
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// int64n and float64 fall back to the goroutine-safe global source.
func (o options) int64n(n int64) int64 {
	if o.rng != nil {
		return o.rng.Int64N(n)
	}
	return rand.Int64N(n)
}

func (o options) float64() float64 {
	if o.rng != nil {
		return o.rng.Float64()
	}
	return rand.Float64()
}

// bounds tracks the exact extremes of a stream independent of sampling.
type bounds struct {
	min float64
	max float64
}

func newBounds() bounds {
	return bounds{min: math.Inf(1), max: math.Inf(-1)}
}

func (b *bounds) observe(v float64) {
	if v < b.min {
		b.min = v
	}
	if v > b.max {
		b.max = v
	}
}

// Mean returns the arithmetic mean of values, NaN when empty.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation of values, NaN for fewer
// than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	mean := Mean(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// Percentiles returns the value at each requested p in [0, 1]. Positions are
// p*(n+1) over the sorted values, clamped to [1, n] and linearly interpolated
// between neighbouring ranks. Fewer than two values yield NaN for every p.
func Percentiles(values []float64, ps ...float64) []float64 {
	scores := make([]float64, len(ps))
	n := len(values)
	if n < 2 {
		for i := range scores {
			scores[i] = math.NaN()
		}
		return scores
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	for i, p := range ps {
		pos := p * float64(n+1)
		switch {
		case pos <= 1:
			scores[i] = sorted[0]
		case pos >= float64(n):
			scores[i] = sorted[n-1]
		default:
			rank := math.Floor(pos)
			lower := sorted[int(rank)-1]
			upper := sorted[int(rank)]
			scores[i] = lower + (pos-rank)*(upper-lower)
		}
	}
	return scores
}
