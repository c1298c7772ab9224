package sample

import (
	"container/heap"
	"math"
	"sync"
	"time"

	"github.com/coder/quartz"
)

const (
	// DefaultAlpha biases an ExpDecay reservoir towards roughly the last five minutes.
	DefaultAlpha = 0.015

	// DefaultRescaleThreshold is how often ExpDecay priorities are rescaled.
	DefaultRescaleThreshold = time.Hour
)

// ExpDecay is a forward-decaying priority reservoir (Cormode et al.): values
// are kept with priority exp(alpha*(t-t0))/u, so newer values are more likely
// to survive once the reservoir is full.
type ExpDecay struct {
	mu               sync.Mutex
	opts             options
	clock            quartz.Clock
	size             int
	alpha            float64
	rescaleThreshold time.Duration

	entries     priorityHeap
	count       int64
	start       time.Time
	nextRescale time.Time
	bounds      bounds
}

// NewExpDecay creates a decaying reservoir. Non-positive arguments select
// DefaultSize, DefaultAlpha and DefaultRescaleThreshold. A nil clock uses
// the real clock.
func NewExpDecay(size int, alpha float64, rescaleThreshold time.Duration, clock quartz.Clock, opts ...Option) *ExpDecay {
	if size <= 0 {
		size = DefaultSize
	}
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	if rescaleThreshold <= 0 {
		rescaleThreshold = DefaultRescaleThreshold
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	e := &ExpDecay{
		opts:             buildOptions(opts),
		clock:            clock,
		size:             size,
		alpha:            alpha,
		rescaleThreshold: rescaleThreshold,
	}
	e.resetLocked()
	return e
}

func (e *ExpDecay) resetLocked() {
	now := e.clock.Now()
	e.entries = make(priorityHeap, 0, e.size)
	e.count = 0
	e.start = now
	e.nextRescale = now.Add(e.rescaleThreshold)
	e.bounds = newBounds()
}

// Update adds a value stamped with the current clock time.
func (e *ExpDecay) Update(value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	e.bounds.observe(value)
	e.rescaleIfNeededLocked(now)

	// u is drawn from (0, 1] so the priority is always finite.
	u := 1 - e.opts.float64()
	p := e.weight(now.Sub(e.start)) / u

	e.count++
	if len(e.entries) < e.size {
		heap.Push(&e.entries, entry{priority: p, value: value})
		return
	}
	if e.entries[0].priority < p {
		e.entries[0] = entry{priority: p, value: value}
		heap.Fix(&e.entries, 0)
	}
}

func (e *ExpDecay) weight(d time.Duration) float64 {
	return math.Exp(e.alpha * d.Seconds())
}

func (e *ExpDecay) rescaleIfNeededLocked(now time.Time) {
	if now.Before(e.nextRescale) {
		return
	}
	e.nextRescale = now.Add(e.rescaleThreshold)
	scale := math.Exp(-e.alpha * now.Sub(e.start).Seconds())
	e.start = now
	// Multiplying by a positive constant keeps the heap ordered.
	for i := range e.entries {
		e.entries[i].priority *= scale
	}
	e.count = int64(len(e.entries))
}

// Size returns the number of values held.
func (e *ExpDecay) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Count returns the number of updates since creation, the last Clear or the
// last rescale, whichever is latest.
func (e *ExpDecay) Count() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Min returns the exact minimum seen.
func (e *ExpDecay) Min() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bounds.min
}

// Max returns the exact maximum seen.
func (e *ExpDecay) Max() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bounds.max
}

// Mean returns the sample mean.
func (e *ExpDecay) Mean() float64 {
	return Mean(e.Values())
}

// StdDev returns the sample standard deviation.
func (e *ExpDecay) StdDev() float64 {
	return StdDev(e.Values())
}

// Percentiles returns interpolated percentiles of the sample.
func (e *ExpDecay) Percentiles(ps ...float64) []float64 {
	return Percentiles(e.Values(), ps...)
}

// Values returns a copy of the sampled values in heap order.
func (e *ExpDecay) Values() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	values := make([]float64, len(e.entries))
	for i, en := range e.entries {
		values[i] = en.value
	}
	return values
}

// Clear drops every value and restarts the decay window at the current time.
func (e *ExpDecay) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

type entry struct {
	priority float64
	value    float64
}

// priorityHeap is a min-heap on priority.
type priorityHeap []entry

func (h priorityHeap) Len() int           { return len(h) }
func (h priorityHeap) Less(i, j int) bool { return h[i].priority < h[j].priority }
func (h priorityHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
