package sample

import "sync"

// Uniform is a reservoir in which every value seen so far has the same
// probability of being sampled (Vitter's algorithm R).
type Uniform struct {
	mu     sync.Mutex
	opts   options
	values []float64
	count  int64
	bounds bounds
}

// NewUniform creates a uniform reservoir holding at most size values.
// A non-positive size selects DefaultSize.
func NewUniform(size int, opts ...Option) *Uniform {
	if size <= 0 {
		size = DefaultSize
	}
	return &Uniform{
		opts:   buildOptions(opts),
		values: make([]float64, size),
		bounds: newBounds(),
	}
}

// Update adds a value. The i-th update fills slot i-1 until the reservoir
// is full, after which it replaces a random slot with probability size/i.
func (u *Uniform) Update(value float64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.bounds.observe(value)
	u.count++
	if u.count <= int64(len(u.values)) {
		u.values[u.count-1] = value
		return
	}
	if r := u.opts.int64n(u.count); r < int64(len(u.values)) {
		u.values[r] = value
	}
}

// Size returns the number of values held.
func (u *Uniform) Size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sizeLocked()
}

func (u *Uniform) sizeLocked() int {
	return int(min(u.count, int64(len(u.values))))
}

// Count returns the number of updates since creation or the last Clear.
func (u *Uniform) Count() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

// Min returns the exact minimum seen.
func (u *Uniform) Min() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bounds.min
}

// Max returns the exact maximum seen.
func (u *Uniform) Max() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bounds.max
}

// Mean returns the sample mean.
func (u *Uniform) Mean() float64 {
	return Mean(u.Values())
}

// StdDev returns the sample standard deviation.
func (u *Uniform) StdDev() float64 {
	return StdDev(u.Values())
}

// Percentiles returns interpolated percentiles of the sample.
func (u *Uniform) Percentiles(ps ...float64) []float64 {
	return Percentiles(u.Values(), ps...)
}

// Values returns a copy of the sampled values.
func (u *Uniform) Values() []float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]float64(nil), u.values[:u.sizeLocked()]...)
}

// Clear resets the reservoir, including its extremes.
func (u *Uniform) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	clear(u.values)
	u.count = 0
	u.bounds = newBounds()
}
