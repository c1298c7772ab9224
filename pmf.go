package stattree

import (
	"math"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/nikiz24/stattree/sample"
)

var pmfPercentiles = []float64{0.5, 0.75, 0.95, 0.98, 0.99, 0.999}

var pmfPercentileKeys = []string{"median", "75percentile", "95percentile", "98percentile", "99percentile", "999percentile"}

// Pmf summarizes a stream of values with a decaying reservoir. The summary
// is recomputed at most once per refresh interval, and only once the
// reservoir holds at least two values.
type Pmf struct {
	mu        sync.Mutex
	clock     quartz.Clock
	refresh   time.Duration
	reservoir sample.Reservoir

	count      int64
	computed   bool
	computedAt time.Time
	summary    *Tree
	p99        float64
}

func newPmf(reservoir sample.Reservoir, clock quartz.Clock, refresh time.Duration) *Pmf {
	return &Pmf{
		clock:     clock,
		refresh:   refresh,
		reservoir: reservoir,
		p99:       math.NaN(),
	}
}

// NewPmf returns a distribution backed by reservoir that refreshes its
// summary at most every refresh.
func NewPmf(reservoir sample.Reservoir, clock quartz.Clock, refresh time.Duration) *Pmf {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return newPmf(reservoir, clock, refresh)
}

func (r *Registry) newPmf() *Pmf {
	res := sample.NewExpDecay(r.cfg.ReservoirSize, r.cfg.DecayAlpha, r.cfg.RescaleThreshold, r.clock)
	return newPmf(res, r.clock, r.cfg.PmfRefreshInterval)
}

// Update adds a value.
func (p *Pmf) Update(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.count++
	p.reservoir.Update(v)

	now := p.clock.Now()
	if p.computed && now.Sub(p.computedAt) <= p.refresh {
		return
	}
	if p.reservoir.Size() < 2 {
		return
	}
	p.computed = true
	p.computedAt = now

	t := NewTree()
	t.Set("min", p.reservoir.Min())
	t.Set("max", p.reservoir.Max())
	t.Set("mean", p.reservoir.Mean())
	t.Set("stddev", p.reservoir.StdDev())
	scores := p.reservoir.Percentiles(pmfPercentiles...)
	for i, key := range pmfPercentileKeys {
		t.Set(key, scores[i])
	}
	p.summary = t
	p.p99 = scores[4]
}

// Count returns the number of values added.
func (p *Pmf) Count() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Value returns a summary field such as "mean" or "99percentile", or zero
// before the first summary is computed.
func (p *Pmf) Value(key string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == "count" {
		return float64(p.count)
	}
	v, _ := p.summary.Get(key)
	f, _ := v.(float64)
	return f
}

// Percentile99 returns the last computed 99th percentile.
func (p *Pmf) Percentile99() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.p99, p.computed
}

func (p *Pmf) snapshot() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := NewTree()
	t.Set("count", p.count)
	p.summary.Range(func(k string, v any) bool {
		t.Set(k, v)
		return true
	})
	return t
}

// Time starts timing a section of code. Stop records the elapsed seconds.
func (p *Pmf) Time() *Timing {
	return &Timing{pmf: p, start: p.clock.Now()}
}

// Timing measures one run of a section of code.
//
//	t := latency.Time(server).Warn99(logger, "slow request")
//	defer t.Stop()
type Timing struct {
	pmf       *Pmf
	start     time.Time
	discarded bool
	stopped   bool

	logger *zap.Logger
	msg    string
	fields []zap.Field
}

// Warn99 makes Stop log msg at warn level if the section took at least the
// last computed 99th percentile.
func (t *Timing) Warn99(logger *zap.Logger, msg string, fields ...zap.Field) *Timing {
	t.logger = logger
	t.msg = msg
	t.fields = fields
	return t
}

// Discard drops the measurement.
func (t *Timing) Discard() {
	t.discarded = true
}

// Stop records the elapsed time unless discarded. Only the first call has
// any effect.
func (t *Timing) Stop() time.Duration {
	elapsed := t.pmf.clock.Since(t.start)
	if t.stopped || t.discarded {
		return elapsed
	}
	t.stopped = true

	t.pmf.Update(elapsed.Seconds())
	if t.logger == nil {
		return elapsed
	}
	if p99, ok := t.pmf.Percentile99(); ok && elapsed.Seconds() >= p99 {
		fields := append(t.fields[:len(t.fields):len(t.fields)],
			zap.Duration("elapsed", elapsed),
			zap.Float64("p99_seconds", p99))
		t.logger.Warn(t.msg, fields...)
	}
	return elapsed
}

// PmfStat exposes a Pmf. Setting it adds a value.
type PmfStat struct {
	stat
}

// NewPmfStat returns a distribution stat.
func NewPmfStat(name string) PmfStat {
	return PmfStat{stat{name: name}}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s PmfStat) In(r *Registry) PmfStat {
	s.reg = r
	return s
}

func (s PmfStat) newState(r *Registry) any { return r.newPmf() }

// Get returns the distribution of owner. Unregistered owners get a
// detached one.
func (s PmfStat) Get(owner any) *Pmf {
	r := s.registry()
	var p *Pmf
	if !withState(r, owner, s, func(_ ObjectID, st *Pmf) { p = st }) {
		return r.newPmf()
	}
	return p
}

// Update adds v to the distribution of owner.
func (s PmfStat) Update(owner any, v float64) {
	s.Get(owner).Update(v)
}

// Time starts timing a section of code for owner.
func (s PmfStat) Time(owner any) *Timing {
	return s.Get(owner).Time()
}

// NamedPmfStat exposes one Pmf per key, created on first use.
type NamedPmfStat struct {
	stat
}

// NewNamedPmfStat returns a keyed distribution stat.
func NewNamedPmfStat(name string) NamedPmfStat {
	return NamedPmfStat{stat{name: name}}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s NamedPmfStat) In(r *Registry) NamedPmfStat {
	s.reg = r
	return s
}

func (s NamedPmfStat) newState(*Registry) any { return NewTree() }

// Get returns the distribution under key for owner.
func (s NamedPmfStat) Get(owner any, key string) *Pmf {
	r := s.registry()
	var p *Pmf
	ok := withState(r, owner, s, func(_ ObjectID, d *Tree) {
		if v, exists := d.Get(key); exists {
			p, _ = v.(*Pmf)
			return
		}
		p = r.newPmf()
		d.Set(key, p)
	})
	if !ok || p == nil {
		return r.newPmf()
	}
	return p
}

// Update adds v to the distribution under key for owner.
func (s NamedPmfStat) Update(owner any, key string, v float64) {
	s.Get(owner, key).Update(v)
}

// Time starts timing a section of code under key for owner.
func (s NamedPmfStat) Time(owner any, key string) *Timing {
	return s.Get(owner, key).Time()
}
