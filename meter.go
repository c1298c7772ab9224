package stattree

import (
	"context"
	"slices"
	"sync"

	"github.com/coder/quartz"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nikiz24/stattree/sample"
)

// Meter counts events and tracks their 1, 5 and 15 minute moving rates.
// Rates only move when the meter is ticked.
type Meter struct {
	count atomic.Int64
	m1    *sample.EWMA
	m5    *sample.EWMA
	m15   *sample.EWMA
}

// NewMeter returns a meter that is not ticked by any registry.
func NewMeter() *Meter {
	return &Meter{
		m1:  sample.NewOneMinuteEWMA(),
		m5:  sample.NewFiveMinuteEWMA(),
		m15: sample.NewFifteenMinuteEWMA(),
	}
}

// Mark records n events.
func (m *Meter) Mark(n int64) {
	m.count.Add(n)
	for _, e := range m.rates() {
		e.Update(float64(n))
	}
}

// Tick folds recent events into the moving rates.
func (m *Meter) Tick() {
	for _, e := range m.rates() {
		e.Tick()
	}
}

func (m *Meter) rates() [3]*sample.EWMA {
	return [3]*sample.EWMA{m.m1, m.m5, m.m15}
}

// Count returns the total number of events marked.
func (m *Meter) Count() int64 { return m.count.Load() }

// Rate1 returns the one minute rate in events per second.
func (m *Meter) Rate1() float64 { return m.m1.Rate() }

// Rate5 returns the five minute rate in events per second.
func (m *Meter) Rate5() float64 { return m.m5.Rate() }

// Rate15 returns the fifteen minute rate in events per second.
func (m *Meter) Rate15() float64 { return m.m15.Rate() }

func (m *Meter) snapshot() any {
	t := NewTree()
	t.Set("unit", "per second")
	t.Set("count", m.Count())
	t.Set("m1", m.Rate1())
	t.Set("m5", m.Rate5())
	t.Set("m15", m.Rate15())
	return t
}

// ticker ticks every meter created through a registry on one shared schedule.
type ticker struct {
	// ticking serializes Tick; EWMAs must not be ticked concurrently.
	ticking sync.Mutex

	mu      sync.Mutex
	meters  []*Meter
	running bool
	cancel  context.CancelFunc
	waiter  quartz.Waiter
}

func (t *ticker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meters = nil
}

// newMeter creates a meter ticked by r.
func (r *Registry) newMeter() *Meter {
	m := NewMeter()
	r.ticker.mu.Lock()
	r.ticker.meters = append(r.ticker.meters, m)
	start := r.cfg.AutoStart && !r.ticker.running
	r.ticker.mu.Unlock()
	if start {
		r.Start()
	}
	return m
}

// Start begins ticking meters every TickInterval. It is a no-op if the
// ticker is already running.
func (r *Registry) Start() {
	r.ticker.mu.Lock()
	defer r.ticker.mu.Unlock()
	if r.ticker.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.ticker.cancel = cancel
	r.ticker.waiter = r.clock.TickerFunc(ctx, r.cfg.TickInterval, func() error {
		r.Tick()
		return nil
	}, "stattree", "meters")
	r.ticker.running = true
	r.logger.Info("meter ticker started", zap.Duration("interval", r.cfg.TickInterval))
}

// Stop halts the ticker and waits for an in-flight tick to finish.
func (r *Registry) Stop() {
	r.ticker.mu.Lock()
	if !r.ticker.running {
		r.ticker.mu.Unlock()
		return
	}
	r.ticker.cancel()
	w := r.ticker.waiter
	r.ticker.running = false
	r.ticker.mu.Unlock()

	_ = w.Wait()
	r.logger.Info("meter ticker stopped")
}

// Tick ticks every meter once. Calls made while a tick is in progress,
// including the scheduled one, wait for it to finish.
func (r *Registry) Tick() {
	r.ticker.ticking.Lock()
	defer r.ticker.ticking.Unlock()

	r.ticker.mu.Lock()
	meters := slices.Clone(r.ticker.meters)
	r.ticker.mu.Unlock()
	for _, m := range meters {
		m.Tick()
	}
}

// MeterStat exposes a Meter. Setting it marks events.
type MeterStat struct {
	stat
}

// NewMeterStat returns a meter stat.
func NewMeterStat(name string) MeterStat {
	return MeterStat{stat{name: name}}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s MeterStat) In(r *Registry) MeterStat {
	s.reg = r
	return s
}

func (s MeterStat) newState(r *Registry) any { return r.newMeter() }

// Get returns the meter of owner. Unregistered owners get a detached meter.
func (s MeterStat) Get(owner any) *Meter {
	var m *Meter
	if !withState(s.registry(), owner, s, func(_ ObjectID, st *Meter) { m = st }) {
		return NewMeter()
	}
	return m
}

// Mark records n events on the meter of owner.
func (s MeterStat) Mark(owner any, n int64) {
	s.Get(owner).Mark(n)
}

// MeterDictStat exposes one Meter per key, created on first use.
type MeterDictStat struct {
	stat
}

// NewMeterDictStat returns a keyed meter stat.
func NewMeterDictStat(name string) MeterDictStat {
	return MeterDictStat{stat{name: name}}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s MeterDictStat) In(r *Registry) MeterDictStat {
	s.reg = r
	return s
}

func (s MeterDictStat) newState(*Registry) any { return NewTree() }

// Get returns the meter under key for owner.
func (s MeterDictStat) Get(owner any, key string) *Meter {
	r := s.registry()
	var m *Meter
	ok := withState(r, owner, s, func(_ ObjectID, d *Tree) {
		if v, exists := d.Get(key); exists {
			m, _ = v.(*Meter)
			return
		}
		m = r.newMeter()
		d.Set(key, m)
	})
	if !ok || m == nil {
		return NewMeter()
	}
	return m
}

// Mark records n events on the meter under key for owner.
func (s MeterDictStat) Mark(owner any, key string, n int64) {
	s.Get(owner, key).Mark(n)
}
