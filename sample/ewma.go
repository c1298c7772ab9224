package sample

import (
	"math"
	"time"

	"go.uber.org/atomic"
)

// TickInterval is the interval at which the preset EWMAs expect to be ticked.
const TickInterval = 5 * time.Second

// EWMA is an exponentially weighted moving average of a rate. Updates are
// accumulated lock-free and folded into the average on each Tick.
type EWMA struct {
	alpha    float64
	interval time.Duration

	uncounted   atomic.Float64
	rate        atomic.Float64
	initialized atomic.Bool
}

// NewEWMA creates an average that decays over window when ticked every interval.
func NewEWMA(window, interval time.Duration) *EWMA {
	return &EWMA{
		alpha:    1 - math.Exp(-interval.Seconds()/window.Seconds()),
		interval: interval,
	}
}

// NewOneMinuteEWMA returns an EWMA with a one minute decay window.
func NewOneMinuteEWMA() *EWMA { return NewEWMA(time.Minute, TickInterval) }

// NewFiveMinuteEWMA returns an EWMA with a five minute decay window.
func NewFiveMinuteEWMA() *EWMA { return NewEWMA(5*time.Minute, TickInterval) }

// NewFifteenMinuteEWMA returns an EWMA with a fifteen minute decay window.
func NewFifteenMinuteEWMA() *EWMA { return NewEWMA(15*time.Minute, TickInterval) }

// Alpha returns the smoothing factor.
func (e *EWMA) Alpha() float64 {
	return e.alpha
}

// Update adds n events to the current interval.
func (e *EWMA) Update(n float64) {
	e.uncounted.Add(n)
}

// Tick folds the events seen since the last tick into the average. The first
// tick adopts the instantaneous rate as is. Tick must not be called concurrently
// with itself.
func (e *EWMA) Tick() {
	count := e.uncounted.Swap(0)
	instant := count / e.interval.Seconds()

	if e.initialized.CompareAndSwap(false, true) {
		e.rate.Store(instant)
		return
	}
	rate := e.rate.Load()
	e.rate.Store(rate + e.alpha*(instant-rate))
}

// Rate returns the average rate in events per second.
func (e *EWMA) Rate() float64 {
	return e.rate.Load()
}
