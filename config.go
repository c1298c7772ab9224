package stattree

import (
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/nikiz24/stattree/sample"
)

// Config defines the configuration for a Registry
type Config struct {
	// Optional logger
	Logger *zap.Logger

	// Clock drives meters, decaying reservoirs and state timers. Tests
	// substitute a quartz mock.
	Clock quartz.Clock

	// Meter ticking
	TickInterval time.Duration
	AutoStart    bool

	// Distribution stats
	ReservoirSize      int
	DecayAlpha         float64
	RescaleThreshold   time.Duration
	PmfRefreshInterval time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Logger:             zap.NewNop(),
		Clock:              quartz.NewReal(),
		TickInterval:       sample.TickInterval,
		ReservoirSize:      sample.DefaultSize,
		DecayAlpha:         sample.DefaultAlpha,
		RescaleThreshold:   sample.DefaultRescaleThreshold,
		PmfRefreshInterval: 20 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	c.TickInterval = pickDuration(c.TickInterval, def.TickInterval)
	c.RescaleThreshold = pickDuration(c.RescaleThreshold, def.RescaleThreshold)
	c.PmfRefreshInterval = pickDuration(c.PmfRefreshInterval, def.PmfRefreshInterval)
	if c.ReservoirSize <= 0 {
		c.ReservoirSize = def.ReservoirSize
	}
	if c.DecayAlpha <= 0 {
		c.DecayAlpha = def.DecayAlpha
	}
	return c
}

func pickDuration(v time.Duration, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
