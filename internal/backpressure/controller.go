// Package backpressure derives an advisory intake delay from recent storage
// write latency.
package backpressure

import (
	"sync"
	"time"

	"github.com/telhawk-systems/logworker/internal/metrics"
)

// State is the storage distress level.
type State int

const (
	StateNormal State = iota
	StateElevated
	StateCritical
)

func (s State) String() string {
	switch s {
	case StateElevated:
		return "ELEVATED"
	case StateCritical:
		return "CRITICAL"
	default:
		return "NORMAL"
	}
}

// Config holds the thresholds and delays. ElevatedThreshold must be below
// CriticalThreshold.
type Config struct {
	Window            int
	ElevatedThreshold time.Duration
	CriticalThreshold time.Duration
	ElevatedDelay     time.Duration
	CriticalDelay     time.Duration
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		Window:            20,
		ElevatedThreshold: 500 * time.Millisecond,
		CriticalThreshold: 2 * time.Second,
		ElevatedDelay:     10 * time.Millisecond,
		CriticalDelay:     100 * time.Millisecond,
	}
}

// Controller keeps a fixed-size rolling window of flush latencies.
// Safe for concurrent use.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  int
	sum     time.Duration
}

// NewController creates a controller. A non-positive window is treated as 1.
func NewController(cfg Config) *Controller {
	if cfg.Window <= 0 {
		cfg.Window = 1
	}
	return &Controller{
		cfg:     cfg,
		samples: make([]time.Duration, cfg.Window),
	}
}

// RecordLatency folds a new sample into the window.
func (c *Controller) RecordLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}

	c.mu.Lock()
	if c.filled == len(c.samples) {
		c.sum -= c.samples[c.next]
	} else {
		c.filled++
	}
	c.samples[c.next] = d
	c.sum += d
	c.next = (c.next + 1) % len(c.samples)
	state := c.stateLocked()
	c.mu.Unlock()

	metrics.BackpressureState.Set(float64(state))
}

// Average returns the rolling average, zero when no samples were recorded.
func (c *Controller) Average() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.averageLocked()
}

// State compares the rolling average against the thresholds.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Delay is the recommended pause before pulling more broker messages.
func (c *Controller) Delay() time.Duration {
	switch c.State() {
	case StateCritical:
		return c.cfg.CriticalDelay
	case StateElevated:
		return c.cfg.ElevatedDelay
	default:
		return 0
	}
}

// SleepMillis is Delay in whole milliseconds.
func (c *Controller) SleepMillis() int64 {
	return c.Delay().Milliseconds()
}

func (c *Controller) averageLocked() time.Duration {
	if c.filled == 0 {
		return 0
	}
	return c.sum / time.Duration(c.filled)
}

func (c *Controller) stateLocked() State {
	avg := c.averageLocked()
	switch {
	case avg >= c.cfg.CriticalThreshold:
		return StateCritical
	case avg >= c.cfg.ElevatedThreshold:
		return StateElevated
	default:
		return StateNormal
	}
}
