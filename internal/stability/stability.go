// Package stability implements the Stability Control: cooldown and
// hysteresis guards that suppress precision/profile thrashing under
// oscillating memory pressure.
package stability

import (
	"sync"
	"time"
)

// Config tunes cooldown and hysteresis thresholds.
type Config struct {
	Cooldown     time.Duration
	HysteresisMB uint64
}

// Defaults returns the spec-mandated defaults: 5s cooldown, 512MB hysteresis.
func Defaults() Config {
	return Config{Cooldown: 5 * time.Second, HysteresisMB: 512}
}

// Control holds the mutable stability state. These are decision inputs for
// the scheduler, not hard guards; the scheduler consults Control when
// deciding whether to adjust precision downward under pressure.
type Control struct {
	mu sync.Mutex

	cfg Config

	hasLastSwitch bool
	lastSwitch    time.Time

	hasLastReading bool
	lastReadingMB  uint64

	now func() time.Time
}

// New creates a Control with the given configuration.
func New(cfg Config) *Control {
	return &Control{cfg: cfg, now: time.Now}
}

// CanSwitch reports true iff no switch has been recorded yet, or the
// cooldown has elapsed since the last one.
func (c *Control) CanSwitch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLastSwitch {
		return true
	}
	return c.now().Sub(c.lastSwitch) >= c.cfg.Cooldown
}

// RecordSwitch marks now as the last switch instant.
func (c *Control) RecordSwitch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSwitch = c.now()
	c.hasLastSwitch = true
}

// IsSignificantChange reports true iff no reading has been recorded yet, or
// currentMB differs from the last recorded reading by at least the
// hysteresis threshold.
func (c *Control) IsSignificantChange(currentMB uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLastReading {
		return true
	}
	return absDelta(currentMB, c.lastReadingMB) >= c.cfg.HysteresisMB
}

// UpdateReading records currentMB as the last observed reading.
func (c *Control) UpdateReading(currentMB uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastReadingMB = currentMB
	c.hasLastReading = true
}

func absDelta(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
